package urlcheck

import (
	"context"
	"errors"
	"net"
	"testing"
)

// fakeResolver returns a fixed set of addresses (or an error) for every
// lookup so tests do not depend on live DNS.
type fakeResolver struct {
	addrs []net.IPAddr
	err   error
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return f.addrs, f.err
}

func publicResolver() Resolver {
	return &fakeResolver{addrs: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
}

func TestValidateAcceptsPublicHost(t *testing.T) {
	got, err := validateWith(context.Background(), "https://example.com/", Options{}, publicResolver())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "https://example.com/" {
		t.Fatalf("canonical = %q", got)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []string{
		"http://127.0.0.1",
		"http://10.0.0.1",
		"http://192.168.1.1",
		"http://172.16.0.1",
		"http://172.31.0.1",
		"http://169.254.169.254",
		"http://0.0.0.0",
		"http://localhost",
		"http://[::1]",
		"http://[::ffff:127.0.0.1]",
		"http://[fc00::1]",
		"http://[fe80::1]",
		"javascript:alert(1)",
		"file:///etc/passwd",
		"data:text/html,x",
		"ftp://host",
		"https://",
	}
	for _, raw := range cases {
		if _, err := validateWith(context.Background(), raw, Options{}, publicResolver()); err == nil {
			t.Fatalf("expected rejection for %q", raw)
		} else {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("%q: expected *ValidationError, got %T", raw, err)
			}
		}
	}
}

func TestValidateRebindingProtection(t *testing.T) {
	// Hostname resolving to a private address must be rejected.
	res := &fakeResolver{addrs: []net.IPAddr{{IP: net.ParseIP("10.1.2.3")}}}
	if _, err := validateWith(context.Background(), "https://internal.example.com/", Options{}, res); err == nil {
		t.Fatal("expected rejection for private DNS result")
	}

	// Resolution failure fails closed.
	res = &fakeResolver{err: errors.New("no such host")}
	if _, err := validateWith(context.Background(), "https://nxdomain.example.com/", Options{}, res); err == nil {
		t.Fatal("expected rejection on DNS failure")
	}
}

func TestValidateAllowBlockLists(t *testing.T) {
	ctx := context.Background()
	res := publicResolver()

	opts := Options{AllowedDomains: []string{"example.com"}}
	if _, err := validateWith(ctx, "https://example.com/x", opts, res); err != nil {
		t.Fatalf("allow exact match failed: %v", err)
	}
	if _, err := validateWith(ctx, "https://sub.example.com/x", opts, res); err != nil {
		t.Fatalf("allow suffix match failed: %v", err)
	}
	if _, err := validateWith(ctx, "https://other.com/x", opts, res); err == nil {
		t.Fatal("expected rejection for host outside allow list")
	}

	opts = Options{BlockedDomains: []string{"bad.com"}}
	if _, err := validateWith(ctx, "https://bad.com/", opts, res); err == nil {
		t.Fatal("expected rejection for blocked host")
	}
	if _, err := validateWith(ctx, "https://a.bad.com/", opts, res); err == nil {
		t.Fatal("expected rejection for blocked subdomain")
	}
}

func TestValidateIdempotent(t *testing.T) {
	res := publicResolver()
	first, err := validateWith(context.Background(), "https://example.com/path?q=1", Options{}, res)
	if err != nil {
		t.Fatalf("first validate: %v", err)
	}
	second, err := validateWith(context.Background(), first, Options{}, res)
	if err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if first != second {
		t.Fatalf("validate not idempotent: %q != %q", first, second)
	}
}
