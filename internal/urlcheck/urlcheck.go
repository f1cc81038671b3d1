// Package urlcheck enforces the outbound URL policy: protocol and host
// restrictions, private-address blocking, allow/block domain lists, and
// DNS-rebinding protection. Every navigation target and every scrape
// request passes through Validate before any network activity.
package urlcheck

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError describes why a URL was rejected. It is the only error
// type returned by Validate.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("url validation failed for %q: %s", e.URL, e.Reason)
}

// Options carries the runtime allow/block domain lists. An empty allow
// list permits every public host; entries match exactly or as a
// "*.entry" suffix.
type Options struct {
	AllowedDomains []string
	BlockedDomains []string

	// Resolver overrides DNS lookups for the rebinding check; nil uses
	// the system resolver.
	Resolver Resolver
}

// Resolver is the subset of net.Resolver used for rebinding checks.
// Swappable in tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var defaultResolver Resolver = net.DefaultResolver

// Validate applies the full policy in order and returns the canonical
// string form of the URL. Any failure short-circuits with a
// *ValidationError; a partially validated URL is never returned.
func Validate(ctx context.Context, raw string, opts Options) (string, error) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = defaultResolver
	}
	return validateWith(ctx, raw, opts, resolver)
}

func validateWith(ctx context.Context, raw string, opts Options, resolver Resolver) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{URL: raw, Reason: "not a parseable URL"}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("protocol %q is not allowed (only http and https)", u.Scheme)}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &ValidationError{URL: raw, Reason: "missing hostname"}
	}
	if host == "localhost" || host == "::1" {
		return "", &ValidationError{URL: raw, Reason: "localhost is not allowed"}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("IP %s is in a private or reserved range", ip)}
		}
	}

	if len(opts.AllowedDomains) > 0 && !matchesAny(host, opts.AllowedDomains) {
		return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("host %q is not in the allowed domain list", host)}
	}
	if matchesAny(host, opts.BlockedDomains) {
		return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("host %q is blocked", host)}
	}

	// DNS rebinding protection: resolve now and verify every address is
	// public. Resolution failure fails closed.
	if net.ParseIP(host) == nil {
		addrs, err := resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("DNS resolution failed: %v", err)}
		}
		for _, addr := range addrs {
			if isPrivateIP(addr.IP) {
				return "", &ValidationError{URL: raw, Reason: fmt.Sprintf("host %q resolves to private address %s", host, addr.IP)}
			}
		}
	}

	return u.String(), nil
}

// matchesAny reports whether host equals an entry or is a subdomain of
// one ("example.com" matches both "example.com" and "a.example.com").
func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

var privateV4Blocks = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"192.168.0.0/16",
	"172.16.0.0/12",
	"169.254.0.0/16",
	"0.0.0.0/8",
)

var privateV6Blocks = mustParseCIDRs(
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// isPrivateIP reports whether ip falls into any loopback, RFC1918,
// link-local, or otherwise reserved range. IPv4-mapped IPv6 addresses
// (::ffff:10.0.0.1) are checked against the IPv4 ranges.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range privateV4Blocks {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}
	for _, n := range privateV6Blocks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
