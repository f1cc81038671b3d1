package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL keeps scrape results around long enough for retries
// and fan-out without serving stale pages for hours.
const DefaultCacheTTL = 15 * time.Minute

// Cache stores successful scrape results in redis, keyed by URL plus
// the options that change the output.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache wraps an existing redis client. ttl <= 0 uses the default.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(req Request) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%v|%v", req.URL, req.ForceTier, req.MainOnly, req.CaptureJSON)))
	return "auspex:scrape:v1:" + hex.EncodeToString(sum[:])
}

// Get returns a cached result for the request, if any. Redis errors
// degrade to a miss.
func (c *Cache) Get(ctx context.Context, req Request) (*Result, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(req)).Bytes()
	if err != nil {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false
	}
	return &res, true
}

// Set stores a successful result. Failures are ignored; the cache is
// best-effort.
func (c *Cache) Set(ctx context.Context, req Request, res *Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, cacheKey(req), raw, c.ttl)
}
