package exchange

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// rateCache keeps the last current-rates response for a TTL. Concurrent
// misses share one upstream fetch.
type rateCache struct {
	ttl time.Duration
	now func() time.Time
	// bounds the shared fetch, which outlives the caller that started it
	fetchTimeout time.Duration

	mu      sync.Mutex
	rates   []Rate
	fetched time.Time

	group singleflight.Group
}

func newRateCache(ttl, fetchTimeout time.Duration, now func() time.Time) *rateCache {
	return &rateCache{ttl: ttl, fetchTimeout: fetchTimeout, now: now}
}

// get returns cached rates or calls fetch. hit reports whether the upstream
// was skipped. A caller whose ctx ends stops waiting without cancelling the
// fetch for the others.
func (c *rateCache) get(ctx context.Context, fetch func(context.Context) ([]Rate, error)) (rates []Rate, hit bool, err error) {
	if c.ttl <= 0 {
		rates, err = fetch(ctx)
		return rates, false, err
	}

	c.mu.Lock()
	if c.rates != nil && c.now().Sub(c.fetched) < c.ttl {
		rates = c.rates
		c.mu.Unlock()
		return rates, true, nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan("current", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		rates, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.rates = rates
		c.fetched = c.now()
		c.mu.Unlock()
		return rates, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]Rate), false, nil
	}
}
