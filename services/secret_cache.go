package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/mediashield/go-secure-media-server/global"
	"github.com/mediashield/go-secure-media-server/types"
	"golang.org/x/sync/singleflight"
)

type cacheState int

const (
	cacheIdle cacheState = iota
	cacheRefreshing
)

// fetchTimeout bounds a shared fetch, which outlives the caller that started it.
const fetchTimeout = 30 * time.Second

// secretCache memoizes a remote value for ttl. While a refresh is in flight callers holding
// a previous value get it back immediately; cold callers share the single fetch.
type secretCache[T any] struct {
	name  string
	ttl   time.Duration
	fetch func(ctx context.Context) (T, error)
	now   func() time.Time
	group singleflight.Group

	mu       sync.Mutex
	state    cacheState
	value    T
	hasValue bool
	fetched  time.Time
}

func newSecretCache[T any](name string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) *secretCache[T] {
	return &secretCache[T]{name: name, ttl: ttl, fetch: fetch, now: time.Now}
}

func (c *secretCache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.hasValue && (c.state == cacheRefreshing || c.now().Sub(c.fetched) < c.ttl) {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.state = cacheRefreshing
	c.mu.Unlock()

	res, err, _ := c.group.Do(c.name, func() (interface{}, error) {
		// waiters share this fetch, so the first caller going away must not fail it for them
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		v, err := c.fetch(fctx)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.state = cacheIdle
		if err != nil {
			return nil, err
		}
		c.value, c.hasValue, c.fetched = v, true, c.now()
		return v, nil
	})
	if err != nil {
		c.mu.Lock()
		stale, ok := c.value, c.hasValue
		c.mu.Unlock()
		if ok {
			level.Warn(global.Logger).Log("msg", "secret refresh failed, serving cached value", "name", c.name, "error", err)
			return stale, nil
		}
		var zero T
		return zero, fmt.Errorf("%w: %s: %w", types.ErrNoSecret, c.name, err)
	}
	return res.(T), nil
}

// Invalidate forces the next Get to refresh. The last value is still served if that refresh fails.
func (c *secretCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = time.Time{}
}
