// Package cache provides the content-addressed result cache shared by the
// vision analyzer and the plan generator. Payloads are opaque bytes; keys
// come from keys.go so identical inputs land on identical entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss reports whether err is a cache miss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Cache is a byte-payload TTL store.
type Cache interface {
	// Get returns the payload for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores payload under key for ttl.
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Group adds single-flight computation on top of a Cache: concurrent
// callers of the same key share one execution of the compute function.
type Group struct {
	cache  Cache
	sf     singleflight.Group
	logger *zap.Logger

	// OnEvent, when set, receives "hit" / "miss" per lookup. Wired to
	// metrics by the caller.
	OnEvent func(event string)
}

// NewGroup wraps a Cache with single-flight semantics.
func NewGroup(cache Cache, logger *zap.Logger) *Group {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Group{
		cache:  cache,
		logger: logger.With(zap.String("component", "cache")),
	}
}

func (g *Group) event(name string) {
	if g.OnEvent != nil {
		g.OnEvent(name)
	}
}

// GetOrCompute returns the cached payload for key, computing and storing
// it on miss. The second return reports whether the payload came from the
// cache. Compute errors are returned and never cached.
func (g *Group) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	payload, err := g.cache.Get(ctx, key)
	if err == nil {
		g.event("hit")
		return payload, true, nil
	}
	if !IsCacheMiss(err) {
		// Backend trouble degrades to compute, it must not fail the run.
		g.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	g.event("miss")

	v, err, _ := g.sf.Do(key, func() (any, error) {
		// A concurrent winner may have stored the entry between our miss
		// and this execution.
		if payload, err := g.cache.Get(ctx, key); err == nil {
			return payload, nil
		}

		payload, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if putErr := g.cache.Put(ctx, key, payload, ttl); putErr != nil {
			g.logger.Warn("cache put failed", zap.String("key", key), zap.Error(putErr))
		}
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// GetOrComputeJSON is the typed variant of GetOrCompute; payloads are
// JSON-encoded. A corrupt cached payload is dropped and recomputed.
func GetOrComputeJSON[T any](ctx context.Context, g *Group, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	payload, cached, err := g.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache payload: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		g.logger.Warn("corrupt cache payload dropped", zap.String("key", key), zap.Error(err))
		_ = g.cache.Delete(ctx, key)
		v, ferr := fn(ctx)
		if ferr != nil {
			return zero, false, ferr
		}
		return v, false, nil
	}
	return out, cached, nil
}

// Tiered reads the local tier first and falls back to the remote tier,
// backfilling local on a remote hit. Writes go to both tiers.
type Tiered struct {
	local    Cache
	remote   Cache
	localTTL time.Duration
	logger   *zap.Logger
}

// NewTiered composes a local and a remote cache. localTTL bounds how long
// backfilled entries stay in the local tier.
func NewTiered(local, remote Cache, localTTL time.Duration, logger *zap.Logger) *Tiered {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{
		local:    local,
		remote:   remote,
		localTTL: localTTL,
		logger:   logger.With(zap.String("component", "tiered_cache")),
	}
}

// Get implements Cache.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, error) {
	if payload, err := t.local.Get(ctx, key); err == nil {
		return payload, nil
	}

	payload, err := t.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if backErr := t.local.Put(ctx, key, payload, t.localTTL); backErr != nil {
		t.logger.Warn("local backfill failed", zap.String("key", key), zap.Error(backErr))
	}
	return payload, nil
}

// Put implements Cache.
func (t *Tiered) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	localTTL := ttl
	if localTTL > t.localTTL {
		localTTL = t.localTTL
	}
	if err := t.local.Put(ctx, key, payload, localTTL); err != nil {
		t.logger.Warn("local put failed", zap.String("key", key), zap.Error(err))
	}
	return t.remote.Put(ctx, key, payload, ttl)
}

// Delete implements Cache.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	localErr := t.local.Delete(ctx, key)
	remoteErr := t.remote.Delete(ctx, key)
	if remoteErr != nil {
		return remoteErr
	}
	return localErr
}
