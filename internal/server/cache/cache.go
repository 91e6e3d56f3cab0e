// Package cache memoizes translation option lookups in Redis. Concurrent
// misses on the same key are collapsed into one computation. Every key
// embeds a generation number that is bumped whenever the index commits a
// batch, so entries computed before an update are never served after it.
package cache

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/resilience"
)

const (
	keyPrefix     = "pt:options:"
	generationKey = "pt:generation"
)

// Store is the key-value surface the cache runs on; *pkgredis.Client
// implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// OptionCache is safe for concurrent use.
type OptionCache struct {
	client     Store
	cfg        config.RedisConfig
	group      singleflight.Group
	breaker    *resilience.CircuitBreaker
	generation atomic.Int64
	recorder   metrics.Recorder
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
}

// New creates a cache on client and loads the shared generation counter.
func New(ctx context.Context, client Store, cfg config.RedisConfig, recorder metrics.Recorder) *OptionCache {
	c := &OptionCache{
		client:   client,
		cfg:      cfg,
		recorder: metrics.OrNop(recorder),
		logger:   slog.Default().With("component", "option-cache"),
		breaker: resilience.NewCircuitBreaker("redis-option-cache", resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			IsFailure:        isStoreFailure,
		}),
	}
	if gen, err := client.GetInt(ctx, generationKey); err == nil {
		c.generation.Store(gen)
	} else {
		c.logger.Warn("reading cache generation failed", "error", err)
	}
	return c
}

// Options returns the cached options of phrase under domains, computing and
// storing them on a miss.
func (c *OptionCache) Options(
	ctx context.Context,
	phrase []model.Wid,
	domains model.Context,
	compute func(context.Context) []model.TranslationOption,
) ([]model.TranslationOption, bool) {
	key := c.buildKey("phrase", phrase, domains)
	return getOrCompute(ctx, c, key, compute)
}

// AllOptions is Options for a whole sentence.
func (c *OptionCache) AllOptions(
	ctx context.Context,
	sentence []model.Wid,
	domains model.Context,
	compute func(context.Context) map[string][]model.TranslationOption,
) (map[string][]model.TranslationOption, bool) {
	key := c.buildKey("sentence", sentence, domains)
	return getOrCompute(ctx, c, key, compute)
}

// getOrCompute serves key from Redis or runs compute once for all concurrent
// callers. The shared computation runs detached from the caller that
// started it; a caller whose context ends stops waiting and gets the zero
// value without affecting the others.
func getOrCompute[T any](ctx context.Context, c *OptionCache, key string, compute func(context.Context) T) (T, bool) {
	if v, ok := get[T](ctx, c, key); ok {
		return v, true
	}
	ch := c.group.DoChan(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if v, ok := get[T](shared, c, key); ok {
			return v, nil
		}
		v := compute(shared)
		c.set(shared, key, v)
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val.(T), false
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// isStoreFailure counts only errors that say something about Redis. A miss
// or a caller giving up is not a reason to open the circuit.
func isStoreFailure(err error) bool {
	switch {
	case err == nil, pkgredis.IsNilError(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func get[T any](ctx context.Context, c *OptionCache, key string) (T, bool) {
	var v T
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		return err
	})
	if err != nil {
		switch {
		case pkgredis.IsNilError(err):
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.logger.Debug("cache bypassed", "key", key, "error", err)
		default:
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return v, false
	}
	c.hits.Add(1)
	c.recorder.CacheHit()
	return v, true
}

func (c *OptionCache) miss() {
	c.misses.Add(1)
	c.recorder.CacheMiss()
}

func (c *OptionCache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.cfg.CacheTTL)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate retires every entry by advancing the generation, then deletes
// the retired keys.
func (c *OptionCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, generationKey)
	if err != nil {
		c.generation.Add(1)
		return fmt.Errorf("advancing cache generation: %w", err)
	}
	c.generation.Store(gen)
	deleted, err := c.client.DeleteByPrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "generation", gen, "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counts of this process.
func (c *OptionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// CircuitState reports whether Redis calls are currently let through.
func (c *OptionCache) CircuitState() resilience.State {
	return c.breaker.State()
}

func (c *OptionCache) buildKey(kind string, phrase []model.Wid, domains model.Context) string {
	hash := sha256.Sum256([]byte(normalize(kind, phrase, domains)))
	return fmt.Sprintf("%s%d:%x", keyPrefix, c.generation.Load(), hash[:16])
}

// normalize renders a lookup canonically: context entries are ordered by
// domain so that equivalent mixtures share a key.
func normalize(kind string, phrase []model.Wid, domains model.Context) string {
	entries := slices.Clone(domains)
	slices.SortFunc(entries, func(a, b model.ContextEntry) int {
		if c := cmp.Compare(a.Domain, b.Domain); c != 0 {
			return c
		}
		return cmp.Compare(a.Weight, b.Weight)
	})
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('|')
	sb.WriteString(model.PhraseKey(phrase))
	sb.WriteByte('|')
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(e.Domain), 10))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatFloat(float64(e.Weight), 'g', -1, 32))
	}
	return sb.String()
}
