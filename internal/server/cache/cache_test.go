package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/resilience"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	gen  int64
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Incr(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen, nil
}

func (s *memStore) GetInt(_ context.Context, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen, nil
}

func (s *memStore) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func TestNormalizeOrdersContext(t *testing.T) {
	a := normalize("phrase", []model.Wid{5, 12}, model.Context{{Domain: 2, Weight: 0.5}, {Domain: 1, Weight: 1}})
	b := normalize("phrase", []model.Wid{5, 12}, model.Context{{Domain: 1, Weight: 1}, {Domain: 2, Weight: 0.5}})
	assert.Equal(t, a, b)
	assert.Equal(t, "phrase|5,12|1:1,2:0.5", a)
}

func TestNormalizeDistinguishesLookups(t *testing.T) {
	base := normalize("phrase", []model.Wid{5, 12}, nil)
	assert.NotEqual(t, base, normalize("sentence", []model.Wid{5, 12}, nil))
	assert.NotEqual(t, base, normalize("phrase", []model.Wid{5, 13}, nil))
	assert.NotEqual(t, base, normalize("phrase", []model.Wid{5, 12}, model.Context{{Domain: 1, Weight: 1}}))
}

func TestKeyEmbedsGeneration(t *testing.T) {
	c := &OptionCache{}
	k0 := c.buildKey("phrase", []model.Wid{5}, nil)
	c.generation.Store(3)
	k3 := c.buildKey("phrase", []model.Wid{5}, nil)
	assert.NotEqual(t, k0, k3)
	assert.Contains(t, k3, keyPrefix+"3:")
}

func TestOptionsComputesOnceThenHits(t *testing.T) {
	c := New(context.Background(), newMemStore(), config.RedisConfig{CacheTTL: time.Minute}, nil)
	want := []model.TranslationOption{{TargetPhrase: []model.Wid{40}, Count: 2}}
	calls := 0
	compute := func(context.Context) []model.TranslationOption {
		calls++
		return want
	}

	got, hit := c.Options(context.Background(), []model.Wid{5}, nil, compute)
	assert.False(t, hit)
	assert.Equal(t, want, got)
	got, hit = c.Options(context.Background(), []model.Wid{5}, nil, compute)
	assert.True(t, hit)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.Invalidate(context.Background()))
	_, hit = c.Options(context.Background(), []model.Wid{5}, nil, compute)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestCancelledCallerDoesNotSpoilSharedLookup(t *testing.T) {
	store := newMemStore()
	c := New(context.Background(), store, config.RedisConfig{CacheTTL: time.Minute}, nil)
	want := []model.TranslationOption{{TargetPhrase: []model.Wid{40}, Count: 1}}

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) []model.TranslationOption {
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil
		}
		return want
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []model.TranslationOption)
	go func() {
		got, _ := c.Options(ctx, []model.Wid{5, 12}, nil, compute)
		done <- got
	}()
	<-started
	cancel()
	select {
	case got := <-done:
		assert.Empty(t, got)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	require.Eventually(t, func() bool { return store.len() == 1 }, 5*time.Second, time.Millisecond)

	got, hit := c.Options(context.Background(), []model.Wid{5, 12}, nil, func(context.Context) []model.TranslationOption {
		t.Fatal("computed again")
		return nil
	})
	assert.True(t, hit)
	assert.Equal(t, want, got)
	assert.Equal(t, resilience.StateClosed, c.CircuitState())
}

func TestCallerCancellationDoesNotTripBreaker(t *testing.T) {
	c := New(context.Background(), newMemStore(), config.RedisConfig{CacheTTL: time.Minute}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 20; i++ {
		_, ok := get[[]model.TranslationOption](ctx, c, fmt.Sprintf("k%d", i))
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.StateClosed, c.CircuitState())
}

func TestIsStoreFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"miss", redis.Nil, false},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"connection", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isStoreFailure(tt.err))
		})
	}
}
