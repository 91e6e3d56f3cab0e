package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

type fakeApplier struct {
	mu        sync.Mutex
	batches   [][]model.Update
	watermark map[model.Stream]model.Seq
	failures  int
	reject    func(model.Update) bool
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{watermark: make(map[model.Stream]model.Seq)}
}

func (f *fakeApplier) Apply(updates []model.Update) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("disk full")
	}
	for _, u := range updates {
		if f.reject != nil && f.reject(u) {
			return 0, fmt.Errorf("%w: record of stream %d too large", apperrors.ErrInvalidInput, u.ID.Stream)
		}
	}
	f.batches = append(f.batches, updates)
	for _, u := range updates {
		f.watermark[u.ID.Stream] = max(f.watermark[u.ID.Stream], u.ID.Seq)
	}
	return len(updates), nil
}

func (f *fakeApplier) Watermark(s model.Stream) model.Seq {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq, ok := f.watermark[s]; ok {
		return seq
	}
	return model.SeqUnset
}

func (f *fakeApplier) applied() []model.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Update
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func testConfig(bufferSize int, delay time.Duration) config.PhraseTableConfig {
	cfg := config.DefaultPhraseTable("unused")
	cfg.UpdateBufferSize = bufferSize
	cfg.UpdateMaxDelay = delay
	return cfg
}

func update(stream model.Stream, seq model.Seq) model.Update {
	return model.Update{
		ID:        model.UpdateID{Stream: stream, Seq: seq},
		Domain:    1,
		Source:    []model.Wid{5, 12},
		Target:    []model.Wid{40},
		Alignment: model.Alignment{{Source: 1, Target: 0}, {Source: 0, Target: 0}, {Source: 0, Target: 0}},
	}
}

func TestAddDropsStaleSequences(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(100, time.Hour), nil)

	require.NoError(t, m.Add(update(7, 10)))
	require.NoError(t, m.Add(update(7, 9)))
	require.NoError(t, m.Add(update(7, 10)))
	require.NoError(t, m.Add(update(8, 0)))
	assert.Equal(t, 2, m.BufferLen())

	require.NoError(t, m.Flush(context.Background()))
	require.NoError(t, m.Add(update(7, 10)))
	assert.Zero(t, m.BufferLen())

	applied := f.applied()
	require.Len(t, applied, 2)
	assert.Equal(t, model.UpdateID{Stream: 7, Seq: 10}, applied[0].ID)
	assert.Equal(t, model.UpdateID{Stream: 8, Seq: 0}, applied[1].ID)
}

func TestAddNormalizesAlignment(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(100, time.Hour), nil)
	require.NoError(t, m.Add(update(1, 1)))
	require.NoError(t, m.Flush(context.Background()))

	applied := f.applied()
	require.Len(t, applied, 1)
	assert.Equal(t, model.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 0}}, applied[0].Alignment)
}

func TestAddRejectsInvalidUpdates(t *testing.T) {
	m := NewManager(newFakeApplier(), testConfig(100, time.Hour), nil)

	u := update(1, 1)
	u.Alignment = model.Alignment{{Source: 2, Target: 0}}
	assert.ErrorIs(t, m.Add(u), apperrors.ErrInvalidInput)

	u = update(1, -3)
	assert.ErrorIs(t, m.Add(u), apperrors.ErrInvalidInput)
	assert.Zero(t, m.BufferLen())
}

func TestFlushFailureRequeuesAtHead(t *testing.T) {
	f := newFakeApplier()
	f.failures = 10
	m := NewManager(f, testConfig(100, time.Hour), nil)
	m.retry.MaxAttempts = 2
	m.retry.InitialDelay = time.Millisecond

	require.NoError(t, m.Add(update(1, 1)))
	require.NoError(t, m.Add(update(1, 2)))
	require.Error(t, m.Flush(context.Background()))
	assert.Equal(t, 2, m.BufferLen())

	require.NoError(t, m.Add(update(1, 3)))
	f.mu.Lock()
	f.failures = 0
	f.mu.Unlock()
	require.NoError(t, m.Flush(context.Background()))

	var seqs []model.Seq
	for _, u := range f.applied() {
		seqs = append(seqs, u.ID.Seq)
	}
	assert.Equal(t, []model.Seq{1, 2, 3}, seqs)
}

func TestFlushHooks(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(100, time.Hour), nil)
	var got []int
	m.OnFlush(func(applied int) { got = append(got, applied) })

	require.NoError(t, m.Flush(context.Background()))
	require.NoError(t, m.Add(update(1, 1)))
	require.NoError(t, m.Add(update(2, 1)))
	require.NoError(t, m.Flush(context.Background()))
	assert.Equal(t, []int{2}, got)
}

func TestBufferSizeTriggersFlush(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(3, time.Hour), nil)
	m.Start(context.Background())
	defer m.Close()

	for seq := model.Seq(1); seq <= 3; seq++ {
		require.NoError(t, m.Add(update(1, seq)))
	}
	assert.Eventually(t, func() bool { return len(f.applied()) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestMaxDelayTriggersFlush(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(1000, 20*time.Millisecond), nil)
	m.Start(context.Background())
	defer m.Close()

	require.NoError(t, m.Add(update(1, 1)))
	assert.Eventually(t, func() bool { return len(f.applied()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseFlushesAndRejects(t *testing.T) {
	f := newFakeApplier()
	m := NewManager(f, testConfig(1000, time.Hour), nil)
	m.Start(context.Background())

	require.NoError(t, m.Add(update(1, 1)))
	require.NoError(t, m.Close())
	assert.Len(t, f.applied(), 1)
	assert.ErrorIs(t, m.Add(update(1, 2)), apperrors.ErrClosed)
	require.NoError(t, m.Close())
}

func TestRejectedUpdateDoesNotBlockOthers(t *testing.T) {
	f := newFakeApplier()
	f.reject = func(u model.Update) bool { return u.ID.Stream == 1 }
	m := NewManager(f, testConfig(100, time.Hour), nil)
	m.retry.InitialDelay = time.Millisecond
	var hooked []int
	m.OnFlush(func(applied int) { hooked = append(hooked, applied) })

	require.NoError(t, m.Add(update(1, 1)))
	require.NoError(t, m.Add(update(2, 1)))
	require.NoError(t, m.Add(update(2, 2)))
	require.NoError(t, m.Flush(context.Background()))

	assert.Zero(t, m.BufferLen())
	assert.Equal(t, model.Seq(2), f.Watermark(2))
	assert.Equal(t, model.SeqUnset, f.Watermark(1))
	assert.Equal(t, []int{2}, hooked)

	require.NoError(t, m.Flush(context.Background()))
	assert.Len(t, f.applied(), 2)
}

func TestAddRejectsOversizedSentence(t *testing.T) {
	m := NewManager(newFakeApplier(), testConfig(100, time.Hour), nil)
	u := update(1, 1)
	u.Source = make([]model.Wid, model.MaxSentenceLength+1)
	assert.ErrorIs(t, m.Add(u), apperrors.ErrInvalidInput)
	assert.Zero(t, m.BufferLen())
}
