// Package update buffers incoming sentence-pair updates, drops stale ones
// per stream, and flushes them into the index in batches when the buffer
// fills up or its oldest entry has waited long enough.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/resilience"
)

// Applier commits a batch atomically. *index.Index implements it.
type Applier interface {
	Apply(updates []model.Update) (int, error)
	Watermark(s model.Stream) model.Seq
}

// FlushHook is called after every flush that applied at least one record,
// with the number of records applied.
type FlushHook func(applied int)

// Manager is safe for concurrent use. Flushes are serialized.
type Manager struct {
	applier    Applier
	bufferSize int
	maxDelay   time.Duration
	retry      resilience.RetryConfig
	recorder   metrics.Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	buffer  []model.Update
	oldest  time.Time
	pending map[model.Stream]model.Seq
	hooks   []FlushHook
	closed  bool

	flushMu sync.Mutex
	kick    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a Manager that flushes into applier according to the
// buffer size and max delay in cfg.
func NewManager(applier Applier, cfg config.PhraseTableConfig, recorder metrics.Recorder) *Manager {
	bufferSize := cfg.UpdateBufferSize
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	maxDelay := cfg.UpdateMaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	return &Manager{
		applier:    applier,
		bufferSize: bufferSize,
		maxDelay:   maxDelay,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Permanent:    permanent,
		},
		recorder: metrics.OrNop(recorder),
		logger:   slog.Default().With("component", "update-manager"),
		buffer:   make([]model.Update, 0, min(bufferSize, 1024)),
		pending:  make(map[model.Stream]model.Seq),
		kick:     make(chan struct{}, 1),
	}
}

// OnFlush registers a hook run after each committed flush.
func (m *Manager) OnFlush(hook FlushHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Add buffers an update and returns without waiting for it to be applied.
// An update whose sequence id is not above the last applied or buffered one
// of its stream is dropped silently.
func (m *Manager) Add(u model.Update) error {
	if err := validate(&u); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperrors.ErrClosed
	}
	m.recorder.UpdateReceived()
	last := m.applier.Watermark(u.ID.Stream)
	if seq, ok := m.pending[u.ID.Stream]; ok && seq > last {
		last = seq
	}
	if u.ID.Seq <= last {
		m.mu.Unlock()
		m.recorder.UpdateDropped("duplicate")
		m.logger.Debug("dropping stale update",
			"stream", u.ID.Stream,
			"seq", u.ID.Seq,
			"last", last,
		)
		return nil
	}
	m.pending[u.ID.Stream] = u.ID.Seq
	if len(m.buffer) == 0 {
		m.oldest = time.Now()
	}
	m.buffer = append(m.buffer, u)
	n := len(m.buffer)
	m.mu.Unlock()

	if n == 1 || n >= m.bufferSize {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func validate(u *model.Update) error {
	if u.ID.Seq < 0 {
		return fmt.Errorf("%w: negative sequence id %d", apperrors.ErrInvalidInput, u.ID.Seq)
	}
	if len(u.Source) > model.MaxSentenceLength || len(u.Target) > model.MaxSentenceLength {
		return fmt.Errorf("%w: sentence pair of %dx%d tokens exceeds %d",
			apperrors.ErrInvalidInput, len(u.Source), len(u.Target), model.MaxSentenceLength)
	}
	u.Alignment = u.Alignment.Normalize()
	for _, p := range u.Alignment {
		if int(p.Source) >= len(u.Source) || int(p.Target) >= len(u.Target) {
			return fmt.Errorf("%w: alignment point %d-%d outside %dx%d sentence pair",
				apperrors.ErrInvalidInput, p.Source, p.Target, len(u.Source), len(u.Target))
		}
	}
	return nil
}

// permanent reports failures that a retry of the same batch cannot fix.
func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrClosed) || errors.Is(err, apperrors.ErrInvalidInput)
}

// Start launches the background flush loop. Close stops it.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	m.logger.Info("update manager started",
		"buffer_size", m.bufferSize,
		"max_delay", m.maxDelay,
	)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	timer := time.NewTimer(m.maxDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.Flush(flushCtx); err != nil {
				m.logger.Error("final flush failed", "error", err)
			}
			cancel()
			return
		case <-m.kick:
		case <-timer.C:
		}
		if wait := m.due(); wait <= 0 {
			if err := m.Flush(ctx); err != nil {
				m.logger.Error("flush failed, updates re-queued", "error", err)
			}
		}
		timer.Reset(m.nextWait())
	}
}

// due reports how long until the buffer must be flushed; zero or negative
// means now.
func (m *Manager) due() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case len(m.buffer) == 0:
		return m.maxDelay
	case len(m.buffer) >= m.bufferSize:
		return 0
	}
	return m.maxDelay - time.Since(m.oldest)
}

func (m *Manager) nextWait() time.Duration {
	if wait := m.due(); wait > 0 {
		return wait
	}
	return time.Millisecond
}

// Flush applies everything buffered so far. A batch the index rejects as
// invalid is re-applied one update at a time and the rejected updates are
// dropped. On any other failure, after retries, the batch is put back at the
// head of the buffer.
func (m *Manager) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	if len(m.buffer) == 0 {
		m.mu.Unlock()
		return nil
	}
	batch := m.buffer
	size := len(batch)
	oldest := m.oldest
	m.buffer = make([]model.Update, 0, min(m.bufferSize, 1024))
	hooks := m.hooks
	m.mu.Unlock()

	var applied int
	err := resilience.Retry(ctx, "apply-updates", m.retry, func() error {
		var err error
		applied, err = m.applier.Apply(batch)
		return err
	})
	if errors.Is(err, apperrors.ErrInvalidInput) {
		var rest []model.Update
		applied, rest, err = m.applyEach(batch)
		batch = rest
	}
	if applied > 0 {
		for _, h := range hooks {
			h(applied)
		}
	}
	if err != nil {
		m.mu.Lock()
		m.buffer = append(batch, m.buffer...)
		m.oldest = oldest
		m.mu.Unlock()
		m.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		return fmt.Errorf("flushing %d updates: %w", len(batch), err)
	}

	m.logger.Debug("batch flushed", "updates", size, "applied", applied)
	return nil
}

// applyEach applies batch update by update, dropping those rejected as
// invalid. It stops at the first other failure and returns the updates not
// yet applied.
func (m *Manager) applyEach(batch []model.Update) (int, []model.Update, error) {
	applied := 0
	for i, u := range batch {
		n, err := m.applier.Apply([]model.Update{u})
		switch {
		case err == nil:
			applied += n
		case errors.Is(err, apperrors.ErrInvalidInput):
			m.recorder.UpdateDropped("invalid")
			m.logger.Warn("dropping update rejected by index",
				"stream", u.ID.Stream,
				"seq", u.ID.Seq,
				"error", err,
			)
		default:
			return applied, batch[i:], err
		}
	}
	return applied, nil, nil
}

// Watermark returns the last applied sequence id of s, or SeqUnset.
func (m *Manager) Watermark(s model.Stream) model.Seq {
	return m.applier.Watermark(s)
}

// BufferLen returns the number of buffered updates.
func (m *Manager) BufferLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Close stops accepting updates, stops the flush loop and flushes what is
// left. Without a running loop it flushes directly.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
		if m.BufferLen() == 0 {
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.Flush(ctx)
}
