// Package backup copies committed model states to S3-compatible object
// storage and restores them. Segments are immutable and uploaded once; the
// corpus is uploaded up to its committed size; the manifest goes last and
// is the commit point of a backup, mirroring the on-disk commit protocol.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/resilience"
)

// ErrNotFound is returned by stores for missing objects.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the subset of an object storage API used for backups.
type ObjectStore interface {
	// Size returns the size of key, or ErrNotFound.
	Size(ctx context.Context, key string) (int64, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Source yields committed model states. *index.Index and
// *phrasetable.PhraseTable implement it.
type Source interface {
	Checkpoint() (*index.Checkpoint, error)
}

// Report summarises one backup run.
type Report struct {
	Uploaded    int           `json:"segments_uploaded"`
	Skipped     int           `json:"segments_skipped"`
	CorpusBytes int64         `json:"corpus_bytes"`
	Duration    time.Duration `json:"duration"`
}

// Manager runs backups of one index into one store location. Backups are
// serialized.
type Manager struct {
	store         ObjectStore
	prefix        string
	retry         resilience.RetryConfig
	objectTimeout time.Duration
	logger        *slog.Logger
	mu            sync.Mutex
}

// NewManager stores objects under prefix in store.
func NewManager(store ObjectStore, prefix string) *Manager {
	return &Manager{
		store:  store,
		prefix: prefix,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
		objectTimeout: 10 * time.Minute,
		logger:        slog.Default().With("component", "backup"),
	}
}

func (m *Manager) key(parts ...string) string {
	return path.Join(append([]string{m.prefix}, parts...)...)
}

// Backup uploads the current committed state of src.
func (m *Manager) Backup(ctx context.Context, src Source) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()

	cp, err := src.Checkpoint()
	if err != nil {
		return Report{}, err
	}
	defer cp.Release()

	var rep Report
	for _, seg := range cp.Segments {
		uploaded, err := m.uploadSegment(ctx, seg)
		if err != nil {
			return rep, err
		}
		if uploaded {
			rep.Uploaded++
		} else {
			rep.Skipped++
		}
	}

	if err := m.putFile(ctx, m.key(corpus.FileName), cp.CorpusPath, cp.CorpusSize); err != nil {
		return rep, fmt.Errorf("uploading corpus: %w", err)
	}
	rep.CorpusBytes = cp.CorpusSize

	err = m.put(ctx, m.key(index.ManifestName), int64(len(cp.Manifest)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(cp.Manifest)), nil
	})
	if err != nil {
		return rep, fmt.Errorf("uploading manifest: %w", err)
	}
	rep.Duration = time.Since(start)
	m.logger.Info("backup completed",
		"segments_uploaded", rep.Uploaded,
		"segments_skipped", rep.Skipped,
		"corpus_bytes", rep.CorpusBytes,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep, nil
}

func (m *Manager) uploadSegment(ctx context.Context, seg index.SegmentFile) (bool, error) {
	st, err := os.Stat(seg.Path)
	if err != nil {
		return false, fmt.Errorf("stat segment %s: %w", seg.Name, err)
	}
	key := m.key("segments", seg.Name)
	size, err := m.store.Size(ctx, key)
	switch {
	case err == nil && size == st.Size():
		return false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return false, fmt.Errorf("checking segment %s: %w", seg.Name, err)
	}
	if err := m.putFile(ctx, key, seg.Path, st.Size()); err != nil {
		return false, fmt.Errorf("uploading segment %s: %w", seg.Name, err)
	}
	m.logger.Debug("segment uploaded", "segment", seg.Name, "bytes", st.Size())
	return true, nil
}

// putFile uploads the first size bytes of the file at path.
func (m *Manager) putFile(ctx context.Context, key, path string, size int64) error {
	return m.put(ctx, key, size, func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		return sectionFile{io.NewSectionReader(f, 0, size), f}, nil
	})
}

type sectionFile struct {
	*io.SectionReader
	f *os.File
}

func (s sectionFile) Close() error { return s.f.Close() }

// put uploads one object with retries. open is called once per attempt.
func (m *Manager) put(ctx context.Context, key string, size int64, open func() (io.ReadCloser, error)) error {
	return resilience.Retry(ctx, "backup-put", m.retry, func() error {
		return resilience.WithTimeout(ctx, m.objectTimeout, "put "+key, func(ctx context.Context) error {
			rc, err := open()
			if err != nil {
				return err
			}
			defer rc.Close()
			return m.store.Put(ctx, key, rc, size)
		})
	})
}

// Restore downloads the latest backup into dir, which must not hold a
// model. The manifest is written last so that an interrupted restore leaves
// no model behind.
func (m *Manager) Restore(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, index.ManifestName)); err == nil {
		return fmt.Errorf("%w: %s already holds a model", apperrors.ErrInvalidInput, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	manifest, err := m.readAll(ctx, m.key(index.ManifestName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: no backup under %q", apperrors.ErrModelNotFound, m.prefix)
		}
		return err
	}
	names, err := index.ManifestSegments(manifest)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := m.download(ctx, m.key("segments", name), filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	if err := m.download(ctx, m.key(corpus.FileName), filepath.Join(dir, corpus.FileName)); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, index.ManifestName), manifest); err != nil {
		return err
	}
	m.logger.Info("restore completed", "dir", dir, "segments", len(names))
	return nil
}

func (m *Manager) readAll(ctx context.Context, key string) ([]byte, error) {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

func (m *Manager) download(ctx context.Context, key, dst string) error {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", key, err)
	}
	defer rc.Close()
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	defer os.Remove(tmp)
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("downloading %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func writeFileAtomic(dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, dst)
}

// StartLoop backs src up every interval until ctx is cancelled.
func (m *Manager) StartLoop(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Backup(ctx, src); err != nil {
					if errors.Is(err, apperrors.ErrClosed) {
						return
					}
					m.logger.Error("periodic backup failed", "error", err)
				}
			}
		}
	}()
}
