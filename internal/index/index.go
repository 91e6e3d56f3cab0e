// Package index implements the persistent prefix index: immutable segments
// of prefix keys to corpus locations, committed through a manifest and read
// through ref-counted point-in-time snapshots.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index/segment"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
)

// Stats summarises the committed state of the index.
type Stats struct {
	Segments   int   `json:"segments"`
	Keys       int   `json:"keys"`
	Locations  int   `json:"locations"`
	CorpusSize int64 `json:"corpus_size"`
	Streams    int   `json:"streams"`
}

// Index owns the corpus and the segment set. Apply and Merge are serialized
// by writeMu; readers only take viewMu briefly to acquire a Snapshot.
type Index struct {
	dir      string
	lock     *dirLock
	cfg      config.PhraseTableConfig
	corpus   *corpus.Storage
	writer   *segment.Writer
	recorder metrics.Recorder
	logger   *slog.Logger

	writeMu sync.Mutex

	viewMu   sync.RWMutex
	manifest *manifest
	segments []*segmentRef
	closed   bool
}

// Open opens the index at cfg.ModelPath. A missing model is fatal unless
// cfg.Create is set; a stored prefix length different from
// cfg.PrefixLength is fatal.
func Open(cfg config.PhraseTableConfig, recorder metrics.Recorder) (*Index, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: empty model path", apperrors.ErrInvalidInput)
	}
	dir := cfg.ModelPath
	logger := slog.Default().With("component", "index")

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat model path: %w", err)
		}
		if !cfg.Create {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrModelNotFound, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating model directory: %w", err)
		}
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}
	ix, err := openLocked(dir, cfg, recorder, logger)
	if err != nil {
		lock.release()
		return nil, err
	}
	ix.lock = lock
	return ix, nil
}

func openLocked(dir string, cfg config.PhraseTableConfig, recorder metrics.Recorder, logger *slog.Logger) (*Index, error) {
	m, err := loadManifest(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !cfg.Create {
			return nil, fmt.Errorf("%w: no manifest in %s", apperrors.ErrModelNotFound, dir)
		}
		m = newManifest(cfg.PrefixLength)
		if err := commitManifest(dir, m); err != nil {
			return nil, err
		}
		logger.Info("created new model", "path", dir, "prefix_length", cfg.PrefixLength)
	case err != nil:
		return nil, err
	}
	if m.PrefixLength != cfg.PrefixLength {
		return nil, fmt.Errorf("%w: model has %d, configured %d",
			apperrors.ErrPrefixMismatch, m.PrefixLength, cfg.PrefixLength)
	}

	store, err := corpus.Open(dir, m.CorpusSize)
	if err != nil {
		return nil, err
	}
	ix := &Index{
		dir:      dir,
		cfg:      cfg,
		corpus:   store,
		writer:   segment.NewWriter(dir),
		recorder: metrics.OrNop(recorder),
		logger:   logger,
		manifest: m,
	}
	if err := ix.loadSegments(); err != nil {
		ix.closeSegments()
		store.Close()
		return nil, err
	}
	ix.recorder.SetSegments(len(ix.segments))
	return ix, nil
}

func (ix *Index) loadSegments() error {
	live := make(map[string]bool, len(ix.manifest.Segments))
	for _, info := range ix.manifest.Segments {
		reader, err := segment.OpenReader(filepath.Join(ix.dir, info.Name))
		if err != nil {
			return fmt.Errorf("loading segment %s: %w", info.Name, err)
		}
		ix.segments = append(ix.segments, newSegmentRef(info, reader, ix.logger))
		live[info.Name] = true
		ix.logger.Info("loaded existing segment",
			"segment", info.Name,
			"keys", info.Keys,
			"locations", info.Locations,
		)
	}

	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return fmt.Errorf("reading model directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		stray := strings.HasSuffix(name, ".tmp") ||
			(strings.HasSuffix(name, segment.Extension) && !live[name])
		if e.IsDir() || !stray {
			continue
		}
		if err := os.Remove(filepath.Join(ix.dir, name)); err != nil {
			ix.logger.Warn("removing uncommitted file", "file", name, "error", err)
			continue
		}
		ix.logger.Info("removed uncommitted file", "file", name)
	}
	ix.logger.Info("segment recovery complete",
		"segments_loaded", len(ix.segments),
		"corpus_size", ix.manifest.CorpusSize,
	)
	return nil
}

// PrefixLength is the maximum number of tokens per key.
func (ix *Index) PrefixLength() int {
	return ix.cfg.PrefixLength
}

// Snapshot acquires a point-in-time view. The caller must Release it.
func (ix *Index) Snapshot() (*Snapshot, error) {
	ix.viewMu.RLock()
	defer ix.viewMu.RUnlock()
	if ix.closed {
		return nil, apperrors.ErrClosed
	}
	segs := make([]*segmentRef, len(ix.segments))
	for i, s := range ix.segments {
		s.acquire()
		segs[i] = s
	}
	return &Snapshot{
		segments:     segs,
		corpus:       ix.corpus,
		prefixLength: ix.cfg.PrefixLength,
	}, nil
}

// Streams returns the last applied sequence id of every stream seen.
func (ix *Index) Streams() map[model.Stream]model.Seq {
	ix.viewMu.RLock()
	defer ix.viewMu.RUnlock()
	return maps.Clone(ix.manifest.Streams)
}

// Watermark returns the last applied sequence id of s, or SeqUnset.
func (ix *Index) Watermark(s model.Stream) model.Seq {
	ix.viewMu.RLock()
	defer ix.viewMu.RUnlock()
	return ix.manifest.watermark(s)
}

// Apply commits a batch of updates atomically: either every accepted record
// becomes visible to snapshots acquired afterwards, or none does. Updates
// whose sequence id is not above their stream's watermark are dropped. It
// returns the number of records applied.
func (ix *Index) Apply(updates []model.Update) (int, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	start := time.Now()
	ix.viewMu.RLock()
	closed := ix.closed
	current := ix.manifest
	ix.viewMu.RUnlock()
	if closed {
		return 0, apperrors.ErrClosed
	}

	next := current.clone()
	records := make([]model.Record, 0, len(updates))
	for _, u := range updates {
		if u.ID.Seq <= next.watermark(u.ID.Stream) {
			ix.recorder.UpdateDropped("stale")
			continue
		}
		next.Streams[u.ID.Stream] = u.ID.Seq
		records = append(records, u.Record())
	}
	if len(records) == 0 {
		return 0, nil
	}

	oldSize := ix.corpus.Size()
	ptrs, newSize, err := ix.corpus.Append(records)
	if err != nil {
		ix.rollback(oldSize, nil)
		ix.recorder.ObserveFlush(len(records), "error", time.Since(start))
		return 0, fmt.Errorf("appending to corpus: %w", err)
	}
	mem := newMemTable()
	for i, rec := range records {
		mem.addRecord(ptrs[i], rec, ix.cfg.PrefixLength)
	}
	next.CorpusSize = newSize

	var added *segmentRef
	if !mem.empty() {
		added, err = ix.writeSegment(next, mem)
		if err != nil {
			ix.rollback(oldSize, nil)
			ix.recorder.ObserveFlush(len(records), "error", time.Since(start))
			return 0, err
		}
	}
	if err := commitManifest(ix.dir, next); err != nil {
		ix.rollback(oldSize, added)
		ix.recorder.ObserveFlush(len(records), "error", time.Since(start))
		return 0, err
	}

	ix.viewMu.Lock()
	ix.manifest = next
	if added != nil {
		ix.segments = append(ix.segments[:len(ix.segments):len(ix.segments)], added)
	}
	segments := len(ix.segments)
	ix.viewMu.Unlock()

	elapsed := time.Since(start)
	ix.recorder.ObserveFlush(len(records), "success", elapsed)
	ix.recorder.SetSegments(segments)
	ix.logger.Info("batch committed",
		"records", len(records),
		"dropped", len(updates)-len(records),
		"keys", mem.keys(),
		"active_segments", segments,
		"duration_ms", elapsed.Milliseconds(),
	)
	return len(records), nil
}

// writeSegment writes the memtable as the next generation and records it in
// m. The returned ref is not yet visible to readers.
func (ix *Index) writeSegment(m *manifest, mem *memTable) (*segmentRef, error) {
	gen := m.NextGeneration
	entries := mem.snapshot()
	name, err := ix.writer.Write(gen, entries)
	if err != nil {
		return nil, fmt.Errorf("writing segment: %w", err)
	}
	reader, err := segment.OpenReader(filepath.Join(ix.dir, name))
	if err != nil {
		os.Remove(filepath.Join(ix.dir, name))
		return nil, fmt.Errorf("opening new segment for reading: %w", err)
	}
	info := SegmentInfo{
		Name:       name,
		Generation: gen,
		Keys:       len(entries),
		Locations:  mem.size,
	}
	m.NextGeneration = gen + 1
	m.Segments = append(m.Segments, info)
	return newSegmentRef(info, reader, ix.logger), nil
}

func (ix *Index) rollback(corpusSize int64, added *segmentRef) {
	if added != nil {
		added.obsolete.Store(true)
		added.release()
	}
	if err := ix.corpus.Truncate(corpusSize); err != nil {
		ix.logger.Error("rolling back corpus", "size", corpusSize, "error", err)
	}
}

// Merge folds every live segment into one when there are more than
// maxSegments of them. Retired segments stay readable by snapshots that
// still hold them.
func (ix *Index) Merge(maxSegments int) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	snap, err := ix.Snapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	if len(snap.segments) <= max(maxSegments, 1) {
		return nil
	}

	start := time.Now()
	mem := newMemTable()
	for _, space := range []keySpace{{prefix: []byte{nsDomainSource}}, globalSourceSpace, globalTargetSpace} {
		c := newMergeCursor(snap.segments, space, nil)
		c.Seek(nil)
		for c.Next() {
			locs, err := c.Locations(nil)
			if err != nil {
				ix.recorder.MergeCompleted("error")
				return fmt.Errorf("reading segments for merge: %w", err)
			}
			mem.add(c.rawKey(), locs...)
		}
	}

	ix.viewMu.RLock()
	next := ix.manifest.clone()
	ix.viewMu.RUnlock()
	next.Segments = nil
	merged, err := ix.writeSegment(next, mem)
	if err != nil {
		ix.recorder.MergeCompleted("error")
		return err
	}
	if err := commitManifest(ix.dir, next); err != nil {
		merged.obsolete.Store(true)
		merged.release()
		ix.recorder.MergeCompleted("error")
		return err
	}

	ix.viewMu.Lock()
	retired := ix.segments
	ix.segments = []*segmentRef{merged}
	ix.manifest = next
	ix.viewMu.Unlock()
	for _, s := range retired {
		s.obsolete.Store(true)
		s.release()
	}

	ix.recorder.MergeCompleted("success")
	ix.recorder.SetSegments(1)
	ix.logger.Info("segments merged",
		"merged", len(retired),
		"segment", merged.info.Name,
		"keys", merged.info.Keys,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// StartMergeLoop periodically merges segments until ctx is cancelled.
func (ix *Index) StartMergeLoop(ctx context.Context) {
	if ix.cfg.MergeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(ix.cfg.MergeInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				ix.logger.Info("merge loop stopping")
				return
			case <-ticker.C:
				if err := ix.Merge(ix.cfg.MaxSegmentsBeforeMerge); err != nil {
					if errors.Is(err, apperrors.ErrClosed) {
						return
					}
					ix.logger.Error("periodic merge failed", "error", err)
				}
			}
		}
	}()
}

// Stats reports the committed state.
func (ix *Index) Stats() Stats {
	ix.viewMu.RLock()
	defer ix.viewMu.RUnlock()
	st := Stats{
		Segments:   len(ix.manifest.Segments),
		CorpusSize: ix.manifest.CorpusSize,
		Streams:    len(ix.manifest.Streams),
	}
	for _, s := range ix.manifest.Segments {
		st.Keys += s.Keys
		st.Locations += s.Locations
	}
	return st
}

// Close releases the index's hold on every segment and closes the corpus.
// Snapshots still held keep their segments open until released.
func (ix *Index) Close() error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	ix.viewMu.Lock()
	if ix.closed {
		ix.viewMu.Unlock()
		return nil
	}
	ix.closed = true
	ix.viewMu.Unlock()
	ix.closeSegments()
	return errors.Join(ix.corpus.Close(), ix.lock.release())
}

func (ix *Index) closeSegments() {
	ix.viewMu.Lock()
	segs := ix.segments
	ix.segments = nil
	ix.viewMu.Unlock()
	for _, s := range segs {
		s.release()
	}
}
