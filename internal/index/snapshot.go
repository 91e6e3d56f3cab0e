package index

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index/segment"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// segmentRef counts the holders of an open segment: the index itself while
// the segment is live, plus every snapshot that acquired it. The reader is
// closed when the last holder lets go, and the file removed if a merge
// retired it.
type segmentRef struct {
	info     SegmentInfo
	reader   *segment.Reader
	refs     atomic.Int64
	obsolete atomic.Bool
	logger   *slog.Logger
}

func newSegmentRef(info SegmentInfo, reader *segment.Reader, logger *slog.Logger) *segmentRef {
	s := &segmentRef{info: info, reader: reader, logger: logger}
	s.refs.Store(1)
	return s
}

func (s *segmentRef) acquire() {
	s.refs.Add(1)
}

func (s *segmentRef) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	if err := s.reader.Close(); err != nil {
		s.logger.Error("closing segment reader", "segment", s.info.Name, "error", err)
	}
	if s.obsolete.Load() {
		if err := os.Remove(s.reader.Path()); err != nil && !os.IsNotExist(err) {
			s.logger.Error("removing retired segment", "segment", s.info.Name, "error", err)
			return
		}
		s.logger.Debug("retired segment removed", "segment", s.info.Name)
	}
}

// Snapshot is a point-in-time view of the index. Everything committed before
// it was acquired is visible; later commits are not. A Snapshot may be read
// from several goroutines but must be released exactly once.
type Snapshot struct {
	segments     []*segmentRef
	corpus       *corpus.Storage
	prefixLength int
	once         sync.Once
}

// PrefixLength is the maximum number of tokens a key holds.
func (s *Snapshot) PrefixLength() int {
	return s.prefixLength
}

// DomainCursor iterates source-side keys of a single domain.
func (s *Snapshot) DomainCursor(d model.Domain) Cursor {
	return newMergeCursor(s.segments, domainSpace(d), nil)
}

// GlobalCursor iterates source-side keys across all domains.
func (s *Snapshot) GlobalCursor() Cursor {
	return newMergeCursor(s.segments, globalSourceSpace, nil)
}

// BackgroundCursor iterates source-side keys across all domains except the
// excluded ones.
func (s *Snapshot) BackgroundCursor(excluded []model.Domain) Cursor {
	bm := roaring.New()
	for _, d := range excluded {
		bm.Add(uint32(d))
	}
	return newMergeCursor(s.segments, globalSourceSpace, excludeFilter(bm))
}

// TargetCursor iterates target-side keys across all domains.
func (s *Snapshot) TargetCursor() Cursor {
	return newMergeCursor(s.segments, globalTargetSpace, nil)
}

// Retrieve reads a corpus record referenced by a location of this snapshot.
func (s *Snapshot) Retrieve(pointer uint64) (model.Record, error) {
	return s.corpus.Retrieve(pointer)
}

// Release gives up the snapshot's hold on its segments. It is idempotent.
func (s *Snapshot) Release() {
	s.once.Do(func() {
		for _, seg := range s.segments {
			seg.release()
		}
		s.segments = nil
	})
}
