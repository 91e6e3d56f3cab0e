package index

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/corpus"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

// ManifestName is the file name of the commit record in a model directory.
const ManifestName = manifestName

// Checkpoint pins one committed state of the model so that its files can be
// copied while updates and merges continue. Segment files named by the
// checkpoint stay on disk until Release; the corpus only grows, so its
// first CorpusSize bytes are stable.
type Checkpoint struct {
	Manifest   []byte
	Segments   []SegmentFile
	CorpusPath string
	CorpusSize int64

	snap *Snapshot
}

// SegmentFile names a segment file of a checkpoint.
type SegmentFile struct {
	Name string
	Path string
}

// Checkpoint captures the current committed state.
func (ix *Index) Checkpoint() (*Checkpoint, error) {
	ix.viewMu.RLock()
	defer ix.viewMu.RUnlock()
	if ix.closed {
		return nil, apperrors.ErrClosed
	}
	data, err := json.MarshalIndent(ix.manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	cp := &Checkpoint{
		Manifest:   data,
		CorpusPath: filepath.Join(ix.dir, corpus.FileName),
		CorpusSize: ix.manifest.CorpusSize,
		snap: &Snapshot{
			corpus:       ix.corpus,
			prefixLength: ix.cfg.PrefixLength,
		},
	}
	for _, s := range ix.segments {
		s.acquire()
		cp.snap.segments = append(cp.snap.segments, s)
		cp.Segments = append(cp.Segments, SegmentFile{Name: s.info.Name, Path: s.reader.Path()})
	}
	return cp, nil
}

// Release unpins the checkpoint's segments.
func (cp *Checkpoint) Release() {
	cp.snap.Release()
}

// ManifestSegments lists the segment files named by an encoded manifest.
func ManifestSegments(data []byte) ([]string, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", apperrors.ErrCorruptIndex, err)
	}
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names, nil
}
