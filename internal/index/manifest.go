package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

const (
	manifestName    = "MANIFEST"
	lockName        = "LOCK"
	manifestVersion = 1
)

// SegmentInfo describes one committed segment.
type SegmentInfo struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	Keys       int    `json:"keys"`
	Locations  int    `json:"locations"`
}

// manifest is the commit record of the index. Writing it is the commit
// point of every flush and merge.
type manifest struct {
	Version        int                        `json:"version"`
	PrefixLength   int                        `json:"prefix_length"`
	NextGeneration uint64                     `json:"next_generation"`
	CorpusSize     int64                      `json:"corpus_size"`
	Segments       []SegmentInfo              `json:"segments"`
	Streams        map[model.Stream]model.Seq `json:"streams"`
}

func newManifest(prefixLength int) *manifest {
	return &manifest{
		Version:        manifestVersion,
		PrefixLength:   prefixLength,
		NextGeneration: 1,
		Streams:        make(map[model.Stream]model.Seq),
	}
}

func (m *manifest) clone() *manifest {
	c := *m
	c.Segments = slices.Clone(m.Segments)
	c.Streams = maps.Clone(m.Streams)
	if c.Streams == nil {
		c.Streams = make(map[model.Stream]model.Seq)
	}
	return &c
}

func (m *manifest) watermark(s model.Stream) model.Seq {
	if seq, ok := m.Streams[s]; ok {
		return seq
	}
	return model.SeqUnset
}

// loadManifest reads the manifest in dir. A missing file is reported with
// os.ErrNotExist.
func loadManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m := &manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", apperrors.ErrCorruptIndex, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", apperrors.ErrCorruptIndex, m.Version)
	}
	if m.Streams == nil {
		m.Streams = make(map[model.Stream]model.Seq)
	}
	return m, nil
}

// commitManifest atomically replaces the manifest in dir.
func commitManifest(dir string, m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	finalPath := filepath.Join(dir, manifestName)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer os.Remove(tmpPath)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}
