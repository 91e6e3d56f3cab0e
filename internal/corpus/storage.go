// Package corpus implements the append-only sentence-pair store. Records are
// framed, zstd-compressed and addressed by the byte offset of their frame.
package corpus

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

const (
	// FileName is the corpus file inside the model directory.
	FileName = "corpus.dat"

	frameHeaderSize = 8
	maxFrameSize    = 64 << 20
)

// Storage is safe for concurrent Retrieve calls and a single appender.
type Storage struct {
	file   *os.File
	path   string
	size   atomic.Int64
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens the corpus in dir. Bytes past committedSize belong to a flush
// that never committed and are truncated away.
func Open(dir string, committedSize int64) (*Storage, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening corpus file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat corpus file: %w", err)
	}
	s := &Storage{
		file:   f,
		path:   path,
		logger: slog.Default().With("component", "corpus"),
	}
	switch {
	case st.Size() < committedSize:
		f.Close()
		return nil, fmt.Errorf("%w: corpus is %d bytes, manifest expects %d",
			apperrors.ErrCorruptIndex, st.Size(), committedSize)
	case st.Size() > committedSize:
		s.logger.Warn("truncating uncommitted corpus tail",
			"size", st.Size(),
			"committed", committedSize,
		)
		if err := f.Truncate(committedSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncating corpus file: %w", err)
		}
	}
	s.size.Store(committedSize)
	return s, nil
}

// Append writes records at the end of the corpus and syncs the file. It
// returns one pointer per record and the new corpus size.
func (s *Storage) Append(records []model.Record) ([]uint64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.size.Load()
	pointers := make([]uint64, 0, len(records))
	var buf, raw []byte
	for _, r := range records {
		raw = encodeRecord(raw[:0], r)
		payload := compress(raw)
		if len(payload) > maxFrameSize {
			return nil, 0, fmt.Errorf("%w: record of %d bytes exceeds frame limit",
				apperrors.ErrInvalidInput, len(payload))
		}
		pointers = append(pointers, uint64(base)+uint64(len(buf)))
		var header [frameHeaderSize]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
		buf = append(buf, header[:]...)
		buf = append(buf, payload...)
	}
	if _, err := s.file.WriteAt(buf, base); err != nil {
		return nil, 0, fmt.Errorf("writing corpus records: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return nil, 0, fmt.Errorf("syncing corpus file: %w", err)
	}
	newSize := base + int64(len(buf))
	s.size.Store(newSize)
	return pointers, newSize, nil
}

// Truncate discards everything after size. It is used to roll back an append
// whose index commit failed.
func (s *Storage) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > s.size.Load() {
		return fmt.Errorf("truncate to %d beyond corpus size %d", size, s.size.Load())
	}
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("truncating corpus file: %w", err)
	}
	s.size.Store(size)
	return nil
}

// Retrieve reads the record whose frame starts at pointer.
func (s *Storage) Retrieve(pointer uint64) (model.Record, error) {
	size := uint64(s.size.Load())
	if pointer+frameHeaderSize > size {
		return model.Record{}, fmt.Errorf("%w: pointer %d past corpus end %d",
			apperrors.ErrCorruptRecord, pointer, size)
	}
	var header [frameHeaderSize]byte
	if _, err := s.file.ReadAt(header[:], int64(pointer)); err != nil {
		return model.Record{}, fmt.Errorf("reading frame header at %d: %w", pointer, err)
	}
	length := uint64(binary.LittleEndian.Uint32(header[0:4]))
	checksum := binary.LittleEndian.Uint32(header[4:8])
	if pointer+frameHeaderSize+length > size {
		return model.Record{}, fmt.Errorf("%w: frame at %d overruns corpus",
			apperrors.ErrCorruptRecord, pointer)
	}
	payload := make([]byte, length)
	if _, err := s.file.ReadAt(payload, int64(pointer)+frameHeaderSize); err != nil {
		return model.Record{}, fmt.Errorf("reading frame payload at %d: %w", pointer, err)
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return model.Record{}, fmt.Errorf("%w: checksum mismatch at %d",
			apperrors.ErrCorruptRecord, pointer)
	}
	raw, err := decompress(payload)
	if err != nil {
		return model.Record{}, err
	}
	return decodeRecord(raw)
}

// Size returns the committed corpus size in bytes.
func (s *Storage) Size() int64 {
	return s.size.Load()
}

func (s *Storage) Close() error {
	return s.file.Close()
}
