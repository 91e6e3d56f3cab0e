package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

type dictEntry struct {
	key        []byte
	postOffset int64
	postLen    int64
	count      uint32
}

// Reader gives random access to one immutable segment. The dictionary is held
// in memory; posting blocks are read on demand. Safe for concurrent use.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []dictEntry
	postBase int64
}

// OpenReader opens and validates a segment file. Structural problems are
// reported as ErrCorruptIndex.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func readSegment(f *os.File, path string) (*Reader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if st.Size() < int64(HeaderSize+FooterSize) {
		return nil, fmt.Errorf("%w: segment %s too small", apperrors.ErrCorruptIndex, path)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading segment header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(headerBytes[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("%w: invalid segment file: bad magic bytes %x", apperrors.ErrCorruptIndex, magic)
	}
	header := SegmentHeader{
		Magic:         magic,
		Version:       binary.LittleEndian.Uint32(headerBytes[4:8]),
		KeyCount:      binary.LittleEndian.Uint32(headerBytes[8:12]),
		LocationCount: binary.LittleEndian.Uint32(headerBytes[12:16]),
		CreatedAt:     int64(binary.LittleEndian.Uint64(headerBytes[16:24])),
		DictOffset:    int64(binary.LittleEndian.Uint64(headerBytes[24:32])),
		DictSize:      int64(binary.LittleEndian.Uint64(headerBytes[32:40])),
		PostOffset:    int64(binary.LittleEndian.Uint64(headerBytes[40:48])),
		PostSize:      int64(binary.LittleEndian.Uint64(headerBytes[48:56])),
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported segment version %d", apperrors.ErrCorruptIndex, header.Version)
	}
	if header.DictOffset+header.DictSize+int64(FooterSize) > st.Size() {
		return nil, fmt.Errorf("%w: segment %s dictionary out of bounds", apperrors.ErrCorruptIndex, path)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		return nil, fmt.Errorf("reading segment footer: %w", err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: segment %s dictionary checksum mismatch", apperrors.ErrCorruptIndex, path)
	}
	dict, err := parseDict(dictBytes, int(header.KeyCount))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary of %s: %v", apperrors.ErrCorruptIndex, path, err)
	}
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		postBase: header.PostOffset,
	}, nil
}

func parseDict(data []byte, n int) ([]dictEntry, error) {
	dict := make([]dictEntry, 0, n)
	for len(data) > 0 {
		keyLen, k := binary.Uvarint(data)
		if k <= 0 || uint64(len(data)-k) < keyLen {
			return nil, fmt.Errorf("truncated key at entry %d", len(dict))
		}
		data = data[k:]
		key := data[:keyLen:keyLen]
		data = data[keyLen:]
		var vals [3]uint64
		for i := range vals {
			v, m := binary.Uvarint(data)
			if m <= 0 {
				return nil, fmt.Errorf("truncated entry %d", len(dict))
			}
			vals[i] = v
			data = data[m:]
		}
		dict = append(dict, dictEntry{
			key:        key,
			postOffset: int64(vals[0]),
			postLen:    int64(vals[1]),
			count:      uint32(vals[2]),
		})
	}
	if len(dict) != n {
		return nil, fmt.Errorf("dictionary has %d entries, header says %d", len(dict), n)
	}
	return dict, nil
}

// Seek returns the position of the first key that is >= key.
func (r *Reader) Seek(key []byte) int {
	return sort.Search(len(r.dict), func(i int) bool {
		return bytes.Compare(r.dict[i].key, key) >= 0
	})
}

// Len is the number of keys in the segment.
func (r *Reader) Len() int {
	return len(r.dict)
}

// Key returns the key at position i. The returned slice must not be modified.
func (r *Reader) Key(i int) []byte {
	return r.dict[i].key
}

// Count returns the number of locations stored under the key at position i.
func (r *Reader) Count(i int) int {
	return int(r.dict[i].count)
}

// Locations appends the locations stored at position i to dst. keep, when
// non-nil, filters them by domain.
func (r *Reader) Locations(dst []model.Location, i int, keep func(model.Domain) bool) ([]model.Location, error) {
	entry := r.dict[i]
	block := make([]byte, entry.postLen)
	if _, err := r.file.ReadAt(block, r.postBase+entry.postOffset); err != nil {
		return dst, fmt.Errorf("reading postings: %w", err)
	}
	raw, err := decompressBlock(block)
	if err != nil {
		return dst, fmt.Errorf("%w: postings of %s: %v", apperrors.ErrCorruptIndex, r.filePath, err)
	}
	dst, err = decodeLocations(dst, raw, keep)
	if err != nil {
		return dst, fmt.Errorf("%w: postings of %s: %v", apperrors.ErrCorruptIndex, r.filePath, err)
	}
	return dst, nil
}

// Search returns the locations of an exact key, or nil when it is absent.
func (r *Reader) Search(key []byte) ([]model.Location, error) {
	i := r.Seek(key)
	if i >= len(r.dict) || !bytes.Equal(r.dict[i].key, key) {
		return nil, nil
	}
	return r.Locations(nil, i, nil)
}

func (r *Reader) Header() SegmentHeader {
	return r.header
}

func (r *Reader) Path() string {
	return r.filePath
}

func (r *Reader) Close() error {
	return r.file.Close()
}
