package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Posting blocks are stored as [uncompressed u32][compressed u32][data].
// A compressed size of 0 means the data is stored as-is.
const blockHeaderSize = 8

// Blocks smaller than this are not worth compressing.
const minCompressSize = 64

func compressBlock(data []byte) ([]byte, error) {
	if len(data) >= minCompressSize {
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		if n > 0 && n < len(data) {
			out := make([]byte, blockHeaderSize+n)
			binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
			binary.LittleEndian.PutUint32(out[4:], uint32(n))
			copy(out[blockHeaderSize:], compressed[:n])
			return out, nil
		}
	}
	out := make([]byte, blockHeaderSize+len(data))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	copy(out[blockHeaderSize:], data)
	return out, nil
}

func decompressBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errors.New("block too small for header")
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	if compressedSize == 0 {
		if uint32(len(block)) < blockHeaderSize+uncompressedSize {
			return nil, errors.New("block data too small")
		}
		return block[blockHeaderSize : blockHeaderSize+uncompressedSize], nil
	}
	if uint32(len(block)) < blockHeaderSize+compressedSize {
		return nil, errors.New("compressed block data too small")
	}
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(block[blockHeaderSize:blockHeaderSize+compressedSize], out)
	if err != nil {
		return nil, err
	}
	if uint32(n) != uncompressedSize {
		return nil, errors.New("decompressed size mismatch")
	}
	return out, nil
}

// encodeLocations writes count, then per location the pointer delta against
// the previous pointer (signed), the offset and the domain.
func encodeLocations(dst []byte, locs []model.Location) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(locs)))
	var prev uint64
	for _, l := range locs {
		dst = binary.AppendVarint(dst, int64(l.Pointer-prev))
		dst = binary.AppendUvarint(dst, uint64(l.Offset))
		dst = binary.AppendUvarint(dst, uint64(l.Domain))
		prev = l.Pointer
	}
	return dst
}

// decodeLocations appends the decoded locations to dst. keep, when non-nil,
// filters locations by domain.
func decodeLocations(dst []model.Location, data []byte, keep func(model.Domain) bool) ([]model.Location, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return dst, fmt.Errorf("truncated location count")
	}
	data = data[n:]
	var prev uint64
	for i := uint64(0); i < count; i++ {
		delta, n1 := binary.Varint(data)
		if n1 <= 0 {
			return dst, fmt.Errorf("truncated location %d", i)
		}
		data = data[n1:]
		offset, n2 := binary.Uvarint(data)
		if n2 <= 0 {
			return dst, fmt.Errorf("truncated location %d", i)
		}
		data = data[n2:]
		domain, n3 := binary.Uvarint(data)
		if n3 <= 0 {
			return dst, fmt.Errorf("truncated location %d", i)
		}
		data = data[n3:]
		prev += uint64(delta)
		loc := model.Location{Pointer: prev, Offset: uint16(offset), Domain: model.Domain(domain)}
		if keep == nil || keep(loc.Domain) {
			dst = append(dst, loc)
		}
	}
	return dst, nil
}
