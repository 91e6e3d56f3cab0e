package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

func testEntries() []Entry {
	many := make([]model.Location, 0, 300)
	for i := 0; i < 300; i++ {
		many = append(many, model.Location{Pointer: uint64(1000 - i), Offset: uint16(i % 7), Domain: 2})
	}
	return []Entry{
		{Key: []byte{0x02, 0, 0, 0, 5}, Locations: []model.Location{{Pointer: 7, Offset: 1, Domain: 1}}},
		{Key: []byte{0x02, 0, 0, 0, 5, 0, 0, 0, 12}, Locations: many},
		{Key: []byte{0x02, 0, 0, 0, 6}, Locations: []model.Location{{Pointer: 3, Offset: 0, Domain: 4}, {Pointer: 9, Offset: 2, Domain: 1}}},
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	name, err := w.Write(1, testEntries())
	require.NoError(t, err)
	assert.Equal(t, "seg_00000000000000000001.ptsg", name)

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint32(303), r.Header().LocationCount)

	locs, err := r.Search([]byte{0x02, 0, 0, 0, 5, 0, 0, 0, 12})
	require.NoError(t, err)
	require.Len(t, locs, 300)
	assert.Equal(t, testEntries()[1].Locations, locs)

	missing, err := r.Search([]byte{0x02, 0, 0, 0, 9})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSeekAndFilter(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(2, testEntries())
	require.NoError(t, err)
	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	i := r.Seek([]byte{0x02, 0, 0, 0, 5})
	assert.Equal(t, 0, i)
	assert.Equal(t, 3, r.Seek([]byte{0x03}))

	locs, err := r.Locations(nil, 2, func(d model.Domain) bool { return d != 4 })
	require.NoError(t, err)
	assert.Equal(t, []model.Location{{Pointer: 9, Offset: 2, Domain: 1}}, locs)
	assert.Equal(t, 2, r.Count(2))
}

func TestWriteRejectsUnsorted(t *testing.T) {
	entries := testEntries()
	entries[0], entries[2] = entries[2], entries[0]
	_, err := NewWriter(t.TempDir()).Write(1, entries)
	assert.Error(t, err)

	_, err = NewWriter(t.TempDir()).Write(1, nil)
	assert.Error(t, err)
}

func TestCorruptDictionaryDetected(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(3, testEntries())
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	r, err := OpenReader(path)
	require.NoError(t, err)
	dictOffset := r.Header().DictOffset
	require.NoError(t, r.Close())

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xee}, dictOffset+1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = OpenReader(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.ptsg")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0644))
	_, err := OpenReader(path)
	assert.ErrorIs(t, err, apperrors.ErrCorruptIndex)
}

func TestBlockRoundTripSmallAndLarge(t *testing.T) {
	small := []byte{1, 2, 3}
	block, err := compressBlock(small)
	require.NoError(t, err)
	out, err := decompressBlock(block)
	require.NoError(t, err)
	assert.Equal(t, small, out)

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i % 3)
	}
	block, err = compressBlock(large)
	require.NoError(t, err)
	assert.Less(t, len(block), len(large))
	out, err = decompressBlock(block)
	require.NoError(t, err)
	assert.Equal(t, large, out)
}
