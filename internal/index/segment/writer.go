package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// MagicBytes identifies a valid .ptsg segment file.
const (
	MagicBytes    uint32 = 0x50545347
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".ptsg"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic         uint32
	Version       uint32
	KeyCount      uint32
	LocationCount uint32
	CreatedAt     int64
	DictOffset    int64
	DictSize      int64
	PostOffset    int64
	PostSize      int64
}

// Entry is one prefix key and the locations stored under it.
type Entry struct {
	Key       []byte
	Locations []model.Location
}

// Writer serialises sorted entries into new .ptsg segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Name returns the file name of the segment with the given generation.
func Name(generation uint64) string {
	return fmt.Sprintf("seg_%020d%s", generation, Extension)
}

// Write atomically creates the segment file for generation. Entries must be
// sorted by key with no duplicates. It writes to a .tmp file first and
// renames on success.
func (w *Writer) Write(generation uint64, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			return "", fmt.Errorf("segment entries out of order at %d", i)
		}
	}
	segmentName := Name(generation)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmpPath)

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(headerBytes[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(headerBytes[8:12], uint32(len(entries)))
	if _, err := f.Write(headerBytes); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	postingsStart := int64(HeaderSize)
	var (
		postings  []byte
		dict      []byte
		raw       []byte
		locations uint32
	)
	for _, entry := range entries {
		raw = encodeLocations(raw[:0], entry.Locations)
		block, err := compressBlock(raw)
		if err != nil {
			return "", fmt.Errorf("compressing postings: %w", err)
		}
		dict = binary.AppendUvarint(dict, uint64(len(entry.Key)))
		dict = append(dict, entry.Key...)
		dict = binary.AppendUvarint(dict, uint64(len(postings)))
		dict = binary.AppendUvarint(dict, uint64(len(block)))
		dict = binary.AppendUvarint(dict, uint64(len(entry.Locations)))
		postings = append(postings, block...)
		locations += uint32(len(entry.Locations))
	}
	if _, err := f.Write(postings); err != nil {
		return "", fmt.Errorf("writing postings: %w", err)
	}

	postingsSize := int64(len(postings))
	dictStart := postingsStart + postingsSize
	if _, err := f.Write(dict); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	dictSize := int64(len(dict))
	checksum := crc32.ChecksumIEEE(dict)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum)
	binary.LittleEndian.PutUint32(footer[4:8], locations)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(dictStart))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(dictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(postingsSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	binary.LittleEndian.PutUint32(headerBytes[12:16], locations)
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(dictStart))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(dictSize))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(postingsStart))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(postingsSize))
	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}
