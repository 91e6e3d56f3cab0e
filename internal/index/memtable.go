package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index/segment"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// maxOffset is the last token position a Location can address.
const maxOffset = 1<<16 - 1

// memTable accumulates the key/location pairs of one batch before they are
// written out as a segment. It is owned by the writer path only.
type memTable struct {
	entries map[string][]model.Location
	size    int
}

func newMemTable() *memTable {
	return &memTable{entries: make(map[string][]model.Location)}
}

func (m *memTable) add(key []byte, locs ...model.Location) {
	m.entries[string(key)] = append(m.entries[string(key)], locs...)
	m.size += len(locs)
}

// addRecord indexes every source window of the record under its domain and
// the global namespace, and every target window under the global target
// namespace.
func (m *memTable) addRecord(ptr uint64, rec model.Record, prefixLength int) {
	var key []byte
	dspace := domainSpace(rec.Domain)
	windows(rec.Source, prefixLength, func(off int, w []model.Wid) {
		if off > maxOffset {
			return
		}
		loc := model.Location{Pointer: ptr, Offset: uint16(off), Domain: rec.Domain}
		key = dspace.encode(key[:0], w)
		m.add(key, loc)
		key = globalSourceSpace.encode(key[:0], w)
		m.add(key, loc)
	})
	windows(rec.Target, prefixLength, func(off int, w []model.Wid) {
		if off > maxOffset {
			return
		}
		key = globalTargetSpace.encode(key[:0], w)
		m.add(key, model.Location{Pointer: ptr, Offset: uint16(off), Domain: rec.Domain})
	})
}

func (m *memTable) empty() bool {
	return len(m.entries) == 0
}

// snapshot returns the entries sorted by key, ready for segment.Writer.
func (m *memTable) snapshot() []segment.Entry {
	out := make([]segment.Entry, 0, len(m.entries))
	for k, locs := range m.entries {
		out = append(out, segment.Entry{Key: []byte(k), Locations: locs})
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Key) < string(out[j].Key)
	})
	return out
}

func (m *memTable) keys() int {
	return len(m.entries)
}
