package index

import (
	"bytes"
	"container/heap"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Cursor iterates, in key order, every stored key that starts with the
// tokens passed to Seek. Keys present in several segments are reported once
// with their locations concatenated, oldest segment first.
//
//	c := snap.GlobalCursor()
//	c.Seek(phrase)
//	for c.Next() {
//		locs, err = c.Locations(locs)
//	}
type Cursor interface {
	// Seek positions the cursor before the first key having tokens as a
	// prefix. A prefix nothing matches yields an empty iteration.
	Seek(tokens []model.Wid)
	Next() bool
	// Key returns the tokens of the current key.
	Key() []model.Wid
	// Count returns the number of stored locations under the current key,
	// before any domain filtering.
	Count() int
	// Locations appends the locations of the current key to dst.
	Locations(dst []model.Location) ([]model.Location, error)
}

type heapItem struct {
	seg int
	pos int
	key []byte
}

type cursorHeap []heapItem

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].seg < h[j].seg
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// mergeCursor is the single Cursor implementation; the constructors differ
// only in key namespace and domain filter.
type mergeCursor struct {
	segments []*segmentRef
	space    keySpace
	keep     func(model.Domain) bool

	prefix  []byte
	heap    cursorHeap
	current []heapItem
	key     []byte
}

func newMergeCursor(segments []*segmentRef, space keySpace, keep func(model.Domain) bool) *mergeCursor {
	return &mergeCursor{segments: segments, space: space, keep: keep}
}

func (c *mergeCursor) Seek(tokens []model.Wid) {
	c.prefix = c.space.encode(c.prefix[:0], tokens)
	c.heap = c.heap[:0]
	c.current = c.current[:0]
	c.key = nil
	for i, s := range c.segments {
		pos := s.reader.Seek(c.prefix)
		c.pushIfMatching(i, pos)
	}
	heap.Init(&c.heap)
}

func (c *mergeCursor) pushIfMatching(seg, pos int) {
	r := c.segments[seg].reader
	if pos >= r.Len() {
		return
	}
	key := r.Key(pos)
	if !bytes.HasPrefix(key, c.prefix) {
		return
	}
	c.heap = append(c.heap, heapItem{seg: seg, pos: pos, key: key})
}

func (c *mergeCursor) Next() bool {
	for _, it := range c.current {
		if it.pos+1 < c.segments[it.seg].reader.Len() {
			key := c.segments[it.seg].reader.Key(it.pos + 1)
			if bytes.HasPrefix(key, c.prefix) {
				heap.Push(&c.heap, heapItem{seg: it.seg, pos: it.pos + 1, key: key})
			}
		}
	}
	c.current = c.current[:0]
	if c.heap.Len() == 0 {
		c.key = nil
		return false
	}
	first := heap.Pop(&c.heap).(heapItem)
	c.current = append(c.current, first)
	for c.heap.Len() > 0 && bytes.Equal(c.heap[0].key, first.key) {
		c.current = append(c.current, heap.Pop(&c.heap).(heapItem))
	}
	c.key = first.key
	return true
}

func (c *mergeCursor) Key() []model.Wid {
	if c.key == nil {
		return nil
	}
	return c.space.decode(c.key)
}

func (c *mergeCursor) rawKey() []byte {
	return c.key
}

func (c *mergeCursor) Count() int {
	n := 0
	for _, it := range c.current {
		n += c.segments[it.seg].reader.Count(it.pos)
	}
	return n
}

func (c *mergeCursor) Locations(dst []model.Location) ([]model.Location, error) {
	var err error
	for _, it := range c.current {
		dst, err = c.segments[it.seg].reader.Locations(dst, it.pos, c.keep)
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// excludeFilter keeps locations whose domain is not in the bitmap.
func excludeFilter(excluded *roaring.Bitmap) func(model.Domain) bool {
	if excluded == nil || excluded.IsEmpty() {
		return nil
	}
	return func(d model.Domain) bool {
		return !excluded.Contains(uint32(d))
	}
}
