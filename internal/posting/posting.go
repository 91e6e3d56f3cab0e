// Package posting implements the ephemeral posting lists a collector builds
// while walking the prefix index: accumulation, positional intersection
// ("retain") and reproducible sampling.
package posting

import (
	"encoding/binary"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// List is an unordered bag of locations. It is owned by a single collector
// session and is not safe for concurrent use.
type List struct {
	locations []model.Location
	sorted    bool
}

// New returns an empty list.
func New() *List {
	return &List{}
}

// Add appends a location.
func (l *List) Add(loc model.Location) {
	l.locations = append(l.locations, loc)
	l.sorted = false
}

// AddAll appends every location in locs.
func (l *List) AddAll(locs []model.Location) {
	if len(locs) == 0 {
		return
	}
	l.locations = append(l.locations, locs...)
	l.sorted = false
}

func (l *List) Size() int {
	return len(l.locations)
}

func (l *List) Empty() bool {
	return len(l.locations) == 0
}

func compareLocations(a, b model.Location) int {
	switch {
	case a.Pointer < b.Pointer:
		return -1
	case a.Pointer > b.Pointer:
		return 1
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

func (l *List) sort() {
	if l.sorted {
		return
	}
	slices.SortFunc(l.locations, compareLocations)
	l.sorted = true
}

// Retain keeps only the locations L for which successors holds a location on
// the same record at offset L.Offset+shift, i.e. occurrences of the current
// phrase that continue with the successor phrase shift tokens later.
func (l *List) Retain(successors *List, shift int) {
	if successors == nil || successors.Empty() {
		l.locations = l.locations[:0]
		return
	}
	l.sort()
	successors.sort()

	other := successors.locations
	kept := l.locations[:0]
	j := 0
	for _, loc := range l.locations {
		target := int(loc.Offset) + shift
		for j < len(other) && (other[j].Pointer < loc.Pointer ||
			(other[j].Pointer == loc.Pointer && int(other[j].Offset) < target)) {
			j++
		}
		if j == len(other) {
			break
		}
		if other[j].Pointer == loc.Pointer && int(other[j].Offset) == target {
			kept = append(kept, loc)
		}
	}
	l.locations = kept
}

// Locations appends locations to out. With limit 0, or a limit not smaller
// than the list, every location is appended; otherwise a pseudo-random subset
// of exactly limit locations is drawn. The subset depends only on the list
// content and seed.
func (l *List) Locations(out []model.Location, limit int, seed uint32) []model.Location {
	if limit <= 0 || limit >= len(l.locations) {
		return append(out, l.locations...)
	}
	l.sort()
	pool := slices.Clone(l.locations)
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(len(pool))))
	for i := 0; i < limit; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return append(out, pool[:limit]...)
}

// PhraseSeed derives the sampling seed of a phrase. It is never zero.
func PhraseSeed(phrase []model.Wid) uint32 {
	buf := make([]byte, 4*len(phrase))
	for i, w := range phrase {
		binary.BigEndian.PutUint32(buf[4*i:], uint32(w))
	}
	h := xxhash.Sum64(buf)
	seed := uint32(h) ^ uint32(h>>32)
	return max(seed, 1)
}
