// Package builder extracts alignment-consistent target phrases for a source
// phrase from sampled sentence pairs, with reordering orientations, and
// aggregates them per distinct target phrase.
package builder

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Builder aggregates every extraction of one target phrase.
type Builder struct {
	Phrase       []model.Wid
	Count        int
	Orientations model.Orientations

	alignments map[string]*alignmentCount
}

type alignmentCount struct {
	alignment model.Alignment
	count     int
}

func newBuilder(phrase []model.Wid) *Builder {
	return &Builder{
		Phrase:     phrase,
		alignments: make(map[string]*alignmentCount),
	}
}

func (b *Builder) add(a model.Alignment) {
	key := alignmentKey(a)
	if ac, ok := b.alignments[key]; ok {
		ac.count++
	} else {
		b.alignments[key] = &alignmentCount{alignment: a, count: 1}
	}
	b.Count++
}

// BestAlignment returns the most frequent alignment of the phrase pair. Ties
// go to the greater alignment under CompareAlignments.
func (b *Builder) BestAlignment() model.Alignment {
	var best *alignmentCount
	for _, ac := range b.alignments {
		if best == nil || ac.count > best.count ||
			(ac.count == best.count && CompareAlignments(ac.alignment, best.alignment) > 0) {
			best = ac
		}
	}
	if best == nil {
		return nil
	}
	return best.alignment
}

// Option converts the builder into an unscored translation option.
func (b *Builder) Option() model.TranslationOption {
	return model.TranslationOption{
		TargetPhrase: b.Phrase,
		Alignment:    b.BestAlignment(),
		Orientations: b.Orientations,
		Count:        b.Count,
	}
}

// CompareAlignments orders alignments by number of points, then by the first
// differing source or target position, scanning points in order.
func CompareAlignments(a, b model.Alignment) int {
	if len(a) != len(b) {
		return cmp.Compare(len(a), len(b))
	}
	for i := range a {
		if c := cmp.Compare(a[i].Source, b[i].Source); c != 0 {
			return c
		}
		if c := cmp.Compare(a[i].Target, b[i].Target); c != 0 {
			return c
		}
	}
	return 0
}

func alignmentKey(a model.Alignment) string {
	buf := make([]byte, 0, 4*len(a))
	for _, p := range a {
		buf = binary.BigEndian.AppendUint16(buf, p.Source)
		buf = binary.BigEndian.AppendUint16(buf, p.Target)
	}
	return string(buf)
}

// Extract runs phrase extraction for phrase over every occurrence in
// samples. It returns one builder per distinct target phrase, sorted by
// target phrase, and the number of occurrences that produced at least one
// option.
func Extract(phrase []model.Wid, samples []model.Sample) ([]*Builder, int) {
	builders := make(map[string]*Builder)
	valid := 0
	for i := range samples {
		s := &samples[i]
		if !wellFormed(s) {
			continue
		}
		targetAligned := make([]bool, len(s.Target))
		for _, p := range s.Alignment {
			targetAligned[p.Target] = true
		}
		for _, offset := range s.Offsets {
			if extractOccurrence(phrase, s, offset, targetAligned, builders) {
				valid++
			}
		}
	}

	out := make([]*Builder, 0, len(builders))
	for _, b := range builders {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *Builder) int {
		return slices.Compare(a.Phrase, b.Phrase)
	})
	return out, valid
}

// wellFormed rejects samples whose alignment is empty or points outside the
// sentence pair.
func wellFormed(s *model.Sample) bool {
	if len(s.Alignment) == 0 {
		return false
	}
	for _, p := range s.Alignment {
		if int(p.Source) >= len(s.Source) || int(p.Target) >= len(s.Target) {
			return false
		}
	}
	return true
}

func extractOccurrence(phrase []model.Wid, s *model.Sample, offset int, targetAligned []bool, builders map[string]*Builder) bool {
	sourceStart := offset
	sourceEnd := offset + len(phrase) - 1
	if sourceStart < 0 || sourceEnd >= len(s.Source) {
		return false
	}

	targetStart, targetEnd := len(s.Target)-1, -1
	for _, p := range s.Alignment {
		if inRange(sourceStart, int(p.Source), sourceEnd) {
			targetStart = min(targetStart, int(p.Target))
			targetEnd = max(targetEnd, int(p.Target))
		}
	}
	if targetEnd < 0 || targetEnd < targetStart {
		return false
	}

	var inBound model.Alignment
	for _, p := range s.Alignment {
		srcIn := inRange(sourceStart, int(p.Source), sourceEnd)
		tgtIn := inRange(targetStart, int(p.Target), targetEnd)
		if srcIn != tgtIn {
			return false
		}
		if srcIn {
			inBound = append(inBound, p)
		}
	}

	fwd, bwd := orientations(s, sourceStart, sourceEnd+1)
	extracted := false
	for ts := targetStart; ts >= 0; ts-- {
		if ts < targetStart && targetAligned[ts] {
			break
		}
		for te := targetEnd; te < len(s.Target); te++ {
			if te > targetEnd && targetAligned[te] {
				break
			}
			target := s.Target[ts : te+1]
			key := model.PhraseKey(target)
			b, ok := builders[key]
			if !ok {
				b = newBuilder(slices.Clone(target))
				builders[key] = b
			}
			shifted := make(model.Alignment, len(inBound))
			for i, p := range inBound {
				shifted[i] = model.AlignmentPoint{
					Source: p.Source - uint16(sourceStart),
					Target: p.Target - uint16(ts),
				}
			}
			b.add(shifted)
			b.Orientations.AddForward(fwd)
			b.Orientations.AddBackward(bwd)
			extracted = true
		}
	}
	return extracted
}

// orientations computes the forward and backward orientation of the source
// span [start, stop) of s. The target side is widened to the largest span
// that no outside-aligned target word interrupts.
func orientations(s *model.Sample, start, stop int) (model.Orientation, model.Orientation) {
	rows, cols := buildGrids(s.Alignment, len(s.Source), len(s.Target))
	forbidden := make([]bool, len(s.Target))
	lft, rgt := len(s.Target), 0
	for _, p := range s.Alignment {
		src, trg := int(p.Source), int(p.Target)
		if src < start || src >= stop {
			forbidden[trg] = true
		} else {
			lft = min(lft, trg)
			rgt = max(rgt, trg)
		}
	}
	if lft > rgt {
		return model.NoOrientation, model.NoOrientation
	}
	for i := lft; i <= rgt; i++ {
		if forbidden[i] {
			return model.NoOrientation, model.NoOrientation
		}
	}
	s2 := lft
	for s2 > 0 && !forbidden[s2-1] {
		s2--
	}
	e2 := rgt + 1
	for e2 < len(forbidden) && !forbidden[e2] {
		e2++
	}
	return forwardOrientation(rows, cols, start, stop, s2, e2),
		backwardOrientation(rows, cols, start, stop, s2, e2)
}

func inRange(lo, v, hi int) bool {
	return lo <= v && v <= hi
}
