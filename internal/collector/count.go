package collector

import (
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Side selects which half of the corpus a count is taken over.
type Side int

const (
	SourceSide Side = iota
	TargetSide
)

// Count returns the number of occurrences of phrase across every domain on
// the given side. Phrases that fit in one key are counted from the segment
// dictionaries without decoding postings.
func Count(snap *index.Snapshot, side Side, phrase []model.Wid) (int, error) {
	if len(phrase) == 0 {
		return 0, nil
	}
	var cursor index.Cursor
	if side == TargetSide {
		cursor = snap.TargetCursor()
	} else {
		cursor = snap.GlobalCursor()
	}
	if len(phrase) <= snap.PrefixLength() {
		n := 0
		cursor.Seek(phrase)
		for cursor.Next() {
			n += cursor.Count()
		}
		return n, nil
	}
	s := &state{cursor: cursor}
	return s.collect(phrase, snap.PrefixLength())
}
