// Package model defines the value types shared by the phrase table core:
// token ids, corpus records, index locations, samples and translation options.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Wid is a vocabulary token id.
type Wid uint32

// Reserved token ids.
const (
	WidUnknown Wid = 0
	WidStart   Wid = 1
	WidEnd     Wid = 2
)

// Domain identifies a corpus partition (a customer, a project, a topic).
type Domain uint32

// Stream is an ordered source of updates.
type Stream uint32

// Seq is the per-stream monotonic sequence id of an update.
type Seq int64

// SeqUnset is reported for streams that were never applied.
const SeqUnset Seq = -1

// MaxSentenceLength is the longest sentence an alignment point or a
// Location offset can address.
const MaxSentenceLength = 1 << 16

// UpdateID tags an update with its provenance.
type UpdateID struct {
	Stream Stream `json:"stream"`
	Seq    Seq    `json:"seq"`
}

// AlignmentPoint links a source position to a target position.
type AlignmentPoint struct {
	Source uint16 `json:"s"`
	Target uint16 `json:"t"`
}

// Alignment is a set of alignment points kept sorted by (source, target).
type Alignment []AlignmentPoint

// Normalize sorts the alignment and removes duplicate points in place.
func (a Alignment) Normalize() Alignment {
	if len(a) < 2 {
		return a
	}
	sort.Slice(a, func(i, j int) bool {
		if a[i].Source != a[j].Source {
			return a[i].Source < a[j].Source
		}
		return a[i].Target < a[j].Target
	})
	out := a[:1]
	for _, p := range a[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

// Record is an immutable sentence pair stored in the corpus.
type Record struct {
	Domain    Domain
	Source    []Wid
	Target    []Wid
	Alignment Alignment
}

// Location points at the occurrence of an indexed prefix: the corpus record
// and the token offset within it where the occurrence begins.
type Location struct {
	Pointer uint64
	Offset  uint16
	Domain  Domain
}

// Sample is a corpus record matched by a query phrase, together with every
// offset at which the phrase occurs in its source side.
type Sample struct {
	Domain    Domain
	Source    []Wid
	Target    []Wid
	Alignment Alignment
	Offsets   []int
}

// ContextEntry weights one domain of a query context.
type ContextEntry struct {
	Domain Domain  `json:"domain"`
	Weight float32 `json:"weight"`
}

// Context is a weighted mixture of domains. A nil Context queries the
// background partition only.
type Context []ContextEntry

// Update is an incoming sentence pair tagged with its stream position.
type Update struct {
	ID        UpdateID
	Domain    Domain
	Source    []Wid
	Target    []Wid
	Alignment Alignment
}

// Record returns the corpus record carried by the update.
func (u Update) Record() Record {
	return Record{
		Domain:    u.Domain,
		Source:    u.Source,
		Target:    u.Target,
		Alignment: u.Alignment,
	}
}

// PhraseKey renders a phrase as a comma-separated id list, used as a map key
// and as the wire form of a phrase.
func PhraseKey(phrase []Wid) string {
	var sb strings.Builder
	for i, w := range phrase {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatUint(uint64(w), 10))
	}
	return sb.String()
}

// ParsePhrase parses a phrase rendered by PhraseKey. Whitespace is accepted as
// a separator as well.
func ParsePhrase(s string) ([]Wid, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	phrase := make([]Wid, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, err
		}
		phrase = append(phrase, Wid(v))
	}
	return phrase, nil
}

// ParseAlignment parses whitespace-separated "source-target" points, as in
// "0-0 1-2 2-1".
func ParseAlignment(s string) (Alignment, error) {
	fields := strings.Fields(s)
	a := make(Alignment, 0, len(fields))
	for _, f := range fields {
		src, tgt, ok := strings.Cut(f, "-")
		if !ok {
			return nil, fmt.Errorf("alignment point %q: missing '-'", f)
		}
		sv, err := strconv.ParseUint(src, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("alignment point %q: %w", f, err)
		}
		tv, err := strconv.ParseUint(tgt, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("alignment point %q: %w", f, err)
		}
		a = append(a, AlignmentPoint{Source: uint16(sv), Target: uint16(tv)})
	}
	return a.Normalize(), nil
}
