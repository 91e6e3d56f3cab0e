// Package collector walks the prefix index for a phrase that grows one
// extension at a time, keeping per-domain posting state between calls so
// that each extension only pays for its new suffix.
package collector

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/posting"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
)

type state struct {
	domain   model.Domain
	cursor   index.Cursor
	postings *posting.List
	// offset is the phrase length postings already account for.
	offset int
}

// collect brings the state's postings up to date with phrase and returns
// their size.
func (s *state) collect(phrase []model.Wid, prefixLength int) (int, error) {
	length := len(phrase)
	if length < prefixLength {
		s.postings = posting.New()
		if err := collectPhrase(s.cursor, phrase, s.postings); err != nil {
			return 0, err
		}
		return s.postings.Size(), nil
	}

	start := s.offset
	if s.postings == nil {
		start = 0
	}
	for start < length {
		if start+prefixLength > length {
			start = length - prefixLength
		}
		if start == 0 {
			s.postings = posting.New()
			if err := collectPhrase(s.cursor, phrase[:prefixLength], s.postings); err != nil {
				return 0, err
			}
		} else {
			successors := posting.New()
			if err := collectPhrase(s.cursor, phrase[start:start+prefixLength], successors); err != nil {
				return 0, err
			}
			s.postings.Retain(successors, start)
		}
		if s.postings.Empty() {
			break
		}
		start += prefixLength
	}
	return s.postings.Size(), nil
}

func collectPhrase(c index.Cursor, tokens []model.Wid, into *posting.List) error {
	var buf []model.Location
	c.Seek(tokens)
	for c.Next() {
		var err error
		buf, err = c.Locations(buf[:0])
		if err != nil {
			return err
		}
		into.AddAll(buf)
	}
	return nil
}

// Collector is a single-query session. It is not safe for concurrent use.
type Collector struct {
	snap         *index.Snapshot
	owned        bool
	prefixLength int
	phrase       []model.Wid
	inDomain     []*state
	background   *state
	recorder     metrics.Recorder
	logger       *slog.Logger
}

// New starts a session over snap. Context domains are searched in order of
// decreasing weight; the background partition covers every other domain.
// A nil or empty context searches the background only.
func New(snap *index.Snapshot, context model.Context, recorder metrics.Recorder) *Collector {
	c := &Collector{
		snap:         snap,
		prefixLength: snap.PrefixLength(),
		phrase:       make([]model.Wid, 0, 20),
		recorder:     metrics.OrNop(recorder),
		logger:       slog.Default().With("component", "collector"),
	}
	entries := slices.Clone(context)
	slices.SortStableFunc(entries, func(a, b model.ContextEntry) int {
		return cmp.Compare(b.Weight, a.Weight)
	})
	excluded := make([]model.Domain, 0, len(entries))
	seen := make(map[model.Domain]bool, len(entries))
	for _, e := range entries {
		if seen[e.Domain] {
			continue
		}
		seen[e.Domain] = true
		excluded = append(excluded, e.Domain)
		c.inDomain = append(c.inDomain, &state{domain: e.Domain, cursor: snap.DomainCursor(e.Domain)})
	}
	c.background = &state{cursor: snap.BackgroundCursor(excluded)}
	return c
}

// Open acquires a fresh snapshot of ix and starts a session over it. Close
// releases the snapshot.
func Open(ix *index.Index, context model.Context, recorder metrics.Recorder) (*Collector, error) {
	snap, err := ix.Snapshot()
	if err != nil {
		return nil, err
	}
	c := New(snap, context, recorder)
	c.owned = true
	return c, nil
}

// Phrase returns the phrase accumulated so far.
func (c *Collector) Phrase() []model.Wid {
	return c.phrase
}

// Extend appends tokens to the session phrase and returns samples of the
// extended phrase. With limit 0 every occurrence is returned; otherwise at
// most limit samples are. In-context domains are drained before the
// background partition. A domain that stops matching is dropped for the
// rest of the session.
func (c *Collector) Extend(tokens []model.Wid, limit int) ([]model.Sample, error) {
	start := time.Now()
	c.phrase = append(c.phrase, tokens...)
	if len(c.phrase) == 0 {
		return nil, nil
	}
	seed := posting.PhraseSeed(c.phrase)

	var locations []model.Location
	availability := limit
	full := false

	kept := c.inDomain[:0]
	for i, s := range c.inDomain {
		if full {
			kept = append(kept, c.inDomain[i:]...)
			break
		}
		collected, err := s.collect(c.phrase, c.prefixLength)
		if err != nil {
			return nil, err
		}
		s.offset = len(c.phrase)
		if collected == 0 {
			c.logger.Debug("domain exhausted", "domain", s.domain, "phrase_len", len(c.phrase))
			continue
		}
		if limit == 0 || collected < availability {
			locations = s.postings.Locations(locations, 0, seed)
			availability -= collected
		} else {
			locations = s.postings.Locations(locations, availability, seed)
			availability = 0
			full = true
		}
		if len(c.phrase) < c.prefixLength {
			s.postings = nil
		}
		kept = append(kept, s)
	}
	c.inDomain = kept

	if c.background != nil && !full {
		s := c.background
		collected, err := s.collect(c.phrase, c.prefixLength)
		if err != nil {
			return nil, err
		}
		s.offset = len(c.phrase)
		if collected > 0 {
			locations = s.postings.Locations(locations, availability, seed)
			if len(c.phrase) < c.prefixLength {
				s.postings = nil
			}
		} else {
			c.background = nil
		}
	}

	samples := c.retrieve(locations)
	c.recorder.ObserveCollect(len(locations), len(samples), time.Since(start))
	return samples, nil
}

// retrieve resolves locations into samples, one per corpus record.
func (c *Collector) retrieve(locations []model.Location) []model.Sample {
	if len(locations) == 0 {
		return nil
	}
	slices.SortFunc(locations, func(a, b model.Location) int {
		if a.Pointer != b.Pointer {
			return cmp.Compare(b.Pointer, a.Pointer)
		}
		return cmp.Compare(b.Offset, a.Offset)
	})
	locations = slices.Compact(locations)

	samples := make([]model.Sample, 0, len(locations))
	var (
		last    *model.Sample
		lastPtr uint64
	)
	for _, loc := range locations {
		if last != nil && lastPtr == loc.Pointer {
			last.Offsets = append(last.Offsets, int(loc.Offset))
			continue
		}
		lastPtr = loc.Pointer
		rec, err := c.snap.Retrieve(loc.Pointer)
		if err != nil {
			c.logger.Warn("skipping unreadable corpus record", "pointer", loc.Pointer, "error", err)
			last = nil
			continue
		}
		samples = append(samples, model.Sample{
			Domain:    rec.Domain,
			Source:    rec.Source,
			Target:    rec.Target,
			Alignment: rec.Alignment,
			Offsets:   []int{int(loc.Offset)},
		})
		last = &samples[len(samples)-1]
	}
	return samples
}

// Close ends the session, releasing the snapshot if the session acquired it.
func (c *Collector) Close() {
	c.inDomain = nil
	c.background = nil
	if c.owned {
		c.snap.Release()
	}
}
