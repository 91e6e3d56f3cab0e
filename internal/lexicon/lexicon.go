// Package lexicon loads word-to-word translation probabilities used for
// lexical weighting of phrase pairs.
//
// The model file holds one entry per line:
//
//	<source id> <target id> <p(target|source)> <p(source|target)>
//
// Source id 0 gives the probability of a target word aligned to nothing and
// target id 0 that of an unaligned source word. Blank lines and lines
// starting with '#' are ignored. Files ending in ".zst" are read through a
// zstd decoder.
package lexicon

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

type pair struct {
	source model.Wid
	target model.Wid
}

// Table is an in-memory lexical model. It is read-only after Load and safe
// for concurrent use.
type Table struct {
	forward    map[pair]float64
	backward   map[pair]float64
	sourceNull map[model.Wid]float64
	targetNull map[model.Wid]float64
	null       float64
}

// New creates an empty table that answers every query with the null
// probability.
func New(nullProbability float64) *Table {
	return &Table{
		forward:    make(map[pair]float64),
		backward:   make(map[pair]float64),
		sourceNull: make(map[model.Wid]float64),
		targetNull: make(map[model.Wid]float64),
		null:       nullProbability,
	}
}

// Load reads a lexical model file.
func Load(path string, nullProbability float64) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lexicon %s: %v", apperrors.ErrModelNotFound, path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	t := New(nullProbability)
	if err := t.read(r); err != nil {
		return nil, fmt.Errorf("reading lexicon %s: %w", path, err)
	}
	slog.Default().With("component", "lexicon").Info("lexicon loaded",
		"path", path,
		"entries", len(t.forward),
	)
	return t, nil
}

func (t *Table) read(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return fmt.Errorf("%w: line %d: want 4 fields, got %d", apperrors.ErrInvalidInput, line, len(fields))
		}
		src, err1 := strconv.ParseUint(fields[0], 10, 32)
		tgt, err2 := strconv.ParseUint(fields[1], 10, 32)
		fwd, err3 := strconv.ParseFloat(fields[2], 64)
		bwd, err4 := strconv.ParseFloat(fields[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return fmt.Errorf("%w: line %d: malformed entry %q", apperrors.ErrInvalidInput, line, text)
		}
		t.Set(model.Wid(src), model.Wid(tgt), fwd, bwd)
	}
	return sc.Err()
}

// Set stores the probabilities of one word pair.
func (t *Table) Set(source, target model.Wid, forward, backward float64) {
	switch {
	case source == 0:
		t.targetNull[target] = forward
	case target == 0:
		t.sourceNull[source] = backward
	default:
		p := pair{source: source, target: target}
		t.forward[p] = forward
		t.backward[p] = backward
	}
}

// ForwardProbability returns p(target|source).
func (t *Table) ForwardProbability(source, target model.Wid) float64 {
	if p, ok := t.forward[pair{source: source, target: target}]; ok {
		return p
	}
	return t.null
}

// BackwardProbability returns p(source|target).
func (t *Table) BackwardProbability(source, target model.Wid) float64 {
	if p, ok := t.backward[pair{source: source, target: target}]; ok {
		return p
	}
	return t.null
}

// SourceNullProbability returns the probability of source being unaligned.
func (t *Table) SourceNullProbability(source model.Wid) float64 {
	if p, ok := t.sourceNull[source]; ok {
		return p
	}
	return t.null
}

// TargetNullProbability returns the probability of target being unaligned.
func (t *Table) TargetNullProbability(target model.Wid) float64 {
	if p, ok := t.targetNull[target]; ok {
		return p
	}
	return t.null
}
