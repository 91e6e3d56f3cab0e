package phrasetable

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mathext"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

func TestLowerBoundIsBetaQuantile(t *testing.T) {
	for _, tc := range []struct{ succ, tries int }{{1, 1}, {2, 5}, {3, 9}, {40, 100}} {
		for _, conf := range []float64{0.01, 0.05, 0.5} {
			x := lbop(tc.succ, tc.tries, conf)
			got := mathext.RegIncBeta(float64(tc.succ), float64(tc.tries-tc.succ+1), x)
			assert.InDelta(t, conf, got, 1e-9, "succ=%d tries=%d conf=%g", tc.succ, tc.tries, conf)
		}
	}
	// Beta(a, 1) has CDF x^a
	assert.InDelta(t, 0.1, lbop(2, 2, 0.01), 1e-9)
	assert.InDelta(t, 0.01, lbop(1, 1, 0.01), 1e-9)
}

func TestLowerBoundOnProportion(t *testing.T) {
	assert.Equal(t, 0.5, lbop(2, 4, 0))
	assert.Zero(t, lbop(0, 4, 0.01))
	assert.Zero(t, lbop(3, 0, 0.01))
	// one success in four tries: 1 - (1 - conf)^(1/4)
	assert.InDelta(t, 1-math.Pow(0.99, 0.25), lbop(1, 4, 0.01), 1e-9)

	sparse := lbop(1, 2, 0.01)
	dense := lbop(100, 200, 0.01)
	assert.Less(t, sparse, dense)
	assert.Less(t, dense, 0.5)
}

func TestFrequencyScores(t *testing.T) {
	fwd, bwd := frequencyScores(2, 4, 4, 2, 0)
	assert.InDelta(t, math.Log(0.5), fwd, 1e-9)
	assert.InDelta(t, 0, bwd, 1e-9)

	fwd, bwd = frequencyScores(2, 4, 4, 2, 0.01)
	assert.Less(t, fwd, 0.0)
	assert.InDelta(t, math.Log(0.1), bwd, 1e-6)

	// bounded above by zero
	_, bwd = frequencyScores(3, 3, 0, 0, 0)
	assert.Zero(t, bwd)
}

func TestLexicalScores(t *testing.T) {
	lex := lexicon.New(1e-4)
	lex.Set(5, 40, 0.5, 0.4)
	lex.Set(12, 40, 0.1, 0.2)
	lex.Set(12, 41, 0.8, 0.6)
	lex.Set(0, 42, 0.05, 0)

	b := &builder.Builder{Phrase: []model.Wid{40, 41, 42}}
	alignment := model.Alignment{{Source: 0, Target: 0}, {Source: 1, Target: 0}, {Source: 1, Target: 1}}
	fwd, bwd := lexicalScores(lex, []model.Wid{5, 12}, b, alignment)

	assert.InDelta(t, math.Log(0.3)+math.Log(0.8)+math.Log(0.05), fwd, 1e-9)
	assert.InDelta(t, math.Log(0.4)+math.Log(0.4), bwd, 1e-9)
}

func TestLexicalScoreFloor(t *testing.T) {
	lex := lexicon.New(0)
	b := &builder.Builder{Phrase: []model.Wid{40}}
	fwd, bwd := lexicalScores(lex, []model.Wid{5, 6}, b, nil)
	assert.Equal(t, float64(lexicalFloor), fwd)
	assert.Equal(t, float64(2*lexicalFloor), bwd)
}
