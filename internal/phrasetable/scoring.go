package phrasetable

import (
	"math"

	"gonum.org/v1/gonum/mathext"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Aligner supplies word-level translation probabilities for lexical
// weighting. *lexicon.Table implements it.
type Aligner interface {
	ForwardProbability(source, target model.Wid) float64
	BackwardProbability(source, target model.Wid) float64
	SourceNullProbability(source model.Wid) float64
	TargetNullProbability(target model.Wid) float64
}

// lexicalFloor replaces the log of a non-positive probability.
const lexicalFloor = -9

// frequencyScores returns the forward and backward log lower bounds on the
// translation probability of an option seen count times among samples valid
// samples. sourceGlobal and targetGlobal are the corpus-wide occurrence
// counts of the source and target phrase.
func frequencyScores(count, samples, sourceGlobal, targetGlobal int, confidence float64) (float64, float64) {
	fwd := math.Log(lbop(count, max(count, samples), confidence))

	estimated := count
	if sourceGlobal > 0 {
		estimated = int(math.Round(float64(samples) * float64(targetGlobal) / float64(sourceGlobal)))
	}
	bwd := math.Log(lbop(count, max(count, estimated), confidence))
	return fwd, min(0, bwd)
}

// lbop is the lower bound on the proportion succ/tries at the given
// confidence: the plain ratio at confidence 0, otherwise the one-sided
// Clopper-Pearson bound, the confidence quantile of Beta(succ, tries-succ+1).
func lbop(succ, tries int, confidence float64) float64 {
	if tries <= 0 {
		return 0
	}
	if confidence == 0 {
		return float64(succ) / float64(tries)
	}
	if succ <= 0 {
		return 0
	}
	return mathext.InvRegIncBeta(float64(succ), float64(tries-succ+1), confidence)
}

// lexicalScores computes the forward and backward lexical weights of an
// option on its best alignment. Every target word contributes the log of
// the mean probability over the source words it is aligned to, or of its
// null probability when unaligned; the backward score mirrors this over
// source words.
func lexicalScores(aligner Aligner, phrase []model.Wid, opt *builder.Builder, alignment model.Alignment) (float64, float64) {
	fwdSum := make([]float64, len(opt.Phrase))
	fwdN := make([]int, len(opt.Phrase))
	bwdSum := make([]float64, len(phrase))
	bwdN := make([]int, len(phrase))
	for _, p := range alignment {
		s, t := phrase[p.Source], opt.Phrase[p.Target]
		fwdSum[p.Target] += aligner.ForwardProbability(s, t)
		fwdN[p.Target]++
		bwdSum[p.Source] += aligner.BackwardProbability(s, t)
		bwdN[p.Source]++
	}

	var fwd, bwd float64
	for i, t := range opt.Phrase {
		prob := aligner.TargetNullProbability(t)
		if fwdN[i] > 0 {
			prob = fwdSum[i] / float64(fwdN[i])
		}
		fwd += logOrFloor(prob)
	}
	for i, s := range phrase {
		prob := aligner.SourceNullProbability(s)
		if bwdN[i] > 0 {
			prob = bwdSum[i] / float64(bwdN[i])
		}
		bwd += logOrFloor(prob)
	}
	return fwd, bwd
}

func logOrFloor(p float64) float64 {
	if p <= 0 {
		return lexicalFloor
	}
	return math.Log(p)
}
