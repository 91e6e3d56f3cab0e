// Package phrasetable is the query and update surface of the incremental
// phrase table. Lookups sample the indexed corpus, extract phrase pairs and
// score them; updates are buffered and committed in batches.
package phrasetable

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/collector"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/index"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/lexicon"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/update"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/tracing"
)

// Stats reports the committed index state and the pending update backlog.
type Stats struct {
	index.Stats
	BufferedUpdates int `json:"buffered_updates"`
}

// PhraseTable is safe for concurrent use.
type PhraseTable struct {
	cfg      config.PhraseTableConfig
	index    *index.Index
	updates  *update.Manager
	aligner  Aligner
	recorder metrics.Recorder
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// New opens the model at cfg.ModelPath and starts the update and merge
// loops. When aligner is nil and cfg.LexiconPath is set, the lexicon is
// loaded from that path; with neither, lexical scores are zero.
func New(cfg config.PhraseTableConfig, aligner Aligner, recorder metrics.Recorder) (*PhraseTable, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "phrase-table")
	if aligner == nil && cfg.LexiconPath != "" {
		table, err := lexicon.Load(cfg.LexiconPath, cfg.NullProbability)
		if err != nil {
			return nil, err
		}
		aligner = table
	}

	ix, err := index.Open(cfg, recorder)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	pt := &PhraseTable{
		cfg:      cfg,
		index:    ix,
		updates:  update.NewManager(ix, cfg, recorder),
		aligner:  aligner,
		recorder: metrics.OrNop(recorder),
		logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	pt.cancel = cancel
	pt.updates.Start(ctx)
	ix.StartMergeLoop(ctx)

	st := ix.Stats()
	logger.Info("phrase table opened",
		"model_path", cfg.ModelPath,
		"prefix_length", cfg.PrefixLength,
		"segments", st.Segments,
		"corpus_size", st.CorpusSize,
		"lexicon", aligner != nil,
	)
	return pt, nil
}

// GetTranslationOptions returns the scored translation options of phrase,
// most frequent first. Lookup failures are logged and yield no options.
func (pt *PhraseTable) GetTranslationOptions(ctx context.Context, phrase []model.Wid, domains model.Context) []model.TranslationOption {
	start := time.Now()
	if len(phrase) == 0 || ctx.Err() != nil {
		return nil
	}
	_, span := tracing.StartChildSpan(ctx, "phrase-lookup")
	defer span.End()
	span.SetAttr("phrase_len", len(phrase))
	snap, err := pt.index.Snapshot()
	if err != nil {
		pt.logger.Error("lookup failed", "phrase", model.PhraseKey(phrase), "error", err)
		return nil
	}
	defer snap.Release()

	c := collector.New(snap, domains, pt.recorder)
	defer c.Close()
	samples, err := c.Extend(phrase, pt.cfg.Samples)
	if err != nil {
		pt.logger.Error("sampling failed", "phrase", model.PhraseKey(phrase), "error", err)
		return nil
	}
	span.SetAttr("samples", len(samples))
	options, err := pt.makeOptions(snap, phrase, samples)
	if err != nil {
		pt.logger.Error("scoring failed", "phrase", model.PhraseKey(phrase), "error", err)
		return nil
	}
	span.SetAttr("options", len(options))
	pt.recorder.ObserveQuery("phrase", len(options), time.Since(start))
	return options
}

// GetAllTranslationOptions returns the options of every sub-phrase of
// sentence that occurs in the corpus, keyed by model.PhraseKey. Each start
// position extends its phrase one word at a time and stops at the first
// extension without samples. All start positions read the same snapshot.
func (pt *PhraseTable) GetAllTranslationOptions(ctx context.Context, sentence []model.Wid, domains model.Context) map[string][]model.TranslationOption {
	start := time.Now()
	table := make(map[string][]model.TranslationOption)
	if len(sentence) == 0 {
		return table
	}
	ctx, span := tracing.StartChildSpan(ctx, "sentence-lookup")
	defer span.End()
	span.SetAttr("sentence_len", len(sentence))
	snap, err := pt.index.Snapshot()
	if err != nil {
		pt.logger.Error("lookup failed", "error", err)
		return table
	}
	defer snap.Release()

	type entry struct {
		key     string
		options []model.TranslationOption
	}
	results := make([][]entry, len(sentence))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(pt.cfg.Parallelism, 1))
	for i := range sentence {
		g.Go(func() error {
			_, startSpan := tracing.StartChildSpan(ctx, "extend-from")
			defer startSpan.End()
			startSpan.SetAttr("start", i)
			c := collector.New(snap, domains, pt.recorder)
			defer c.Close()
			for end := i; end < len(sentence); end++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				samples, err := c.Extend(sentence[end:end+1], pt.cfg.Samples)
				if err != nil {
					return err
				}
				if len(samples) == 0 {
					break
				}
				phrase := c.Phrase()
				options, err := pt.makeOptions(snap, phrase, samples)
				if err != nil {
					return err
				}
				results[i] = append(results[i], entry{key: model.PhraseKey(phrase), options: options})
			}
			startSpan.SetAttr("phrases", len(results[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		pt.logger.Error("sentence lookup failed", "sentence_len", len(sentence), "error", err)
		return make(map[string][]model.TranslationOption)
	}

	n := 0
	for _, entries := range results {
		for _, e := range entries {
			if _, ok := table[e.key]; !ok {
				table[e.key] = e.options
				n += len(e.options)
			}
		}
	}
	pt.recorder.ObserveQuery("sentence", n, time.Since(start))
	return table
}

func (pt *PhraseTable) makeOptions(snap *index.Snapshot, phrase []model.Wid, samples []model.Sample) ([]model.TranslationOption, error) {
	builders, valid := builder.Extract(phrase, samples)
	if len(builders) == 0 {
		return nil, nil
	}
	sourceGlobal, err := collector.Count(snap, collector.SourceSide, phrase)
	if err != nil {
		return nil, fmt.Errorf("counting source phrase: %w", err)
	}

	options := make([]model.TranslationOption, 0, len(builders))
	for _, b := range builders {
		targetGlobal, err := collector.Count(snap, collector.TargetSide, b.Phrase)
		if err != nil {
			return nil, fmt.Errorf("counting target phrase: %w", err)
		}
		opt := b.Option()
		fwd, bwd := frequencyScores(b.Count, valid, sourceGlobal, targetGlobal, pt.cfg.Confidence)
		opt.Scores[model.ForwardProbabilityScore] = float32(fwd)
		opt.Scores[model.BackwardProbabilityScore] = float32(bwd)
		if pt.aligner != nil {
			fwdLex, bwdLex := lexicalScores(pt.aligner, phrase, b, opt.Alignment)
			opt.Scores[model.ForwardLexicalScore] = float32(fwdLex)
			opt.Scores[model.BackwardLexicalScore] = float32(bwdLex)
		}
		options = append(options, opt)
	}
	slices.SortStableFunc(options, func(a, b model.TranslationOption) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return slices.Compare(a.TargetPhrase, b.TargetPhrase)
	})
	return options, nil
}

// Add queues a sentence pair for indexing. It returns once the update is
// buffered; an update already applied or buffered for its stream is ignored.
func (pt *PhraseTable) Add(id model.UpdateID, domain model.Domain, source, target []model.Wid, alignment model.Alignment) error {
	return pt.updates.Add(model.Update{
		ID:        id,
		Domain:    domain,
		Source:    source,
		Target:    target,
		Alignment: alignment,
	})
}

// GetLatestUpdatesIdentifier returns the last applied sequence id of every
// stream that has ever been applied.
func (pt *PhraseTable) GetLatestUpdatesIdentifier() map[model.Stream]model.Seq {
	return pt.index.Streams()
}

// LatestSeq returns the last applied sequence id of s, or model.SeqUnset.
func (pt *PhraseTable) LatestSeq(s model.Stream) model.Seq {
	return pt.index.Watermark(s)
}

// OnFlush registers a hook called after every committed batch.
func (pt *PhraseTable) OnFlush(hook update.FlushHook) {
	pt.updates.OnFlush(hook)
}

// Updates returns the update manager, for feeding updates that already
// carry their model.Update form.
func (pt *PhraseTable) Updates() *update.Manager {
	return pt.updates
}

// Checkpoint pins the current committed model state for copying.
func (pt *PhraseTable) Checkpoint() (*index.Checkpoint, error) {
	return pt.index.Checkpoint()
}

// Flush commits every buffered update.
func (pt *PhraseTable) Flush(ctx context.Context) error {
	return pt.updates.Flush(ctx)
}

// Merge compacts the index into a single segment when it holds more than
// maxSegments.
func (pt *PhraseTable) Merge(maxSegments int) error {
	return pt.index.Merge(maxSegments)
}

// Stats reports the committed index state.
func (pt *PhraseTable) Stats() Stats {
	return Stats{
		Stats:           pt.index.Stats(),
		BufferedUpdates: pt.updates.BufferLen(),
	}
}

// Close flushes pending updates, stops the background loops and closes the
// index.
func (pt *PhraseTable) Close() error {
	flushErr := pt.updates.Close()
	pt.cancel()
	if err := pt.index.Close(); err != nil {
		return err
	}
	if flushErr != nil {
		return fmt.Errorf("final flush: %w", flushErr)
	}
	pt.logger.Info("phrase table closed")
	return nil
}
