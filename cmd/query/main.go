// Command query reads phrases or sentences of token ids from stdin, one per
// line, and prints their translation options as JSON lines.
//
//	query [-config file] [-m model] [-a lexicon] [-s samples] [-context d:w,...] [-sentence] [-q]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/phrasetable"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
)

type result struct {
	Phrase  string                               `json:"phrase"`
	Count   int                                  `json:"count"`
	Options []model.TranslationOption            `json:"options,omitempty"`
	Spans   map[string][]model.TranslationOption `json:"spans,omitempty"`
}

type table interface {
	GetTranslationOptions(ctx context.Context, phrase []model.Wid, domains model.Context) []model.TranslationOption
	GetAllTranslationOptions(ctx context.Context, sentence []model.Wid, domains model.Context) map[string][]model.TranslationOption
}

type queryOptions struct {
	domains  model.Context
	sentence bool
	quiet    bool
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	modelPath := flag.String("m", "", "model directory (overrides phraseTable.modelPath)")
	lexiconPath := flag.String("a", "", "aligner lexicon (overrides phraseTable.lexiconPath)")
	samples := flag.Int("s", -1, "samples per phrase (overrides phraseTable.samples)")
	contextFlag := flag.String("context", "", "domain mixture as domain:weight,...")
	sentence := flag.Bool("sentence", false, "treat each line as a sentence and look up every span")
	quiet := flag.Bool("q", false, "print only the number of options per line")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	if *modelPath != "" {
		cfg.PhraseTable.ModelPath = *modelPath
	}
	if *lexiconPath != "" {
		cfg.PhraseTable.LexiconPath = *lexiconPath
	}
	if *samples >= 0 {
		cfg.PhraseTable.Samples = *samples
	}
	domains, err := handler.ParseContext(*contextFlag)
	if err != nil {
		slog.Error("invalid context", "error", err)
		os.Exit(1)
	}

	opts := queryOptions{domains: domains, sentence: *sentence, quiet: *quiet}
	if err := run(context.Background(), cfg.PhraseTable, opts); err != nil {
		slog.Error("query failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.PhraseTableConfig, opts queryOptions) error {
	cfg.Create = false
	cfg.MergeInterval = 0
	pt, err := phrasetable.New(cfg, nil, nil)
	if err != nil {
		return fmt.Errorf("opening phrase table: %w", err)
	}
	defer pt.Close()
	return query(ctx, pt, os.Stdin, os.Stdout, opts)
}

// query answers every line of in, skipping malformed and empty lines.
func query(ctx context.Context, pt table, in io.Reader, w io.Writer, opts queryOptions) error {
	out := json.NewEncoder(w)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		phrase, err := model.ParsePhrase(scanner.Text())
		if err != nil {
			slog.Warn("skipping malformed line", "error", err)
			continue
		}
		if len(phrase) == 0 {
			continue
		}
		res := result{Phrase: model.PhraseKey(phrase)}
		if opts.sentence {
			spans := pt.GetAllTranslationOptions(ctx, phrase, opts.domains)
			for _, options := range spans {
				res.Count += len(options)
			}
			if !opts.quiet {
				res.Spans = spans
			}
		} else {
			options := pt.GetTranslationOptions(ctx, phrase, opts.domains)
			res.Count = len(options)
			if !opts.quiet {
				res.Options = options
			}
		}
		if err := out.Encode(res); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}
