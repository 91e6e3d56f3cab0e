// Command feeder publishes a word-aligned parallel corpus to the updates
// topic. Each input line is
//
//	domain ||| source ids ||| target ids ||| alignment
//
// with the alignment in "s-t" form. All lines go to one partition, which is
// one update stream of the phrase table.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/update/ingest"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	input := flag.String("input", "-", "corpus file, - for stdin")
	partition := flag.Int("partition", 0, "target partition (update stream)")
	batchSize := flag.Int("batch", 500, "events per publish call")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	var r io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			slog.Error("failed to open input", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		r = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.UpdatesTopic)
	defer producer.Close()

	key := kafka.PartitionKey(*partition)
	batch := make([]kafka.Event, 0, *batchSize)
	published, skipped := 0, 0
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := producer.PublishBatch(ctx, batch); err != nil {
			slog.Error("publish failed", "error", err, "published", published)
			return false
		}
		published += len(batch)
		batch = batch[:0]
		return true
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for scanner.Scan() {
		line++
		ev, err := parseLine(scanner.Text())
		if err != nil {
			slog.Warn("skipping line", "line", line, "error", err)
			skipped++
			continue
		}
		batch = append(batch, kafka.Event{Key: key, Value: ev})
		if len(batch) >= *batchSize && !flush() {
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("read failed", "error", err)
		os.Exit(1)
	}
	if !flush() {
		os.Exit(1)
	}
	slog.Info("corpus published",
		"topic", cfg.Kafka.UpdatesTopic,
		"partition", *partition,
		"published", published,
		"skipped", skipped,
	)
}

func parseLine(line string) (ingest.UpdateEvent, error) {
	parts := strings.Split(line, "|||")
	if len(parts) != 4 {
		return ingest.UpdateEvent{}, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	domain, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return ingest.UpdateEvent{}, fmt.Errorf("domain: %w", err)
	}
	source, err := model.ParsePhrase(parts[1])
	if err != nil {
		return ingest.UpdateEvent{}, fmt.Errorf("source: %w", err)
	}
	target, err := model.ParsePhrase(parts[2])
	if err != nil {
		return ingest.UpdateEvent{}, fmt.Errorf("target: %w", err)
	}
	alignment, err := model.ParseAlignment(parts[3])
	if err != nil {
		return ingest.UpdateEvent{}, err
	}
	if len(source) == 0 || len(target) == 0 {
		return ingest.UpdateEvent{}, fmt.Errorf("empty sentence")
	}
	return ingest.UpdateEvent{
		Domain:    model.Domain(domain),
		Source:    source,
		Target:    target,
		Alignment: alignment,
	}, nil
}
