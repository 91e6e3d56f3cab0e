// Package ingest feeds the update manager from a Kafka topic. Every
// partition is one update stream and a message offset is the sequence id of
// the update it carries, so a restarted reader resumes right after the last
// committed update of its stream.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/kafka"
)

// UpdateEvent is the JSON payload of an update message.
type UpdateEvent struct {
	Domain    model.Domain    `json:"domain"`
	Source    []model.Wid     `json:"source"`
	Target    []model.Wid     `json:"target"`
	Alignment model.Alignment `json:"alignment"`
}

// Sink accepts decoded updates. *update.Manager implements it.
type Sink interface {
	Add(u model.Update) error
	Watermark(s model.Stream) model.Seq
}

// Decode turns a consumed message into an update tagged with its stream
// and sequence id.
func Decode(msg kafka.Message) (model.Update, error) {
	ev, err := kafka.DecodeJSON[UpdateEvent](msg.Value)
	if err != nil {
		return model.Update{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	if len(ev.Source) == 0 || len(ev.Target) == 0 {
		return model.Update{}, fmt.Errorf("%w: empty sentence at partition %d offset %d",
			apperrors.ErrInvalidInput, msg.Partition, msg.Offset)
	}
	return model.Update{
		ID:        model.UpdateID{Stream: model.Stream(msg.Partition), Seq: model.Seq(msg.Offset)},
		Domain:    ev.Domain,
		Source:    ev.Source,
		Target:    ev.Target,
		Alignment: ev.Alignment,
	}, nil
}

// Ingester runs one partition consumer per configured stream.
type Ingester struct {
	cfg    config.KafkaConfig
	sink   Sink
	logger *slog.Logger
}

// New creates an Ingester for the updates topic in cfg.
func New(cfg config.KafkaConfig, sink Sink) *Ingester {
	return &Ingester{
		cfg:    cfg,
		sink:   sink,
		logger: slog.Default().With("component", "ingest", "topic", cfg.UpdatesTopic),
	}
}

// Run consumes every configured partition until ctx is cancelled.
func (in *Ingester) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, partition := range in.cfg.Partitions {
		start := int64(in.sink.Watermark(model.Stream(partition))) + 1
		if start == 0 {
			start = -1
		}
		consumer, err := kafka.NewConsumer(in.cfg, in.cfg.UpdatesTopic, partition, start, in.handle)
		if err != nil {
			return err
		}
		in.logger.Info("resuming stream", "partition", partition, "offset", start)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Start(ctx)
		})
	}
	return g.Wait()
}

func (in *Ingester) handle(_ context.Context, msg kafka.Message) error {
	u, err := Decode(msg)
	if err != nil {
		return err
	}
	return in.sink.Add(u)
}
