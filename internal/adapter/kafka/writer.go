// Package kafka publishes artifact-ready notifications.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-mirs-merge/internal/config"
	"github.com/couchcryptid/storm-mirs-merge/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier produces one message per written artifact.
// It implements pipeline.Notifier.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured artifact topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyArtifact publishes an ArtifactEvent for ds, written at path.
func (n *Notifier) NotifyArtifact(ctx context.Context, ds *domain.OutputDataset, path string) error {
	ev := domain.NewArtifactEvent(uuid.NewString(), ds, path)
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish artifact event: %w", err)
	}
	n.logger.Info("artifact event published", "artifact", ev.Artifact, "event_id", ev.ID)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals an ArtifactEvent into a Kafka message keyed by
// artifact name, so events for one storm-year share a partition.
func serializeToMessage(ev domain.ArtifactEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Artifact),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "storm_year", Value: []byte(strconv.Itoa(ev.Year))},
			{Key: "written_at", Value: []byte(ev.WrittenAt.Format(time.RFC3339))},
		},
	}, nil
}
