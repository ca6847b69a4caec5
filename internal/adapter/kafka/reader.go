package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/config"
	"github.com/couchcryptid/station-forecast-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// drainTimeout bounds how long ExtractBatch waits for follow-up messages
// after the first one arrives.
const drainTimeout = 100 * time.Millisecond

// Reader consumes raw readings from a Kafka topic as part of a consumer group.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured readings topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaReadingsTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, logger: logger}
}

// ExtractBatch fetches up to batchSize messages from the readings topic. It
// blocks until the first message arrives, then drains whatever else is
// immediately available so a quiet topic still yields single-message batches
// promptly.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawReading, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]domain.RawReading, 0, batchSize)
	batch = append(batch, r.withCommit(first))

	for len(batch) < batchSize {
		drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
		msg, err := r.reader.FetchMessage(drainCtx)
		cancel()
		if err != nil {
			break
		}
		batch = append(batch, r.withCommit(msg))
	}

	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// withCommit maps a message and attaches an offset-commit closure bound to
// this reader's consumer group.
func (r *Reader) withCommit(msg kafkago.Message) domain.RawReading {
	raw := mapMessageToRawReading(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

// mapMessageToRawReading copies the Kafka message fields into the domain type.
func mapMessageToRawReading(msg kafkago.Message) domain.RawReading {
	return domain.RawReading{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
