package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/station-forecast-service/internal/config"
	"github.com/couchcryptid/station-forecast-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces forecast snapshots to a Kafka topic.
// It implements pipeline.SnapshotPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaForecastTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes multiple forecast snapshots to the
// forecast topic in a single WriteMessages call for efficiency.
func (w *Writer) PublishBatch(ctx context.Context, snaps []domain.ForecastSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(snaps))
	for i := range snaps {
		msg, err := serializeToMessage(snaps[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a snapshot into a Kafka message. The station ID
// keys the message so one station's snapshots stay ordered within a partition;
// headers let consumers route on advisory level without parsing the body.
func serializeToMessage(snap domain.ForecastSnapshot) (kafkago.Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast snapshot: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(snap.StationID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "station_id", Value: []byte(snap.StationID)},
			{Key: "horizon", Value: []byte(snap.Horizon)},
			{Key: "advisory", Value: []byte(snap.Advisory)},
			{Key: "generated_at", Value: []byte(snap.GeneratedAt.Format(time.RFC3339))},
			{Key: "fit_quality", Value: []byte(strconv.FormatFloat(snap.FitQuality, 'f', 4, 64))},
		},
	}, nil
}
