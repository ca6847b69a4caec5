//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// startKafka runs a single-node Kafka container and returns its broker address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic on the test broker.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	controllerConn, err := kafkago.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}), "create topic %s", topic)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadFixtureRows reads the combined readings fixture as raw JSON rows, the
// same payloads the station collectors publish.
func loadFixtureRows(t *testing.T) []json.RawMessage {
	t.Helper()

	path := filepath.Join("..", "..", "data", "mock", "station_readings_250601_combined.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err, "read readings fixture")

	var rows []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &rows), "parse readings fixture")
	require.NotEmpty(t, rows)
	return rows
}

// makeReadingPayload builds one station reading envelope.
func makeReadingPayload(t *testing.T, stationID string, ts time.Time, temp, humidity, rainfall, wind float64) []byte {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"station_id":  stationID,
		"timestamp":   ts.Format(time.RFC3339),
		"temperature": temp,
		"humidity":    humidity,
		"rainfall":    rainfall,
		"wind_speed":  wind,
	})
	require.NoError(t, err)
	return payload
}
