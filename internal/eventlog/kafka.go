package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/sandro988/Weather-API/internal/models"
	"github.com/sandro988/Weather-API/internal/observability"
)

// KafkaLog appends request events to a Kafka topic. One record per request,
// keyed by city, produced synchronously with a bounded timeout so a slow or
// unreachable broker delays the request by at most that bound.
type KafkaLog struct {
	topic   string
	timeout time.Duration
	client  *kgo.Client
}

// NewKafkaLog creates a producer for the given brokers and topic. timeout is
// the per-append bound; it falls back to 2s when zero.
func NewKafkaLog(brokers []string, topic string, timeout time.Duration) (*KafkaLog, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("eventlog: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("eventlog: topic is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProduceRequestTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create kafka client: %w", err)
	}
	return &KafkaLog{topic: topic, timeout: timeout, client: client}, nil
}

// Append produces one EventLogRecord to the topic. The produce is synchronous
// but bounded by the configured timeout; failures wrap ErrUnavailable.
func (l *KafkaLog) Append(ctx context.Context, record models.EventLogRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("eventlog: encode record: %w", err)
	}

	produceCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	msg := &kgo.Record{
		Topic: l.topic,
		Key:   []byte(record.City),
		Value: value,
	}
	results := l.client.ProduceSync(produceCtx, msg)
	if err := results.FirstErr(); err != nil {
		observability.EventLogErrorsTotal.Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	observability.EventLogAppendsTotal.WithLabelValues(string(record.Outcome)).Inc()
	return nil
}

// Ping checks broker reachability. Used by the health endpoint.
func (l *KafkaLog) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.client.Ping(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close flushes buffered records and closes the client. Call during shutdown.
func (l *KafkaLog) Close() error {
	flushCtx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_ = l.client.Flush(flushCtx)
	l.client.Close()
	return nil
}
