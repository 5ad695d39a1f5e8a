package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"iotmon/internal/config"
	"iotmon/internal/logger"
	"iotmon/internal/metrics"
)

// KafkaPublisher mirrors every fan-out event onto a Kafka topic so
// downstream consumers outside the realtime hub can observe the same
// stream. Messages are keyed by group, which keeps per-group ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
	closed atomic.Bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

// kafkaEvent is the wire envelope written to the topic.
type kafkaEvent struct {
	Group       string      `json:"group"`
	Event       string      `json:"event"`
	Payload     interface{} `json:"payload"`
	PublishedAt time.Time   `json:"publishedAt"`
}

// NewKafkaPublisher creates a publisher for the configured topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // partition by group
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  cfg.MaxRetries + 1,
		Async:        false,
	}

	return &KafkaPublisher{
		writer: writer,
		log:    logger.WithComponent("kafka_publisher"),
	}
}

// Publish writes one event. Failures are logged and counted but never
// surfaced: the event mirror is best-effort. Implements Notifier.
func (p *KafkaPublisher) Publish(group, event string, payload interface{}) {
	if p.closed.Load() {
		return
	}

	data, err := json.Marshal(kafkaEvent{
		Group:       group,
		Event:       event,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		p.failed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		p.log.Error().Err(err).Str("event", event).Msg("failed to serialize event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.writer.WriteTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(group),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
			{Key: "group", Value: []byte(group)},
		},
		Time: time.Now(),
	})
	if err != nil {
		p.failed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		p.log.Error().
			Err(err).
			Str("group", group).
			Str("event", event).
			Msg("failed to publish event to kafka")
		return
	}

	p.sent.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
}

// Stats returns publish counters.
func (p *KafkaPublisher) Stats() (sent, failed uint64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
