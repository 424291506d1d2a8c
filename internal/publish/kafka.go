// Package publish feeds persisted records to downstream consumers over Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/metrics"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RecordEvent is the message value written per persisted record.
type RecordEvent struct {
	CycleID string              `json:"cycle_id"`
	Record  domain.MetricRecord `json:"record"`
}

type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type Publisher struct {
	writer  messageWriter
	tracer  trace.Tracer
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewPublisher returns nil when no brokers are configured; a nil Publisher is
// a no-op.
func NewPublisher(cfg Config, tracer trace.Tracer, rec *metrics.Recorder) *Publisher {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil
	}
	if cfg.Topic == "" {
		cfg.Topic = "onchain.metrics"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newPublisher(w, tracer, rec)
}

func newPublisher(w messageWriter, tracer trace.Tracer, rec *metrics.Recorder) *Publisher {
	return &Publisher{writer: w, tracer: tracer, metrics: rec, now: time.Now}
}

// Publish writes one message per record, keyed by symbol so a consumer sees
// each asset's records in order.
func (p *Publisher) Publish(ctx context.Context, cycleID string, records []domain.MetricRecord) error {
	if p == nil || len(records) == 0 {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "publisher.publish")
	defer span.End()

	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(RecordEvent{CycleID: cycleID, Record: rec})
		if err != nil {
			return fmt.Errorf("marshal %s: %w", rec.Key(), err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(strings.ToUpper(rec.Symbol)),
			Value:   value,
			Time:    p.now().UTC(),
			Headers: []kafka.Header{{Key: "cycle_id", Value: []byte(cycleID)}},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.metrics.Published("error")
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	p.metrics.Published("ok")
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
