package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"onchain-collector/internal/domain"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func testRecord(symbol string) domain.MetricRecord {
	rec := domain.NewMetricRecord(domain.Asset{Symbol: symbol, Network: domain.NetworkProofOfStake}, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	rec.Set(domain.FieldTVL, 1e9)
	rec.DataSources = "defillama"
	return rec
}

func TestPublishKeysBySymbol(t *testing.T) {
	w := &captureWriter{}
	p := newPublisher(w, trace.NewNoopTracerProvider().Tracer("test"), nil)

	err := p.Publish(context.Background(), "cycle-1", []domain.MetricRecord{testRecord("eth"), testRecord("ADA")})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "ETH", string(w.msgs[0].Key))
	assert.Equal(t, "cycle_id", w.msgs[0].Headers[0].Key)

	var ev RecordEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, "cycle-1", ev.CycleID)
	assert.Equal(t, "ADA", ev.Record.Symbol)
	require.NotNil(t, ev.Record.TVL)
	assert.Equal(t, 1e9, *ev.Record.TVL)
}

func TestPublishWrapsWriterErrors(t *testing.T) {
	w := &captureWriter{err: errors.New("leader not available")}
	p := newPublisher(w, trace.NewNoopTracerProvider().Tracer("test"), nil)

	err := p.Publish(context.Background(), "c", []domain.MetricRecord{testRecord("BTC")})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
}

func TestNilPublisherIsNoop(t *testing.T) {
	p := NewPublisher(Config{Brokers: []string{" ", ""}}, trace.NewNoopTracerProvider().Tracer("test"), nil)
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(context.Background(), "c", []domain.MetricRecord{testRecord("BTC")}))
	assert.NoError(t, p.Close())
}

func TestNewPublisherBuildsWriter(t *testing.T) {
	p := NewPublisher(Config{Brokers: []string{"kafka:9092"}}, trace.NewNoopTracerProvider().Tracer("test"), nil)
	require.NotNil(t, p)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "onchain.metrics", w.Topic)
	assert.NoError(t, p.Close())
}
