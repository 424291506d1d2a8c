package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"onchain-collector/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const latestKeyPrefix = "onchain:latest:"

// RecordCache keeps the latest persisted record per symbol. A nil client
// turns every call into a miss or no-op.
type RecordCache struct {
	client *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRecordCache(client *redis.Client, tracer trace.Tracer, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RecordCache{client: client, tracer: tracer, ttl: ttl}
}

func latestKey(symbol string) string {
	return latestKeyPrefix + strings.ToUpper(symbol)
}

// Get returns the cached record for symbol. Errors other than a miss are
// returned so callers can log them and fall back to storage.
func (c *RecordCache) Get(ctx context.Context, symbol string) (*domain.MetricRecord, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	_, span := c.tracer.Start(ctx, "record-cache.get")
	defer span.End()

	raw, err := c.client.Get(ctx, latestKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.MetricRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetLatest stores each record under its symbol in one pipeline.
func (c *RecordCache) SetLatest(ctx context.Context, records []domain.MetricRecord) error {
	if c == nil || c.client == nil || len(records) == 0 {
		return nil
	}
	_, span := c.tracer.Start(ctx, "record-cache.set-latest")
	defer span.End()

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			payload, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			pipe.Set(ctx, latestKey(rec.Symbol), string(payload), c.ttl)
		}
		return nil
	})
	return err
}
