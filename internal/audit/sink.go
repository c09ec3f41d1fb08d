package audit

import (
	"context"
	"encoding/json"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"shiftledger/backend/internal/domain"
)

// Sink receives a copy of every committed audit record.
type Sink interface {
	Mirror(ctx context.Context, entry domain.AuditLog) error
}

type NoopSink struct{}

func (NoopSink) Mirror(_ context.Context, _ domain.AuditLog) error {
	return nil
}

// RedisStreamSink appends audit records to a capped redis stream.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if maxLen < 1 {
		maxLen = 100000
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Mirror(ctx context.Context, entry domain.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"sequence": strconv.FormatInt(entry.Sequence, 10),
			"shift_id": entry.ShiftID,
			"action":   string(entry.Action),
			"payload":  payload,
		},
	}).Err()
}
