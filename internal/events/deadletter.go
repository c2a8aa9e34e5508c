package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DeadLetterStream = "webhooks:deadletter"

type DeadLetter struct {
	StreamID  string
	EventID   string
	EventType string
	SessionID string
	ListingID string
	Error     string
	FailedAt  time.Time
}

// DeadLetterLog records webhook side effects that failed after the event was
// acknowledged, for reconciliation.
type DeadLetterLog struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewDeadLetterLog(client *redis.Client) *DeadLetterLog {
	return &DeadLetterLog{client: client, stream: DeadLetterStream, maxLen: 10000}
}

func (d *DeadLetterLog) Record(ctx context.Context, entry DeadLetter) error {
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	_, err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   entry.EventID,
			"event_type": entry.EventType,
			"session_id": entry.SessionID,
			"listing_id": entry.ListingID,
			"error":      entry.Error,
			"failed_at":  entry.FailedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("dead letter xadd: %w", err)
	}
	return nil
}

// Recent returns up to count entries, newest first.
func (d *DeadLetterLog) Recent(ctx context.Context, count int64) ([]DeadLetter, error) {
	msgs, err := d.client.XRevRangeN(ctx, d.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("dead letter xrevrange: %w", err)
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		entry := DeadLetter{
			StreamID:  msg.ID,
			EventID:   str(msg.Values["event_id"]),
			EventType: str(msg.Values["event_type"]),
			SessionID: str(msg.Values["session_id"]),
			ListingID: str(msg.Values["listing_id"]),
			Error:     str(msg.Values["error"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, str(msg.Values["failed_at"])); err == nil {
			entry.FailedAt = ts
		}
		out = append(out, entry)
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
