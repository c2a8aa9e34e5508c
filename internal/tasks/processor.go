package tasks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"boatmarket/internal/jobs"
	"boatmarket/internal/service"
)

type StagingReaper interface {
	ReapOlderThan(ctx context.Context, age time.Duration) (service.ReapReport, error)
	ReapSession(ctx context.Context, sessionID string) bool
}

// Processor runs maintenance tasks read from the worker stream.
type Processor struct {
	staging    StagingReaper
	defaultAge time.Duration
	timeout    time.Duration
	logger     zerolog.Logger
}

type TaskPayload struct {
	Type      string
	Hours     string
	SessionID string
}

func NewProcessor(staging StagingReaper, defaultAge time.Duration, logger zerolog.Logger) *Processor {
	return &Processor{
		staging:    staging,
		defaultAge: defaultAge,
		timeout:    10 * time.Minute,
		logger:     logger.With().Str("component", "tasks").Logger(),
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	payload := decodePayload(msg.Values)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch payload.Type {
	case jobs.TaskReapStaging:
		return p.handleReapStaging(ctx, payload)
	case jobs.TaskReapSession:
		return p.handleReapSession(ctx, payload)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]any) TaskPayload {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	return TaskPayload{
		Type:      str("type"),
		Hours:     str("hours"),
		SessionID: str("sessionId"),
	}
}

func (p *Processor) handleReapStaging(ctx context.Context, payload TaskPayload) error {
	age := p.defaultAge
	if payload.Hours != "" {
		hours, err := strconv.ParseFloat(payload.Hours, 64)
		if err != nil || hours <= 0 {
			p.logger.Warn().Str("hours", payload.Hours).Msg("invalid reap age, using default")
		} else {
			age = time.Duration(hours * float64(time.Hour))
		}
	}

	report, err := p.staging.ReapOlderThan(ctx, age)
	if err != nil {
		return fmt.Errorf("reap staging: %w", err)
	}
	p.logger.Info().
		Dur("age", age).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Int("total_found", report.TotalFound).
		Msg("staging reap finished")
	return nil
}

func (p *Processor) handleReapSession(ctx context.Context, payload TaskPayload) error {
	if payload.SessionID == "" {
		p.logger.Warn().Msg("reap_session task without sessionId")
		return nil
	}
	if !p.staging.ReapSession(ctx, payload.SessionID) {
		return fmt.Errorf("reap session %s incomplete", payload.SessionID)
	}
	return nil
}
