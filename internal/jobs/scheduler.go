package jobs

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"boatmarket/internal/config"
)

// Task types understood by the worker.
const (
	TaskReapStaging = "reap_staging"
	TaskReapSession = "reap_session"
)

// Scheduler enqueues periodic maintenance tasks onto the worker stream.
type Scheduler struct {
	cron     *cron.Cron
	queue    redis.Cmdable
	stream   string
	schedule string
	reapAge  time.Duration
	log      zerolog.Logger
}

func NewScheduler(queue redis.Cmdable, worker config.WorkerConfig, staging config.StagingConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		queue:    queue,
		stream:   worker.Stream,
		schedule: staging.ReapSchedule,
		reapAge:  staging.ReapAfter,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueReap); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("staging reaper scheduled")
	return nil
}

// Stop halts the cron and returns once running jobs have finished.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) enqueueReap() {
	hours := strconv.FormatFloat(s.reapAge.Hours(), 'f', -1, 64)
	if err := Enqueue(context.Background(), s.queue, s.stream, map[string]any{
		"type":  TaskReapStaging,
		"hours": hours,
	}); err != nil {
		s.log.Error().Err(err).Msg("enqueue staging reap failed")
	}
}

// Enqueue appends a task to stream.
func Enqueue(ctx context.Context, queue redis.Cmdable, stream string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return queue.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: payload,
	}).Err()
}

// TaskQueue enqueues one-off tasks for the worker.
type TaskQueue struct {
	client redis.Cmdable
	stream string
}

func NewTaskQueue(client redis.Cmdable, stream string) *TaskQueue {
	return &TaskQueue{client: client, stream: stream}
}

// EnqueueSessionReap asks the worker to retry wiping a staging session.
func (q *TaskQueue) EnqueueSessionReap(ctx context.Context, sessionID string) error {
	return Enqueue(ctx, q.client, q.stream, map[string]any{
		"type":      TaskReapSession,
		"sessionId": sessionID,
	})
}
