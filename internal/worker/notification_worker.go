// Package worker delivers outbox notifications written by booking transactions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/retry"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NotificationWorker drains notification_queue. Task ids arrive through a
// local channel or a Redis list, the table is polled as a backstop so a task
// is never lost when a signal is.
type NotificationWorker struct {
	store         domain.NotificationQueue
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   retry.Policy
	lease         time.Duration
	queue         chan int64
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

type Option func(*NotificationWorker)

func WithRedis(client *redis.Client) Option {
	return func(w *NotificationWorker) { w.redis = client }
}

func WithPolling(interval time.Duration, batchSize int) Option {
	return func(w *NotificationWorker) {
		if interval > 0 {
			w.pollInterval = interval
		}
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

func WithLease(d time.Duration) Option {
	return func(w *NotificationWorker) {
		if d > 0 {
			w.lease = d
		}
	}
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(store domain.NotificationQueue, notifier domain.Notifier, policy retry.Policy, logger *zerolog.Logger, opts ...Option) *NotificationWorker {
	if policy.MaxRetries == 0 {
		policy.MaxRetries = 5
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 2 * time.Second
	}
	if policy.MaxDelay == 0 {
		policy.MaxDelay = time.Minute
	}
	if policy.BackoffFactor == 0 {
		policy.BackoffFactor = 2
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notification_worker").Logger()
	}

	w := &NotificationWorker{
		store:         store,
		notifier:      notifier,
		retryPolicy:   policy,
		lease:         time.Minute,
		queue:         make(chan int64, 128),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        l,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Signal wakes the worker for tasks committed by the caller. Redis is tried
// first so that any instance can pick the task up.
func (w *NotificationWorker) Signal(ctx context.Context, taskIDs ...int64) {
	for _, id := range taskIDs {
		if id == 0 {
			continue
		}
		if w.redis != nil {
			err := w.redis.LPush(ctx, w.redisQueueKey, strconv.FormatInt(id, 10)).Err()
			if err == nil {
				continue
			}
			w.logger.Warn().Err(err).Int64("task_id", id).Msg("redis push failed, fallback to memory queue")
		}
		select {
		case w.queue <- id:
		default:
			w.logger.Warn().Int64("task_id", id).Msg("in-memory queue full, task left to polling")
		}
	}
}

// Start launches main loop; stops when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if id, ok := w.tryLocalQueue(); ok {
			w.processID(ctx, id)
			continue
		}
		if id, ok := w.tryRedis(ctx); ok {
			w.processID(ctx, id)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
		}
		if n == 0 {
			w.idle(ctx)
		}
	}
}

// idle waits for the poll interval or a local signal.
func (w *NotificationWorker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case id := <-w.queue:
		w.processID(ctx, id)
	}
}

// ProcessPending handles one batch of due tasks and returns how many were
// delivered or rescheduled.
func (w *NotificationWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingNotifications(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if w.processID(ctx, task.ID) {
			processed++
		}
	}
	return processed, nil
}

func (w *NotificationWorker) tryLocalQueue() (int64, bool) {
	select {
	case id := <-w.queue:
		return id, true
	default:
		return 0, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (int64, bool) {
	if w.redis == nil {
		return 0, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP error")
		}
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		w.logger.Warn().Str("value", res[1]).Msg("bad task id in redis queue")
		return 0, false
	}
	return id, true
}

// processID claims the task and delivers it. It returns false when the task
// was not claimable (done already or leased by another worker).
func (w *NotificationWorker) processID(ctx context.Context, id int64) bool {
	claimed, err := w.store.ClaimNotification(ctx, id, w.lease)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", id).Msg("claim notification")
		return false
	}
	if !claimed {
		return false
	}

	task, err := w.store.GetNotification(ctx, id)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", id).Msg("load notification")
		return false
	}
	w.processTask(ctx, task)
	return true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	var payload models.NotificationPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	err := w.notifier.Deliver(ctx, task, &payload)
	switch {
	case err == nil:
		if err := w.store.UpdateNotificationStatus(ctx, task.ID, models.TaskCompleted, "", nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
		}
		metrics.IncNotification(task.Kind, "sent")
		w.logger.Debug().Int64("task_id", task.ID).Str("kind", task.Kind).Msg("notification delivered")
	case errors.Is(err, domain.ErrValidation):
		// повторять бессмысленно
		w.failTask(ctx, task, err)
	default:
		w.retryOrFail(ctx, task, err)
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationStatus(ctx, task.ID, models.TaskRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncNotification(task.Kind, "retry")
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("notification delivery failed")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	if err := w.store.UpdateNotificationStatus(ctx, task.ID, models.TaskFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncNotification(task.Kind, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("kind", task.Kind).Msg("notification failed permanently")
	w.pushDeadLetter(ctx, task)
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
