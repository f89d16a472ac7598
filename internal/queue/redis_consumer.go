/**
 * Direct Redis Queue Consumer for the QuickCuts worker
 *
 * Compatible with the TypeScript RedisQueue producer: job ids are pushed on
 * a LIST, job bodies live in the <queue>:data hash, and lifecycle plus
 * per-image progress events are published on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
)

var errNoJobs = errors.New("no jobs available")

// Job lifecycle states, used for the status sets and event names.
const (
	JobProcessing = "processing"
	JobProgress   = "progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobRetrying   = "retrying"
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Payload    AlignPayload `json:"payload"`
	CreatedAt  time.Time    `json:"createdAt"`
	Attempts   int          `json:"attempts"`
	MaxRetries int          `json:"maxRetries"`
}

// JobID is the payload's job id, falling back to the queue entry id.
func (j *RedisJobData) JobID() string {
	if j.Payload.JobID != "" {
		return j.Payload.JobID
	}
	return j.ID
}

// JobEvent is published on <queue>:events.
type JobEvent struct {
	Event     string        `json:"event"`
	JobID     string        `json:"jobId"`
	Timestamp string        `json:"timestamp"`
	Status    *batch.Status `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func newJobEvent(state, jobID string) *JobEvent {
	return &JobEvent{
		Event:     fmt.Sprintf("job:%s", state),
		JobID:     jobID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *Runner
	config *RedisConsumerConfig
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Runner      *Runner
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "quickcuts:jobs"
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client: client,
		runner: cfg.Runner,
		config: cfg,
		logger: logging.NewLogger("redis-queue"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer. In-flight jobs are interrupted and
// pushed back on the queue.
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	entryID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), entryID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.fail(entryID, qcerrors.NewConfigError("malformed job %s: %v", entryID, err), 1)
		return nil
	}
	if job.ID == "" {
		job.ID = entryID
	}
	jobID := job.JobID()

	c.markProcessing(jobID)

	progress := func(st batch.Status) {
		ev := newJobEvent(JobProgress, jobID)
		ev.Status = &st
		c.publish(ev)
	}

	report, err := c.runner.Execute(c.ctx, jobID, &job.Payload.JobSpec, progress)
	if err != nil {
		job.Attempts++
		if c.ctx.Err() != nil || shouldRetry(err, job.Attempts, c.maxRetries(&job)) {
			c.requeue(&job, err)
			return nil
		}
		c.fail(jobID, err, job.Attempts)
		return nil
	}

	c.complete(jobID, report)
	return nil
}

func (c *RedisConsumer) maxRetries(job *RedisJobData) int {
	if job.MaxRetries > 0 {
		return job.MaxRetries
	}
	return c.config.MaxRetries
}

// shouldRetry reports whether a failed job goes back on the queue.
// Configuration errors never succeed on retry.
func shouldRetry(err error, attempts, maxRetries int) bool {
	if qcerrors.IsConfigError(err) {
		return false
	}
	return attempts < maxRetries
}

func (c *RedisConsumer) requeue(job *RedisJobData, cause error) {
	// Shutdown must not block the requeue.
	ctx := context.WithoutCancel(c.ctx)

	updated, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "job_id", job.JobID(), "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.ID, updated)
	pipe.SRem(ctx, c.key(JobProcessing), job.JobID())
	pipe.LPush(ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to requeue job", "job_id", job.JobID(), "error", err)
		return
	}

	c.logger.Warn("Job re-queued", "job_id", job.JobID(), "attempt", job.Attempts, "max_retries", c.maxRetries(job), "error", cause)
	ev := newJobEvent(JobRetrying, job.JobID())
	ev.Error = cause.Error()
	c.publish(ev)
}

func (c *RedisConsumer) markProcessing(jobID string) {
	if err := c.client.SAdd(c.ctx, c.key(JobProcessing), jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "job_id", jobID, "error", err)
	}
	c.publish(newJobEvent(JobProcessing, jobID))
}

func (c *RedisConsumer) complete(jobID string, report *batch.Report) {
	ctx := context.WithoutCancel(c.ctx)
	data, err := json.Marshal(summarize(report))
	if err != nil {
		c.logger.Error("Failed to marshal job result", "job_id", jobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key(JobProcessing), jobID)
	pipe.SAdd(ctx, c.key(JobCompleted), jobID)
	pipe.HSet(ctx, c.key("results"), jobID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to store job result", "job_id", jobID, "error", err)
	}

	ev := newJobEvent(JobCompleted, jobID)
	ev.Status = &report.Status
	c.publish(ev)
}

func (c *RedisConsumer) fail(jobID string, cause error, attempts int) {
	ctx := context.WithoutCancel(c.ctx)
	c.logger.Error("Job failed", "job_id", jobID, "attempts", attempts, "error", cause)

	data, err := json.Marshal(errorDetails(cause, attempts))
	if err != nil {
		c.logger.Error("Failed to marshal job error", "job_id", jobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.key(JobProcessing), jobID)
	pipe.SAdd(ctx, c.key(JobFailed), jobID)
	pipe.HSet(ctx, c.key("errors"), jobID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to store job error", "job_id", jobID, "error", err)
	}

	ev := newJobEvent(JobFailed, jobID)
	ev.Error = cause.Error()
	c.publish(ev)
}

func (c *RedisConsumer) publish(ev *JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.client.Publish(context.WithoutCancel(c.ctx), c.key("events"), data).Err(); err != nil {
		c.logger.Warn("Failed to publish event", "event", ev.Event, "job_id", ev.JobID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key(JobProcessing))
	completed := pipe.SCard(ctx, c.key(JobCompleted))
	failed := pipe.SCard(ctx, c.key(JobFailed))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
