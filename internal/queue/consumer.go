/**
 * Asynq Queue Consumer for the QuickCuts worker
 *
 * Consumes align:images tasks and runs them through the shared Runner.
 * Also provides the Enqueuer used by the align CLI to submit batches.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
)

// TaskTypeAlignImages is the Asynq task type for alignment batches.
const TaskTypeAlignImages = "align:images"

// NewAlignTask builds an align:images task for spec.
func NewAlignTask(jobID string, spec *batch.JobSpec, opts ...asynq.Option) (*asynq.Task, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	payload, err := json.Marshal(&AlignPayload{JobID: jobID, JobSpec: *spec})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	opts = append([]asynq.Option{asynq.TaskID(jobID)}, opts...)
	return asynq.NewTask(TaskTypeAlignImages, payload, opts...), nil
}

// Consumer handles job consumption from an Asynq queue
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *Runner
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Runner      *Runner
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("Runner is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("asynq")
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// 5s, 10s, 20s, ... capped at a minute.
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		runner: cfg.Runner,
		config: cfg,
		logger: logging.NewLogger("queue"),
	}
	consumer.mux.HandleFunc(TaskTypeAlignImages, consumer.handleAlignImages)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Asynq consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Asynq consumer")
	c.server.Shutdown()
	return nil
}

func (c *Consumer) handleAlignImages(ctx context.Context, task *asynq.Task) error {
	var payload AlignPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed align task: %v: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID
	if id, ok := asynq.GetTaskID(ctx); ok && jobID == "" {
		jobID = id
	}

	progress := func(st batch.Status) {
		c.logger.Debug("Progress", "job_id", jobID, "current", st.CurrentImage, "total", st.TotalImages)
	}

	report, err := c.runner.Execute(ctx, jobID, &payload.JobSpec, progress)
	if err != nil {
		if qcerrors.IsConfigError(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if rw := task.ResultWriter(); rw != nil {
		data, err := json.Marshal(summarize(report))
		if err == nil {
			if _, err := rw.Write(data); err != nil {
				c.logger.Warn("Failed to write task result", "job_id", jobID, "error", err)
			}
		}
	}
	return nil
}

// Enqueuer submits align:images tasks.
type Enqueuer struct {
	client     *asynq.Client
	queue      string
	maxRetries int
	timeout    time.Duration
}

// NewEnqueuer creates an enqueuer for queue on the Redis at redisURL.
func NewEnqueuer(redisURL, queue string, maxRetries int, timeout time.Duration) (*Enqueuer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Enqueuer{
		client:     asynq.NewClient(redisOpt),
		queue:      queue,
		maxRetries: maxRetries,
		timeout:    timeout,
	}, nil
}

// Enqueue submits spec under a fresh job id.
func (e *Enqueuer) Enqueue(ctx context.Context, spec *batch.JobSpec) (*asynq.TaskInfo, error) {
	opts := []asynq.Option{asynq.Queue(e.queue), asynq.MaxRetry(e.maxRetries)}
	if e.timeout > 0 {
		// Leave the runner room to record the timeout before asynq gives up.
		opts = append(opts, asynq.Timeout(e.timeout+30*time.Second))
	}
	task, err := NewAlignTask(uuid.NewString(), spec, opts...)
	if err != nil {
		return nil, err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

// Close closes the underlying client.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
