package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

const defaultProcessingTimeout = 10 * time.Minute

// AlignPayload is the job body carried by both queue backends.
type AlignPayload struct {
	JobID string `json:"jobId"`
	batch.JobSpec
}

// RunRecorder persists job outcomes. *storage.StorageManager satisfies it.
type RunRecorder interface {
	MarkRunning(ctx context.Context, jobID string, spec *batch.JobSpec) error
	RecordRun(ctx context.Context, jobID string, paths []string, cfg *processor.OutputConfig, report *batch.Report) error
	RecordFailure(ctx context.Context, jobID string, spec *batch.JobSpec, cause error) error
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Orchestrator      *batch.Orchestrator
	Recorder          RunRecorder
	Defaults          batch.Defaults
	ProcessingTimeout time.Duration
}

// Runner executes one queued alignment job. It is shared by the Redis list
// consumer and the Asynq consumer.
type Runner struct {
	orchestrator *batch.Orchestrator
	recorder     RunRecorder
	defaults     batch.Defaults
	timeout      time.Duration
	logger       *logging.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("Orchestrator is required")
	}
	timeout := cfg.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &Runner{
		orchestrator: cfg.Orchestrator,
		recorder:     cfg.Recorder,
		defaults:     cfg.Defaults,
		timeout:      timeout,
		logger:       logging.NewLogger("queue"),
	}, nil
}

// Execute runs a job under the processing timeout. A timed-out run returns
// its partial report together with a PROCESSING_TIMEOUT error.
func (r *Runner) Execute(ctx context.Context, jobID string, spec *batch.JobSpec, progress batch.ProgressFunc) (*batch.Report, error) {
	cfg, err := spec.OutputConfig(r.defaults)
	if err != nil {
		r.recordFailure(ctx, jobID, spec, err)
		return nil, err
	}

	if r.recorder != nil {
		if err := r.recorder.MarkRunning(ctx, jobID, spec); err != nil {
			r.logger.Warn("Could not mark job as processing", "job_id", jobID, "error", err)
		}
	}

	r.logger.Info("Processing job", "job_id", jobID, "word", cfg.TargetWord, "images", len(spec.ImagePaths), "timeout", r.timeout.String())

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	report, err := r.orchestrator.Run(runCtx, spec.ImagePaths, cfg, spec.Mode(r.defaults, progress, nil))
	if err != nil {
		r.recordFailure(ctx, jobID, spec, err)
		return nil, err
	}

	if report.Cancelled {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			timeoutErr := qcerrors.NewProcessingTimeoutError(jobID, r.timeout, runCtx.Err())
			r.logger.Error("Job timed out", "job_id", jobID, "processed", report.SuccessfulCount+report.FailedCount, "skipped", len(report.Skipped))
			r.recordFailure(ctx, jobID, spec, timeoutErr)
			return report, timeoutErr
		case ctx.Err() != nil:
			return report, fmt.Errorf("job %s interrupted: %w", jobID, ctx.Err())
		}
	}

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, jobID, spec.ImagePaths, cfg, report); err != nil {
			r.logger.Error("Failed to record run", "job_id", jobID, "error", err)
		}
	}

	r.logger.Info("Job completed", "job_id", jobID, "successful", report.SuccessfulCount, "failed", report.FailedCount, "duration", report.Duration.String())
	return report, nil
}

func (r *Runner) recordFailure(ctx context.Context, jobID string, spec *batch.JobSpec, cause error) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordFailure(ctx, jobID, spec, cause); err != nil {
		r.logger.Warn("Failed to record job failure", "job_id", jobID, "error", err)
	}
}

// summary is what the queue stores as a job's result.
type summary struct {
	RunID           string          `json:"runId"`
	TargetWord      string          `json:"targetWord"`
	SuccessfulCount int             `json:"successfulCount"`
	FailedCount     int             `json:"failedCount"`
	Processed       []string        `json:"processed"`
	Failed          []batch.Failure `json:"failed"`
	Outputs         []string        `json:"outputs"`
	DurationMs      int64           `json:"durationMs"`
}

func summarize(report *batch.Report) *summary {
	outputs := make([]string, len(report.Results))
	for i, res := range report.Results {
		outputs[i] = res.OutputPath
	}
	return &summary{
		RunID:           report.RunID,
		TargetWord:      report.TargetWord,
		SuccessfulCount: report.SuccessfulCount,
		FailedCount:     report.FailedCount,
		Processed:       report.Processed,
		Failed:          report.Failed,
		Outputs:         outputs,
		DurationMs:      report.Duration.Milliseconds(),
	}
}

// errorDetails renders err for the queue's error hash.
func errorDetails(err error, attempts int) map[string]interface{} {
	var pe *qcerrors.ProcessingError
	details := map[string]interface{}{}
	if errors.As(err, &pe) {
		details = pe.ToMap()
	}
	details["error"] = err.Error()
	details["attempts"] = attempts
	return details
}
