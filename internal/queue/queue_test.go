package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

type slowAligner struct {
	delay time.Duration
}

func (s *slowAligner) Align(ctx context.Context, path string, cfg *processor.OutputConfig) (*processor.AlignResult, error) {
	time.Sleep(s.delay)
	return &processor.AlignResult{Image: path, OutputPath: cfg.OutputPath(path)}, nil
}

type recorder struct {
	mu       sync.Mutex
	running  []string
	runs     map[string]*batch.Report
	failures map[string]error
}

func newRecorder() *recorder {
	return &recorder{runs: map[string]*batch.Report{}, failures: map[string]error{}}
}

func (r *recorder) MarkRunning(ctx context.Context, jobID string, spec *batch.JobSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = append(r.running, jobID)
	return nil
}

func (r *recorder) RecordRun(ctx context.Context, jobID string, paths []string, cfg *processor.OutputConfig, report *batch.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[jobID] = report
	return nil
}

func (r *recorder) RecordFailure(ctx context.Context, jobID string, spec *batch.JobSpec, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[jobID] = cause
	return nil
}

var defaults = batch.Defaults{
	CanvasWidth:         320,
	CanvasHeight:        180,
	WordHeight:          40,
	Background:          "white",
	ConfidenceThreshold: 30,
	Workers:             1,
}

func newRunner(t *testing.T, delay, timeout time.Duration, rec RunRecorder) *Runner {
	t.Helper()
	r, err := NewRunner(&RunnerConfig{
		Orchestrator:      batch.NewOrchestrator(&slowAligner{delay: delay}),
		Recorder:          rec,
		Defaults:          defaults,
		ProcessingTimeout: timeout,
	})
	require.NoError(t, err)
	return r
}

func jobSpec(t *testing.T, n int) *batch.JobSpec {
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("frame%d.png", i))
		require.NoError(t, os.WriteFile(paths[i], []byte("x"), 0o644))
	}
	return &batch.JobSpec{TargetWord: "news", ImagePaths: paths, OutputDir: filepath.Join(dir, "out")}
}

func TestRunnerExecuteRecordsRun(t *testing.T) {
	rec := newRecorder()
	spec := jobSpec(t, 3)

	var progress []int
	report, err := newRunner(t, 0, time.Minute, rec).Execute(context.Background(), "job-1", spec, func(st batch.Status) {
		progress = append(progress, st.CurrentImage)
	})
	require.NoError(t, err)
	require.Equal(t, 3, report.SuccessfulCount)
	require.Equal(t, []int{1, 2, 3}, progress)
	require.Equal(t, []string{"job-1"}, rec.running)
	require.Same(t, report, rec.runs["job-1"])
	require.Empty(t, rec.failures)
}

func TestRunnerConfigErrorIsRecorded(t *testing.T) {
	rec := newRecorder()
	spec := jobSpec(t, 1)
	spec.Background = "plaid"

	_, err := newRunner(t, 0, time.Minute, rec).Execute(context.Background(), "job-2", spec, nil)
	require.True(t, qcerrors.IsConfigError(err))
	require.True(t, qcerrors.IsConfigError(rec.failures["job-2"]))
	require.Empty(t, rec.running)

	missing := &batch.JobSpec{TargetWord: "news", ImagePaths: []string{filepath.Join(t.TempDir(), "gone.png")}}
	_, err = newRunner(t, 0, time.Minute, rec).Execute(context.Background(), "job-3", missing, nil)
	require.True(t, qcerrors.IsConfigError(err))
	require.Contains(t, rec.failures, "job-3")
}

func TestRunnerTimeout(t *testing.T) {
	rec := newRecorder()
	spec := jobSpec(t, 6)

	report, err := newRunner(t, 40*time.Millisecond, 60*time.Millisecond, rec).Execute(context.Background(), "job-4", spec, nil)
	require.Error(t, err)
	require.Equal(t, qcerrors.ErrorProcessingTimeout, qcerrors.CodeOf(err))
	require.NotNil(t, report)
	require.True(t, report.Cancelled)
	require.NotEmpty(t, report.Skipped)
	require.Equal(t, qcerrors.ErrorProcessingTimeout, qcerrors.CodeOf(rec.failures["job-4"]))
	require.NotContains(t, rec.runs, "job-4")
}

func TestShouldRetry(t *testing.T) {
	cases := map[string]struct {
		err      error
		attempts int
		want     bool
	}{
		"transient first attempt": {err: errors.New("redis gone"), attempts: 1, want: true},
		"transient exhausted":     {err: errors.New("redis gone"), attempts: 3, want: false},
		"timeout":                 {err: qcerrors.NewProcessingTimeoutError("job", time.Second, context.DeadlineExceeded), attempts: 1, want: true},
		"config error":            {err: qcerrors.NewConfigError("no input images"), attempts: 1, want: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, shouldRetry(tc.err, tc.attempts, 3))
		})
	}
}

func TestRedisJobDataDecode(t *testing.T) {
	raw := `{
		"id": "42",
		"type": "align",
		"payload": {
			"jobId": "8d1c",
			"target_word": "breaking",
			"image_paths": ["/frames/a.png"],
			"output_size": "1280x720",
			"partial": true,
			"workers": 4
		},
		"attempts": 1,
		"maxRetries": 5
	}`
	var job RedisJobData
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	require.Equal(t, "8d1c", job.JobID())
	require.Equal(t, "breaking", job.Payload.TargetWord)
	require.Equal(t, &batch.Size{Width: 1280, Height: 720}, job.Payload.OutputSize)
	require.Equal(t, 4, job.Payload.Workers)
	require.Equal(t, 5, job.MaxRetries)

	job.Payload.JobID = ""
	require.Equal(t, "42", job.JobID())
}

func TestJobEventJSON(t *testing.T) {
	st := batch.NewStatus()
	st.CurrentImage = 2
	ev := newJobEvent(JobProgress, "job-9")
	ev.Status = &st

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "job:progress", decoded["event"])
	require.Equal(t, "job-9", decoded["jobId"])
	require.EqualValues(t, 2, decoded["status"].(map[string]interface{})["current_image"])
	require.NotContains(t, decoded, "error")
}

func TestErrorDetails(t *testing.T) {
	details := errorDetails(qcerrors.NewProcessingTimeoutError("job", time.Second, context.DeadlineExceeded), 2)
	require.Equal(t, "PROCESSING_TIMEOUT", details["error_code"])
	require.Equal(t, 2, details["attempts"])
	require.Contains(t, details["error"], "timed out")

	plain := errorDetails(errors.New("boom"), 1)
	require.Equal(t, "boom", plain["error"])
	require.NotContains(t, plain, "error_code")
}

func TestNewAlignTask(t *testing.T) {
	spec := &batch.JobSpec{TargetWord: "news", ImagePaths: []string{"a.png"}, Background: "dominant"}
	task, err := NewAlignTask("job-5", spec, asynq.MaxRetry(2))
	require.NoError(t, err)
	require.Equal(t, TaskTypeAlignImages, task.Type())

	var payload AlignPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "job-5", payload.JobID)
	require.Equal(t, *spec, payload.JobSpec)

	_, err = NewAlignTask("", spec)
	require.Error(t, err)
}

func TestHandleAlignImages(t *testing.T) {
	rec := newRecorder()
	c := &Consumer{runner: newRunner(t, 0, time.Minute, rec), logger: logging.NewLogger("queue")}

	task, err := NewAlignTask("job-6", jobSpec(t, 2))
	require.NoError(t, err)
	require.NoError(t, c.handleAlignImages(context.Background(), task))
	require.Equal(t, 2, rec.runs["job-6"].SuccessfulCount)

	bad, err := NewAlignTask("job-7", &batch.JobSpec{TargetWord: "news"})
	require.NoError(t, err)
	err = c.handleAlignImages(context.Background(), bad)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = c.handleAlignImages(context.Background(), asynq.NewTask(TaskTypeAlignImages, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
