/**
 * Batch Orchestrator
 *
 * Runs the per-image aligner over an ordered list of inputs, either on a
 * bounded worker pool or sequentially with cooperative cancellation.
 * Only configuration errors abort a run; every per-image failure is
 * recorded in the report and the batch continues.
 */

package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// Orchestrator runs batches against an Aligner.
type Orchestrator struct {
	aligner processor.Aligner
	logger  *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(aligner processor.Aligner) *Orchestrator {
	return &Orchestrator{
		aligner: aligner,
		logger:  logging.NewLogger("batch"),
	}
}

type outcome struct {
	index  int
	result *processor.AlignResult
	err    error
}

// run holds the mutable state of one batch. It is only touched from the
// goroutine that called Run.
type run struct {
	paths    []string
	status   Status
	outcomes []*outcome
	progress ProgressFunc
}

func (r *run) record(o *outcome) {
	r.outcomes[o.index] = o
	path := r.paths[o.index]
	if o.err == nil {
		r.status.ProcessedImages = append(r.status.ProcessedImages, path)
	} else {
		r.status.FailedImages = append(r.status.FailedImages, path)
		r.status.Failures = append(r.status.Failures, Failure{Image: path, Reason: qcerrors.Reason(o.err)})
	}
	r.status.CurrentImage = len(r.status.ProcessedImages) + len(r.status.FailedImages)
	if r.progress != nil {
		r.progress(r.status.Clone())
	}
}

// Run aligns every path under cfg. cfg is validated (and normalised) first.
// A ConfigError is returned before any image is touched when cfg is invalid,
// an input is missing or not a regular file, two inputs would write the same
// output file, or the output directory cannot be created.
func (o *Orchestrator) Run(ctx context.Context, paths []string, cfg *processor.OutputConfig, mode Mode) (*Report, error) {
	if err := o.Validate(paths, cfg); err != nil {
		return nil, err
	}

	started := time.Now()
	r := &run{
		paths:    paths,
		status:   NewStatus(),
		outcomes: make([]*outcome, len(paths)),
		progress: mode.progress,
	}
	r.status.IsProcessing = true
	r.status.TotalImages = len(paths)

	runID := uuid.NewString()
	o.logger.Info("Starting batch", "run_id", runID, "images", len(paths), "word", cfg.TargetWord, "parallel", mode.parallel)

	if mode.parallel {
		o.runParallel(ctx, r, cfg, mode)
	} else {
		o.runSequential(ctx, r, cfg, mode)
	}

	report := &Report{
		RunID:      runID,
		TargetWord: cfg.TargetWord,
		Processed:  []string{},
		Failed:     []Failure{},
		Results:    []*processor.AlignResult{},
		StartedAt:  started,
	}
	for i, oc := range r.outcomes {
		switch {
		case oc == nil:
			report.Skipped = append(report.Skipped, paths[i])
		case oc.err == nil:
			report.Processed = append(report.Processed, paths[i])
			report.Results = append(report.Results, oc.result)
		default:
			report.Failed = append(report.Failed, Failure{Image: paths[i], Reason: qcerrors.Reason(oc.err)})
		}
	}
	report.SuccessfulCount = len(report.Processed)
	report.FailedCount = len(report.Failed)
	report.Cancelled = len(report.Skipped) > 0
	report.Duration = time.Since(started)

	r.status.IsProcessing = false
	r.status.CancelRequested = mode.cancel.Requested()
	if report.Cancelled {
		r.status.CurrentOperation = "Cancelled"
	} else {
		r.status.CurrentOperation = "Processing complete"
	}
	report.Status = r.status.Clone()

	o.logger.Info("Batch finished", "run_id", runID,
		"successful", report.SuccessfulCount, "failed", report.FailedCount,
		"skipped", len(report.Skipped), "duration", report.Duration.String())

	return report, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, r *run, cfg *processor.OutputConfig, mode Mode) {
	for i, path := range r.paths {
		if mode.cancel.Requested() || ctx.Err() != nil {
			o.logger.Info("Batch cancelled", "completed", i, "total", len(r.paths))
			return
		}
		r.status.CurrentOperation = fmt.Sprintf("Processing %s", filepath.Base(path))
		res, err := o.alignOne(ctx, path, cfg)
		r.record(&outcome{index: i, result: res, err: err})
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, r *run, cfg *processor.OutputConfig, mode Mode) {
	workers := mode.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(r.paths) {
		workers = len(r.paths)
	}

	type job struct {
		index int
		path  string
	}
	jobs := make(chan job)
	results := make(chan *outcome, workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for i, path := range r.paths {
			if mode.cancel.Requested() {
				return nil
			}
			select {
			case jobs <- job{index: i, path: path}:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				// The dispatcher may already be blocked on a send when
				// cancellation arrives; drop what it hands out after that.
				if mode.cancel.Requested() {
					continue
				}
				res, err := o.alignOne(ctx, j.path, cfg)
				results <- &outcome{index: j.index, result: res, err: err}
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	r.status.CurrentOperation = fmt.Sprintf("Processing with %d workers", workers)
	for oc := range results {
		r.record(oc)
	}
}

// Validate performs the pre-run checks of Run without processing anything.
// It creates the output directory.
func (o *Orchestrator) Validate(paths []string, cfg *processor.OutputConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return validateInputs(paths, cfg)
}

// alignOne isolates a single image: panics are converted to errors.
func (o *Orchestrator) alignOne(ctx context.Context, path string, cfg *processor.OutputConfig) (res *processor.AlignResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Recovered panic while aligning", "image", path, "panic", fmt.Sprint(rec))
			res, err = nil, fmt.Errorf("internal error: %v", rec)
		}
	}()

	res, err = o.aligner.Align(ctx, path, cfg)
	if err != nil {
		o.logger.Warn("Image failed", "image", path, "reason", qcerrors.Reason(err))
	}
	return res, err
}

func validateInputs(paths []string, cfg *processor.OutputConfig) error {
	if len(paths) == 0 {
		return qcerrors.NewConfigError("no input images")
	}

	outputs := make(map[string]string, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return qcerrors.NewConfigError("input %q is not accessible: %v", p, err)
		}
		if !info.Mode().IsRegular() {
			return qcerrors.NewConfigError("input %q is not a regular file", p)
		}

		name := cfg.OutputFilename(p)
		if prev, dup := outputs[name]; dup {
			return qcerrors.NewConfigError("inputs %q and %q would both write %s", prev, p, name)
		}
		outputs[name] = p
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return qcerrors.NewConfigError("cannot create output directory %q: %v", cfg.OutputDir, err)
	}
	return nil
}
