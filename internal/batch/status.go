package batch

import (
	"sync/atomic"
	"time"

	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// Failure records why an image could not be aligned.
type Failure struct {
	Image  string `json:"image"`
	Reason string `json:"reason"`
}

// Status is the live view of a run. The orchestrator owns the instance;
// callers only ever receive copies.
type Status struct {
	IsProcessing     bool      `json:"is_processing"`
	CurrentImage     int       `json:"current_image"`
	TotalImages      int       `json:"total_images"`
	ProcessedImages  []string  `json:"processed_images"`
	FailedImages     []string  `json:"failed_images"`
	Failures         []Failure `json:"failures"`
	CurrentOperation string    `json:"current_operation"`
	CancelRequested  bool      `json:"cancel_requested"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// NewStatus returns an idle status with non-nil lists.
func NewStatus() Status {
	return Status{
		ProcessedImages: []string{},
		FailedImages:    []string{},
		Failures:        []Failure{},
	}
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	c := s
	c.ProcessedImages = append([]string{}, s.ProcessedImages...)
	c.FailedImages = append([]string{}, s.FailedImages...)
	c.Failures = append([]Failure{}, s.Failures...)
	return c
}

// Report is the terminal outcome of a run. Processed and Failed follow
// input order; Skipped lists images never started because of cancellation.
type Report struct {
	RunID           string                   `json:"run_id"`
	TargetWord      string                   `json:"target_word"`
	SuccessfulCount int                      `json:"successful_count"`
	FailedCount     int                      `json:"failed_count"`
	Processed       []string                 `json:"processed"`
	Failed          []Failure                `json:"failed"`
	Skipped         []string                 `json:"skipped,omitempty"`
	Results         []*processor.AlignResult `json:"results"`
	Cancelled       bool                     `json:"cancelled"`
	StartedAt       time.Time                `json:"started_at"`
	Duration        time.Duration            `json:"duration"`
	Status          Status                   `json:"status"`
}

// FailedImages returns the identifiers of failed images in order.
func (r *Report) FailedImages() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Image)
	}
	return out
}

// ProgressFunc receives a status snapshot after every completed image.
type ProgressFunc func(Status)

// CancelToken is a cooperative cancellation flag checked between images.
type CancelToken struct {
	requested atomic.Bool
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation. Safe for concurrent use.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.requested.Store(true)
	}
}

// Requested reports whether Cancel has been called.
func (t *CancelToken) Requested() bool {
	return t != nil && t.requested.Load()
}

// Mode selects the scheduling model of a run.
type Mode struct {
	parallel bool
	workers  int
	progress ProgressFunc
	cancel   *CancelToken
}

// Parallel processes images on a pool of workers goroutines; workers <= 0
// means runtime.NumCPU().
func Parallel(workers int) Mode {
	return Mode{parallel: true, workers: workers}
}

// Sequential processes images one at a time in the calling goroutine,
// reporting progress and checking cancel between images.
func Sequential(progress ProgressFunc, cancel *CancelToken) Mode {
	return Mode{progress: progress, cancel: cancel}
}

// WithProgress attaches a progress callback.
func (m Mode) WithProgress(fn ProgressFunc) Mode {
	m.progress = fn
	return m
}

// WithCancel attaches a cancellation token.
func (m Mode) WithCancel(t *CancelToken) Mode {
	m.cancel = t
	return m
}

// IsParallel reports whether the mode uses the worker pool.
func (m Mode) IsParallel() bool {
	return m.parallel
}
