package batch

import (
	"encoding/json"
	"fmt"
	"strings"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// Size is a canvas size. It decodes from [w, h] or "WxH".
type Size struct {
	Width  int
	Height int
}

func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Width, s.Height})
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("output_size must have two elements, got %d", len(pair))
		}
		s.Width, s.Height = pair[0], pair[1]
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("output_size must be [w, h] or \"WxH\"")
	}
	w, h, err := processor.ParseSize(str)
	if err != nil {
		return err
	}
	s.Width, s.Height = w, h
	return nil
}

// IsZero reports whether no size was given.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// JobSpec is the request shape shared by the IPC service and the queue
// worker. Pointer fields distinguish "absent" from zero values.
type JobSpec struct {
	TargetWord          string   `json:"target_word"`
	ImagePaths          []string `json:"image_paths"`
	OutputDir           string   `json:"output_dir,omitempty"`
	OutputSize          *Size    `json:"output_size,omitempty"`
	WordHeight          int      `json:"word_height,omitempty"`
	ExactMatch          *bool    `json:"exact_match,omitempty"`
	Partial             *bool    `json:"partial,omitempty"`
	Background          string   `json:"background,omitempty"`
	Workers             int      `json:"workers,omitempty"`
	ConfidenceThreshold *int     `json:"confidence_threshold,omitempty"`
	OutputFormat        string   `json:"output_format,omitempty"`
}

// Defaults fill in whatever a JobSpec leaves out.
type Defaults struct {
	CanvasWidth         int
	CanvasHeight        int
	WordHeight          int
	Background          string
	ConfidenceThreshold int
	Workers             int
}

// OutputConfig builds a validated OutputConfig from the job.
func (j *JobSpec) OutputConfig(d Defaults) (*processor.OutputConfig, error) {
	if strings.TrimSpace(j.TargetWord) == "" {
		return nil, qcerrors.NewConfigError("missing required parameter: target_word")
	}
	if len(j.ImagePaths) == 0 {
		return nil, qcerrors.NewConfigError("missing required parameter: image_paths")
	}

	cfg := &processor.OutputConfig{
		TargetWord:          j.TargetWord,
		CanvasWidth:         d.CanvasWidth,
		CanvasHeight:        d.CanvasHeight,
		WordHeight:          d.WordHeight,
		Background:          processor.BackgroundMode(d.Background),
		ConfidenceThreshold: d.ConfidenceThreshold,
		OutputDir:           j.OutputDir,
		OutputFormat:        j.OutputFormat,
	}
	if j.OutputSize != nil && !j.OutputSize.IsZero() {
		cfg.CanvasWidth, cfg.CanvasHeight = j.OutputSize.Width, j.OutputSize.Height
	}
	if j.WordHeight != 0 {
		cfg.WordHeight = j.WordHeight
	}
	if j.Background != "" {
		cfg.Background = processor.BackgroundMode(j.Background)
	}
	if j.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *j.ConfidenceThreshold
	}
	switch {
	case j.Partial != nil:
		cfg.Partial = *j.Partial
	case j.ExactMatch != nil:
		cfg.Partial = !*j.ExactMatch
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Mode picks the scheduling model: more than one worker runs the pool,
// otherwise the sequential cancellable loop.
func (j *JobSpec) Mode(d Defaults, progress ProgressFunc, cancel *CancelToken) Mode {
	workers := j.Workers
	if workers == 0 {
		workers = d.Workers
	}
	if workers > 1 {
		return Parallel(workers).WithProgress(progress).WithCancel(cancel)
	}
	return Sequential(progress, cancel)
}
