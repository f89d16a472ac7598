package processor

import (
	"path/filepath"
	"strconv"
	"strings"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
)

// BackgroundMode selects how the canvas is filled.
type BackgroundMode string

const (
	BackgroundWhite       BackgroundMode = "white"
	BackgroundBlack       BackgroundMode = "black"
	BackgroundDominant    BackgroundMode = "dominant"
	BackgroundTransparent BackgroundMode = "transparent"
)

// ParseBackgroundMode validates a background name (case-insensitive).
func ParseBackgroundMode(s string) (BackgroundMode, error) {
	switch m := BackgroundMode(strings.ToLower(strings.TrimSpace(s))); m {
	case BackgroundWhite, BackgroundBlack, BackgroundDominant, BackgroundTransparent:
		return m, nil
	}
	return "", qcerrors.NewConfigError("invalid background mode %q (want white, black, dominant or transparent)", s)
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return 0, 0, qcerrors.NewConfigError("invalid size %q (want WIDTHxHEIGHT)", s)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, qcerrors.NewConfigError("invalid size %q (want positive WIDTHxHEIGHT)", s)
	}
	return w, h, nil
}

// OutputConfig is shared read-only by every image of a batch.
type OutputConfig struct {
	TargetWord          string         `json:"target_word"`
	Partial             bool           `json:"partial"`
	CanvasWidth         int            `json:"canvas_width"`
	CanvasHeight        int            `json:"canvas_height"`
	WordHeight          int            `json:"word_height"`
	Background          BackgroundMode `json:"background"`
	ConfidenceThreshold int            `json:"confidence_threshold"`
	OutputDir           string         `json:"output_dir"`
	// OutputFormat overrides the source extension when set (e.g. "png").
	OutputFormat string `json:"output_format,omitempty"`
}

// DefaultOutputDir is the directory used when none is given.
func DefaultOutputDir(word string) string {
	return "aligned_" + strings.ToLower(strings.TrimSpace(word))
}

// Validate checks the configuration and normalises its string fields.
func (c *OutputConfig) Validate() error {
	c.TargetWord = strings.TrimSpace(c.TargetWord)
	if c.TargetWord == "" {
		return qcerrors.NewConfigError("target word is required")
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return qcerrors.NewConfigError("canvas size must be positive, got %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.WordHeight <= 0 {
		return qcerrors.NewConfigError("word height must be positive, got %d", c.WordHeight)
	}
	if c.WordHeight > c.CanvasHeight {
		return qcerrors.NewConfigError("word height %d exceeds canvas height %d", c.WordHeight, c.CanvasHeight)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return qcerrors.NewConfigError("confidence threshold must be between 0 and 100, got %d", c.ConfidenceThreshold)
	}

	mode, err := ParseBackgroundMode(string(c.Background))
	if err != nil {
		return err
	}
	c.Background = mode

	if c.OutputFormat != "" {
		c.OutputFormat = NormalizeFormat(c.OutputFormat)
		if !IsSupportedFormat(c.OutputFormat) {
			return qcerrors.NewConfigError("unsupported output format %q", c.OutputFormat)
		}
		if c.Background == BackgroundTransparent && !SupportsAlpha(c.OutputFormat) {
			return qcerrors.NewConfigError("background %q requires an alpha-capable format, got %q", c.Background, c.OutputFormat)
		}
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = DefaultOutputDir(c.TargetWord)
	}
	return nil
}

// OutputFilename derives the output file name for an input path:
// aligned_<name>, with the extension replaced by OutputFormat when set, by
// .png for transparent backgrounds, or by .png when the source extension
// cannot be encoded.
func (c *OutputConfig) OutputFilename(inputPath string) string {
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	switch {
	case c.OutputFormat != "":
		return "aligned_" + stem + "." + c.OutputFormat
	case c.Background == BackgroundTransparent && !strings.EqualFold(ext, ".png"):
		return "aligned_" + stem + ".png"
	case !IsSupportedFormat(ext):
		return "aligned_" + stem + ext + ".png"
	}
	return "aligned_" + base
}

// OutputPath joins OutputDir and OutputFilename.
func (c *OutputConfig) OutputPath(inputPath string) string {
	return filepath.Join(c.OutputDir, c.OutputFilename(inputPath))
}
