/**
 * Image Aligner for the Quick Cuts worker
 *
 * Runs the per-image pipeline:
 * - decode from bytes (EXIF orientation applied)
 * - preprocess for OCR (grayscale, bilateral filter, Otsu threshold)
 * - locate the target word
 * - compose the aligned canvas
 * - persist it atomically as aligned_<name>
 */

package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
)

// Aligner aligns a single image; the batch orchestrator depends on this.
type Aligner interface {
	Align(ctx context.Context, path string, cfg *OutputConfig) (*AlignResult, error)
}

// AlignerConfig holds aligner configuration
type AlignerConfig struct {
	OCR            OCR
	Clusterer      Clusterer
	KMeansClusters int
	MaxImageSize   int64
}

// AlignResult describes one successfully aligned image.
type AlignResult struct {
	Image         string      `json:"image"`
	OutputPath    string      `json:"output_path"`
	DetectedWord  string      `json:"detected_word"`
	Confidence    int         `json:"confidence"`
	Partial       bool        `json:"partial"`
	WordBox       BoundingBox `json:"word_bbox"`
	Background    string      `json:"background"`
	BackgroundLab Point       `json:"background_lab"`
	DurationMs    int64       `json:"duration_ms"`
}

// ImageAligner handles end-to-end alignment of one image
type ImageAligner struct {
	locator      *WordLocator
	compositor   *Compositor
	maxImageSize int64
	logger       *logging.Logger
}

// NewImageAligner creates a new image aligner
func NewImageAligner(cfg *AlignerConfig) (*ImageAligner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.OCR == nil {
		return nil, fmt.Errorf("OCR capability is required")
	}

	clusterer := cfg.Clusterer
	if clusterer == nil {
		clusterer = NewKMeansClusterer(42)
	}

	return &ImageAligner{
		locator:      NewWordLocator(cfg.OCR),
		compositor:   NewCompositor(clusterer, cfg.KMeansClusters),
		maxImageSize: cfg.MaxImageSize,
		logger:       logging.NewLogger("aligner"),
	}, nil
}

// Align processes the image at path and writes the aligned output into
// cfg.OutputDir. cfg must already be validated. Errors are ProcessingErrors
// attributed to path.
func (a *ImageAligner) Align(ctx context.Context, path string, cfg *OutputConfig) (*AlignResult, error) {
	startTime := time.Now()

	// Step 1: Load bytes
	a.logger.Debug("Step 1: Loading image", "image", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qcerrors.NewDecodeError(path, err)
	}
	if a.maxImageSize > 0 && int64(len(data)) > a.maxImageSize {
		return nil, qcerrors.NewDecodeError(path, fmt.Errorf("image is %d bytes, limit is %d", len(data), a.maxImageSize))
	}

	// Step 2: Decode
	src, format, err := DecodeImage(data)
	if err != nil {
		return nil, qcerrors.NewDecodeError(path, err)
	}
	a.logger.Debug("Step 2: Decoded image", "image", path, "format", format, "bounds", src.Bounds().String())

	// Step 3: Preprocess for OCR
	raster, err := Preprocess(src)
	if err != nil {
		return nil, qcerrors.NewDecodeError(path, err)
	}

	// Step 4: Locate the word
	match, err := a.locator.Locate(ctx, raster, cfg.TargetWord, cfg.Partial, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, attribute(err, path)
	}
	a.logger.Debug("Step 4: Located word", "image", path, "token", match.Token.Text, "confidence", match.Token.Confidence, "partial", match.Partial)

	// Step 5: Compose
	comp, err := a.compositor.Compose(src, match, cfg)
	if err != nil {
		return nil, attribute(err, path)
	}

	// Step 6: Persist
	outPath := cfg.OutputPath(path)
	if err := WriteImageFile(outPath, comp.Canvas); err != nil {
		return nil, qcerrors.NewIOError(path, outPath, err)
	}

	result := &AlignResult{
		Image:        path,
		OutputPath:   outPath,
		DetectedWord: match.Token.Text,
		Confidence:   match.Token.Confidence,
		Partial:      match.Partial,
		WordBox:      match.EstimatedBox,
		DurationMs:   time.Since(startTime).Milliseconds(),
	}
	if cfg.Background != BackgroundTransparent {
		result.Background = HexOf(comp.Background)
		result.BackgroundLab = LabOf(comp.Background)
	}

	a.logger.Info("Saved aligned image", "image", path, "output", outPath, "detected", match.Token.Text)
	return result, nil
}

func attribute(err error, path string) error {
	if pe, ok := err.(*qcerrors.ProcessingError); ok {
		return pe.WithImage(path)
	}
	return err
}
