// Package app wires configuration into the alignment pipeline for the
// command-line entry points.
package app

import (
	"fmt"
	"io"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/config"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// Bootstrap loads .env (if present), reads the configuration and installs
// the logger writing to logOut.
func Bootstrap(logOut io.Writer) (*config.Config, error) {
	envErr := godotenv.Load(".env")

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logging.Setup(logOut, cfg.LogLevel, cfg.LogFormat)

	if envErr != nil {
		logging.NewLogger("config").Debug(".env not loaded, using process environment", "error", envErr)
	}
	return cfg, nil
}

// Defaults converts the configured alignment defaults. workers <= 0 uses
// ALIGN_WORKERS.
func Defaults(cfg *config.Config, workers int) (batch.Defaults, error) {
	w, h, err := processor.ParseSize(cfg.DefaultOutputSize)
	if err != nil {
		return batch.Defaults{}, fmt.Errorf("DEFAULT_OUTPUT_SIZE: %w", err)
	}
	bg, err := processor.ParseBackgroundMode(cfg.DefaultBackground)
	if err != nil {
		return batch.Defaults{}, fmt.Errorf("DEFAULT_BACKGROUND: %w", err)
	}
	if workers <= 0 {
		workers = cfg.AlignWorkers
	}
	return batch.Defaults{
		CanvasWidth:         w,
		CanvasHeight:        h,
		WordHeight:          cfg.DefaultWordHeight,
		Background:          string(bg),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Workers:             workers,
	}, nil
}

// NewAligner builds the Tesseract-backed image aligner.
func NewAligner(cfg *config.Config) (*processor.ImageAligner, error) {
	ocr := processor.NewTesseractOCR(&processor.TesseractConfig{
		Languages:      processor.ParseLanguages(cfg.TesseractLanguages),
		TessdataPrefix: cfg.TessdataPrefix,
		PageSegMode:    cfg.PageSegMode,
	})
	return processor.NewImageAligner(&processor.AlignerConfig{
		OCR:            ocr,
		Clusterer:      processor.NewKMeansClusterer(cfg.KMeansSeed),
		KMeansClusters: cfg.KMeansClusters,
		MaxImageSize:   cfg.MaxImageSize,
	})
}
