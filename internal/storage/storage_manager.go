/**
 * Storage Manager for the QuickCuts worker
 *
 * Coordinates run persistence across PostgreSQL (run and image rows) and
 * Qdrant (frame background vectors). Either backend may be disabled.
 */

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/logging"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

// Run statuses stored in quickcuts.alignment_runs.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	logger   *logging.Logger
}

// NewStorageManager connects the configured backends. An empty URL or
// address disables that backend.
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	sm := &StorageManager{logger: logging.NewLogger("storage")}

	if postgresURL != "" {
		postgres, err := NewPostgresClient(postgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		if err := postgres.EnsureSchema(context.Background()); err != nil {
			postgres.Close()
			return nil, err
		}
		sm.postgres = postgres
	}

	if qdrantAddress != "" {
		qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
		if err != nil {
			sm.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	sm.logger.Info("Storage initialized", "postgres", sm.postgres != nil, "qdrant", sm.qdrant != nil)
	return sm, nil
}

// Enabled reports whether any backend is configured.
func (sm *StorageManager) Enabled() bool {
	return sm != nil && (sm.postgres != nil || sm.qdrant != nil)
}

// MarkRunning records that a job has been picked up.
func (sm *StorageManager) MarkRunning(ctx context.Context, jobID string, spec *batch.JobSpec) error {
	if sm == nil || sm.postgres == nil {
		return nil
	}
	config, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal job spec: %w", err)
	}
	return sm.postgres.UpdateRunStatus(ctx, &RunUpdate{
		RunID:       jobID,
		TargetWord:  spec.TargetWord,
		Status:      StatusProcessing,
		TotalImages: len(spec.ImagePaths),
		Config:      config,
	})
}

// RecordRun stores a finished run. Frame vectors go to Qdrant first and are
// removed again if the PostgreSQL write fails.
func (sm *StorageManager) RecordRun(ctx context.Context, jobID string, paths []string, cfg *processor.OutputConfig, report *batch.Report) error {
	if !sm.Enabled() {
		return nil
	}
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	var points []*FramePoint
	pointIDs := map[string]string{}
	if sm.qdrant != nil {
		points = framePoints(jobID, cfg, report)
		for _, p := range points {
			pointIDs[p.Payload["image"].(string)] = p.ID
		}
		if err := sm.qdrant.UpsertFrames(ctx, points); err != nil {
			return fmt.Errorf("failed to store frames in Qdrant: %w", err)
		}
	}

	if sm.postgres == nil {
		return nil
	}

	rollback := func() {
		if len(points) == 0 {
			return
		}
		ids := make([]string, len(points))
		for i, p := range points {
			ids[i] = p.ID
		}
		if err := sm.qdrant.DeleteFrames(ctx, ids); err != nil {
			sm.logger.Error("Failed to roll back Qdrant frames", "job_id", jobID, "error", err)
		}
	}

	config, err := json.Marshal(cfg)
	if err != nil {
		rollback()
		return fmt.Errorf("failed to marshal output config: %w", err)
	}

	if err := sm.postgres.UpdateRunStatus(ctx, runUpdate(jobID, len(paths), config, report)); err != nil {
		rollback()
		return err
	}
	if err := sm.postgres.RecordImageResults(ctx, jobID, imageRecords(paths, report, pointIDs)); err != nil {
		rollback()
		return err
	}
	return nil
}

// RecordFailure marks a job as failed with the error's code and message.
func (sm *StorageManager) RecordFailure(ctx context.Context, jobID string, spec *batch.JobSpec, cause error) error {
	if sm == nil || sm.postgres == nil {
		return nil
	}
	code := string(qcerrors.CodeOf(cause))
	return sm.postgres.UpdateRunStatus(ctx, &RunUpdate{
		RunID:        jobID,
		TargetWord:   spec.TargetWord,
		Status:       StatusFailed,
		TotalImages:  len(spec.ImagePaths),
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
	})
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}
	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}
	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}
	return nil
}

func runUpdate(jobID string, total int, config []byte, report *batch.Report) *RunUpdate {
	status := StatusCompleted
	if report.Cancelled {
		status = StatusCancelled
	}
	return &RunUpdate{
		RunID:           jobID,
		BatchRunID:      report.RunID,
		TargetWord:      report.TargetWord,
		Status:          status,
		TotalImages:     total,
		SuccessfulCount: report.SuccessfulCount,
		FailedCount:     report.FailedCount,
		SkippedCount:    len(report.Skipped),
		Cancelled:       report.Cancelled,
		Config:          config,
		DurationMs:      report.Duration.Milliseconds(),
	}
}

// framePoints builds one vector per successful frame whose background was
// sampled from the frame itself.
func framePoints(jobID string, cfg *processor.OutputConfig, report *batch.Report) []*FramePoint {
	if cfg.Background != processor.BackgroundDominant {
		return nil
	}

	now := time.Now().Unix()
	points := make([]*FramePoint, 0, len(report.Results))
	for _, res := range report.Results {
		if res.Background == "" {
			continue
		}
		lab := res.BackgroundLab
		points = append(points, &FramePoint{
			ID:     uuid.New().String(),
			Vector: []float32{float32(lab[0]), float32(lab[1]), float32(lab[2])},
			Payload: map[string]interface{}{
				"job_id":      jobID,
				"run_id":      report.RunID,
				"image":       res.Image,
				"output_path": res.OutputPath,
				"word":        report.TargetWord,
				"background":  res.Background,
				"confidence":  res.Confidence,
				"created_at":  now,
			},
		})
	}
	return points
}

// imageRecords lays out one row per input in input order. Inputs skipped by
// a cancellation get no row.
func imageRecords(paths []string, report *batch.Report, pointIDs map[string]string) []ImageRecord {
	results := make(map[string]*processor.AlignResult, len(report.Results))
	for _, res := range report.Results {
		results[res.Image] = res
	}
	reasons := make(map[string]string, len(report.Failed))
	for _, f := range report.Failed {
		reasons[f.Image] = f.Reason
	}

	records := make([]ImageRecord, 0, len(results)+len(reasons))
	for i, path := range paths {
		if res, ok := results[path]; ok {
			records = append(records, ImageRecord{
				Position:     i,
				Image:        path,
				Success:      true,
				OutputPath:   res.OutputPath,
				DetectedWord: res.DetectedWord,
				Confidence:   res.Confidence,
				Partial:      res.Partial,
				Background:   res.Background,
				PointID:      pointIDs[path],
			})
			continue
		}
		if reason, ok := reasons[path]; ok {
			records = append(records, ImageRecord{Position: i, Image: path, Reason: reason})
		}
	}
	return records
}
