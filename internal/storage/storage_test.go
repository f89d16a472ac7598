package storage

import (
	"context"
	"testing"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/quickcuts-worker/internal/batch"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

func sampleReport() *batch.Report {
	return &batch.Report{
		RunID:           "run-1",
		TargetWord:      "news",
		SuccessfulCount: 2,
		FailedCount:     1,
		Processed:       []string{"a.png", "c.png"},
		Failed:          []batch.Failure{{Image: "b.png", Reason: "word not found"}},
		Skipped:         []string{"d.png"},
		Results: []*processor.AlignResult{
			{Image: "a.png", OutputPath: "out/aligned_a.png", DetectedWord: "News", Confidence: 91, Background: "#1a2b3c", BackgroundLab: processor.Point{50, 10, -20}},
			{Image: "c.png", OutputPath: "out/aligned_c.png", DetectedWord: "newsroom", Confidence: 64, Partial: true},
		},
		Cancelled: true,
		Duration:  1500 * time.Millisecond,
	}
}

func TestImageRecordsFollowInputOrder(t *testing.T) {
	records := imageRecords([]string{"a.png", "b.png", "c.png", "d.png"}, sampleReport(), map[string]string{"a.png": "pt-a"})

	require.Len(t, records, 3)
	require.Equal(t, ImageRecord{
		Position: 0, Image: "a.png", Success: true, OutputPath: "out/aligned_a.png",
		DetectedWord: "News", Confidence: 91, Background: "#1a2b3c", PointID: "pt-a",
	}, records[0])
	require.Equal(t, ImageRecord{Position: 1, Image: "b.png", Reason: "word not found"}, records[1])
	require.Equal(t, 2, records[2].Position)
	require.True(t, records[2].Partial)
}

func TestRunUpdateFromReport(t *testing.T) {
	u := runUpdate("job-7", 4, []byte(`{"target_word":"news"}`), sampleReport())
	require.Equal(t, "job-7", u.RunID)
	require.Equal(t, "run-1", u.BatchRunID)
	require.Equal(t, StatusCancelled, u.Status)
	require.Equal(t, 4, u.TotalImages)
	require.Equal(t, 1, u.SkippedCount)
	require.EqualValues(t, 1500, u.DurationMs)

	r := sampleReport()
	r.Cancelled = false
	require.Equal(t, StatusCompleted, runUpdate("job-7", 4, nil, r).Status)
}

func TestFramePointsOnlyForDominantBackgrounds(t *testing.T) {
	cfg := &processor.OutputConfig{Background: processor.BackgroundWhite}
	require.Empty(t, framePoints("job-1", cfg, sampleReport()))

	cfg.Background = processor.BackgroundDominant
	points := framePoints("job-1", cfg, sampleReport())
	require.Len(t, points, 1)
	require.Equal(t, []float32{50, 10, -20}, points[0].Vector)
	require.Equal(t, "a.png", points[0].Payload["image"])
	require.Equal(t, "job-1", points[0].Payload["job_id"])
	require.NotEmpty(t, points[0].ID)
}

func TestToPointStruct(t *testing.T) {
	_, err := toPointStruct(&FramePoint{Vector: []float32{1, 2}})
	require.Error(t, err)

	p := &FramePoint{Vector: []float32{1, 2, 3}, Payload: map[string]interface{}{
		"image":      "a.png",
		"confidence": 80,
		"score":      0.5,
		"partial":    true,
		"size":       []int{1, 2},
	}}
	ps, err := toPointStruct(p)
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.Equal(t, p.ID, ps.Id.GetUuid())
	require.Equal(t, []float32{1, 2, 3}, ps.Vectors.GetVector().Data)
	require.Equal(t, "a.png", ps.Payload["image"].GetStringValue())
	require.EqualValues(t, 80, ps.Payload["confidence"].GetIntegerValue())
	require.Equal(t, 0.5, ps.Payload["score"].GetDoubleValue())
	require.True(t, ps.Payload["partial"].GetBoolValue())
	require.IsType(t, &qdrant.Value_StringValue{}, ps.Payload["size"].Kind)
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	got := sanitizeJSONForPostgres([]byte(`{"p":"a\u0000b\u0007c"}`))
	require.Equal(t, `{"p":"ab c"}`, string(got))
}

func TestDisabledManagerIsNoop(t *testing.T) {
	var sm *StorageManager
	require.False(t, sm.Enabled())

	ctx := context.Background()
	spec := &batch.JobSpec{TargetWord: "news", ImagePaths: []string{"a.png"}}
	require.NoError(t, sm.MarkRunning(ctx, "job", spec))
	require.NoError(t, sm.RecordRun(ctx, "job", spec.ImagePaths, &processor.OutputConfig{}, sampleReport()))
	require.NoError(t, sm.RecordFailure(ctx, "job", spec, context.Canceled))

	empty := &StorageManager{}
	require.False(t, empty.Enabled())
	require.NoError(t, empty.Close())
}
