package batch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

var testDefaults = Defaults{
	CanvasWidth:         1920,
	CanvasHeight:        1080,
	WordHeight:          100,
	Background:          "white",
	ConfidenceThreshold: 30,
	Workers:             1,
}

func TestJobSpecDecodeAndDefaults(t *testing.T) {
	var spec JobSpec
	require.NoError(t, json.Unmarshal([]byte(`{
		"target_word": "news",
		"image_paths": ["a.png", "b.jpg"],
		"output_dir": "/tmp/out",
		"output_size": [1280, 720],
		"exact_match": false,
		"background": "dominant"
	}`), &spec))

	cfg, err := spec.OutputConfig(testDefaults)
	require.NoError(t, err)
	require.Equal(t, 1280, cfg.CanvasWidth)
	require.Equal(t, 720, cfg.CanvasHeight)
	require.Equal(t, 100, cfg.WordHeight)
	require.True(t, cfg.Partial)
	require.Equal(t, processor.BackgroundDominant, cfg.Background)
	require.Equal(t, 30, cfg.ConfidenceThreshold)
	require.Equal(t, "/tmp/out", cfg.OutputDir)
}

func TestJobSpecSizeString(t *testing.T) {
	var spec JobSpec
	require.NoError(t, json.Unmarshal([]byte(`{"target_word":"x","image_paths":["a.png"],"output_size":"640x480","partial":true,"exact_match":true,"confidence_threshold":0}`), &spec))

	cfg, err := spec.OutputConfig(testDefaults)
	require.NoError(t, err)
	require.Equal(t, 640, cfg.CanvasWidth)
	require.True(t, cfg.Partial)
	require.Equal(t, 0, cfg.ConfidenceThreshold)

	var bad JobSpec
	require.Error(t, json.Unmarshal([]byte(`{"output_size":[1,2,3]}`), &bad))
	require.Error(t, json.Unmarshal([]byte(`{"output_size":"big"}`), &bad))
}

func TestJobSpecMissingFields(t *testing.T) {
	_, err := (&JobSpec{ImagePaths: []string{"a.png"}}).OutputConfig(testDefaults)
	require.True(t, qcerrors.IsConfigError(err))
	require.Contains(t, err.Error(), "target_word")

	_, err = (&JobSpec{TargetWord: "news"}).OutputConfig(testDefaults)
	require.True(t, qcerrors.IsConfigError(err))

	_, err = (&JobSpec{TargetWord: "news", ImagePaths: []string{"a.png"}, Background: "plaid"}).OutputConfig(testDefaults)
	require.True(t, qcerrors.IsConfigError(err))
}

func TestJobSpecMode(t *testing.T) {
	spec := &JobSpec{}
	require.False(t, spec.Mode(testDefaults, nil, nil).IsParallel())

	spec.Workers = 4
	require.True(t, spec.Mode(testDefaults, nil, nil).IsParallel())

	spec.Workers = 1
	require.False(t, spec.Mode(Defaults{Workers: 8}, nil, nil).IsParallel())
}

func TestSizeMarshal(t *testing.T) {
	data, err := json.Marshal(Size{Width: 3, Height: 2})
	require.NoError(t, err)
	require.JSONEq(t, `[3,2]`, string(data))
}
