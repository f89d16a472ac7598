package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/quickcuts-worker/internal/config"
	qcerrors "github.com/adverant/nexus/quickcuts-worker/internal/errors"
	"github.com/adverant/nexus/quickcuts-worker/internal/processor"
)

type stubAligner struct {
	fail map[string]bool
}

func (s *stubAligner) Align(ctx context.Context, path string, cfg *processor.OutputConfig) (*processor.AlignResult, error) {
	if s.fail[filepath.Base(path)] {
		return nil, qcerrors.NewNotFoundError(path, cfg.TargetWord)
	}
	return &processor.AlignResult{Image: path, OutputPath: cfg.OutputPath(path)}, nil
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestCollectImagePaths(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "shots")
	require.NoError(t, os.Mkdir(sub, 0o755))
	touch(t, dir, "b.PNG", "a.jpg", "notes.txt")
	touch(t, sub, "z.webp", "y.tif", "readme.md")
	require.NoError(t, os.Mkdir(filepath.Join(sub, "nested.png"), 0o755))

	paths, err := collectImagePaths([]string{
		sub,
		filepath.Join(dir, "*.jpg"),
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "notes.txt"),
		filepath.Join(dir, "missing-*.png"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(sub, "y.tif"),
		filepath.Join(sub, "z.webp"),
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
	}, paths)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestRootCommandRunsBatch(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "one.png", "two.png", "three.png")
	outDir := filepath.Join(t.TempDir(), "out_{word}")

	cmd := newRootCommand(testConfig(t), func() (processor.Aligner, error) {
		return &stubAligner{fail: map[string]bool{"two.png": true}}, nil
	})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"-w", "News", "-o", outDir, "-s", "640x360", "--workers", "1", dir})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "Found 3 images")
	require.Contains(t, out.String(), "Done! 2 aligned, 1 failed")
	require.Contains(t, out.String(), "two.png: word not found")
	require.Contains(t, out.String(), filepath.Join(filepath.Dir(outDir), "out_News"))
	require.Contains(t, errOut.String(), "[3/3]")

	info, err := os.Stat(filepath.Join(filepath.Dir(outDir), "out_News"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestRootCommandErrors(t *testing.T) {
	cfg := testConfig(t)
	factory := func() (processor.Aligner, error) { return &stubAligner{}, nil }

	cmd := newRootCommand(cfg, factory)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "x.png")})
	require.ErrorContains(t, cmd.Execute(), "word")

	cmd = newRootCommand(cfg, factory)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-w", "news", t.TempDir()})
	require.ErrorContains(t, cmd.Execute(), "no valid images found")

	dir := t.TempDir()
	touch(t, dir, "a.png")
	cmd = newRootCommand(cfg, factory)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-w", "news", "-o", t.TempDir(), "--background", "transparent", "--format", "jpg", dir})
	err := cmd.Execute()
	require.True(t, qcerrors.IsConfigError(err), "got %v", err)
}

func TestJobSpecFromFlags(t *testing.T) {
	spec, err := jobSpec(&options{word: "Go", output: "frames/{word}", size: "800x600", wordHeight: 50, partial: true, confidence: 0, workers: 2}, []string{"a.png"})
	require.NoError(t, err)
	require.Equal(t, "frames/Go", spec.OutputDir)
	require.Equal(t, 800, spec.OutputSize.Width)
	require.True(t, *spec.Partial)
	require.Equal(t, 0, *spec.ConfidenceThreshold)

	_, err = jobSpec(&options{word: "Go", size: "huge"}, nil)
	require.True(t, qcerrors.IsConfigError(err))
}
