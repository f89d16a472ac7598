package errors

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReason(t *testing.T) {
	require.Equal(t, "word not found", Reason(NewNotFoundError("a.png", "breaking")))
	require.Equal(t, "bbox has zero area", Reason(NewGeometryError("a.png", "bbox has zero area")))
	require.Equal(t, "Failed to decode image: boom", Reason(NewDecodeError("a.png", fmt.Errorf("boom"))))
	require.Equal(t, "plain", Reason(fmt.Errorf("plain")))
	require.Equal(t, "", Reason(nil))
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("stage: %w", NewIOError("a.png", "/tmp/out.png", os.ErrPermission))
	require.Equal(t, ErrorIO, CodeOf(err))
	require.ErrorIs(t, err, os.ErrPermission)
	require.False(t, IsConfigError(err))
	require.True(t, IsConfigError(fmt.Errorf("wrap: %w", NewConfigError("bad size %q", "0x0"))))
}

func TestToMap(t *testing.T) {
	e := NewNotFoundError("frame.jpg", "news")
	m := e.ToMap()
	require.Equal(t, "NOT_FOUND", m["error_code"])
	require.Equal(t, "frame.jpg", m["image"])
	require.Equal(t, "news", m["target_word"])
	_, hasCause := m["cause"]
	require.False(t, hasCause)

	moved := e.WithImage("other.jpg")
	require.Equal(t, "other.jpg", moved.Image)
	require.Equal(t, "frame.jpg", e.Image)
}
