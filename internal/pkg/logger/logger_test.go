package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithOptions_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")

	l, err := NewWithOptions(Options{Mode: "prod", File: path})
	require.NoError(t, err)

	l.With("component", "test").Info("hello", "k", "v")
	l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"component":"test"`)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("discarded", "err", "boom")
}
