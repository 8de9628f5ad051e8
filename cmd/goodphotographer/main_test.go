package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoodPhotographer/goodphotographer/internal/log"
	"github.com/stretchr/testify/require"
)

func TestExitCodeLogsBeforeClosing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goodphotographer.log")
	w, closer, err := log.Open(path)
	require.NoError(t, err)

	prevLogger, prevClose := slog.Default(), closeLog
	t.Cleanup(func() {
		slog.SetDefault(prevLogger)
		closeLog = prevClose
	})
	slog.SetDefault(log.New(w, false))
	closed := false
	closeLog = func() error {
		closed = true
		return closer()
	}

	require.Equal(t, 1, exitCode(errors.New("image processor not found: reinstall the application")))
	require.True(t, closed)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "reinstall the application")
}

func TestExitCode(t *testing.T) {
	prevClose := closeLog
	t.Cleanup(func() { closeLog = prevClose })
	closeLog = func() error { return nil }

	require.Equal(t, 0, exitCode(nil))
	require.Equal(t, 2, exitCode(errRunFailed))
}
