package service_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/service"
	"github.com/stretchr/testify/require"
)

func TestWriteSink(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := service.NewWriteSink(&buf).Publish(t.Context(), "run-1", model.RunResult{
		ExportDir: "/exports/run",
		Errors:    []string{"Processor exit 2: boom"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
  "runId": "run-1",
  "success": false,
  "exportDir": "/exports/run",
  "errors": ["Processor exit 2: boom"]
}`, buf.String())
}

func TestReportSink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, service.ResultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"stale": true}`+string(make([]byte, 512))), 0o644))

	result := model.RunResult{Success: true, ExportDir: dir, Errors: []string{}}
	require.NoError(t, service.ReportSink{}.Publish(t.Context(), "run-2", result))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "run-2", got["runId"])
	require.NotContains(t, got, "stale")

	require.Error(t, service.ReportSink{}.Publish(t.Context(), "run-3", model.RunResult{}))
	require.Error(t, service.ReportSink{}.Publish(t.Context(), "run-3", model.RunResult{ExportDir: filepath.Join(dir, "missing")}))
}
