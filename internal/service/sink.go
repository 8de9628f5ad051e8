package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

// ResultFileName is written next to the job file by ReportSink.
const ResultFileName = "_result.json"

// ResultSink receives the RunResult of every run.
type ResultSink interface {
	Publish(ctx context.Context, runID string, result model.RunResult) error
}

type report struct {
	RunID string `json:"runId"`
	model.RunResult
}

// WriteSink writes results as JSON to a writer.
type WriteSink struct {
	w io.Writer
}

func NewWriteSink(w io.Writer) WriteSink {
	return WriteSink{w: w}
}

func (s WriteSink) Publish(_ context.Context, runID string, result model.RunResult) error {
	if s.w == nil {
		s.w = os.Stdout
	}
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{RunID: runID, RunResult: result})
}

// ReportSink writes ResultFileName into the export directory of the run.
type ReportSink struct{}

func (ReportSink) Publish(ctx context.Context, runID string, result model.RunResult) (err error) {
	if result.ExportDir == "" {
		return errors.New("result has no export directory")
	}
	root, err := os.OpenRoot(result.ExportDir)
	if err != nil {
		return fmt.Errorf("opening export directory: %w", err)
	}
	defer func() {
		err = errors.Join(err, root.Close())
	}()

	f, err := root.Create(ResultFileName)
	if err != nil {
		return fmt.Errorf("creating run report: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{RunID: runID, RunResult: result}); err != nil {
		_ = f.Close()
		return fmt.Errorf("saving run report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing run report: %w", err)
	}
	slog.InfoContext(ctx, "run report saved", "path", result.ExportDir+string(os.PathSeparator)+ResultFileName)
	return nil
}
