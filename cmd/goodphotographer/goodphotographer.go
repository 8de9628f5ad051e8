package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/history"
	"github.com/GoodPhotographer/goodphotographer/internal/intake"
	"github.com/GoodPhotographer/goodphotographer/internal/job"
	"github.com/GoodPhotographer/goodphotographer/internal/log"
	"github.com/GoodPhotographer/goodphotographer/internal/metrics"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/progress"
	"github.com/GoodPhotographer/goodphotographer/internal/service"
	"github.com/GoodPhotographer/goodphotographer/internal/worker"

	"github.com/spf13/cobra"
)

var (
	flagExportDir string
	flagFormats   []string
	flagTimeout   string
	flagQuiet     bool
	flagLimit     int
	flagOutput    string
	flagJobs      int
)

var runCmd = &cobra.Command{
	Use:   "run BATCH",
	Short: "run processes the photos listed in a batch file (yaml, json or toml)",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "locate prints the image processor the configuration resolves to",
	Args:  cobra.NoArgs,
	RunE:  doLocate,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history lists past runs recorded in service.history",
	Args:  cobra.NoArgs,
	RunE:  doHistory,
}

var intakeCmd = &cobra.Command{
	Use:   "intake DIR...",
	Short: "intake writes a batch file listing the photos found in given directories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doIntake,
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("goodphotographer",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	in, err := batchInputs(args[0])
	if err != nil {
		return err
	}
	ws, err := workerSettings()
	if err != nil {
		return err
	}
	if flagTimeout != "" {
		ws.Timeout, err = model.ParseTimeout(flagTimeout)
		if err != nil {
			return fmt.Errorf("parsing --timeout: %w", err)
		}
	}

	bus := progress.NewBus()
	defer bus.Close()
	processor, closer, err := newProcessor(ctx, ws, cmd.OutOrStdout(), bus)
	if err != nil {
		return err
	}
	defer closer()

	var wg sync.WaitGroup
	if !flagQuiet {
		events, unsubscribe := bus.Subscribe()
		defer unsubscribe()
		wg.Go(func() {
			printProgress(cmd.ErrOrStderr(), events)
		})
	}

	result, err := processor.RunProcessor(ctx, in)
	bus.Close()
	wg.Wait()
	if err != nil {
		return err
	}
	if !result.Success {
		return errRunFailed
	}
	return nil
}

// batchInputs loads the batch, applies the flags and validates it, so the
// processor only ever sees complete photo metadata.
func batchInputs(path string) (job.Inputs, error) {
	in, err := job.LoadBatch(path)
	if err != nil {
		return job.Inputs{}, err
	}

	if len(flagFormats) > 0 {
		in.Formats = in.Formats[:0]
		for _, f := range flagFormats {
			id, err := model.ParseFormat(f)
			if err != nil {
				return job.Inputs{}, err
			}
			in.Formats = append(in.Formats, id)
		}
	}
	if flagExportDir != "" {
		in.ExportDir = flagExportDir
	}

	if err := in.Validate(); err != nil {
		return job.Inputs{}, fmt.Errorf("invalid batch %s: %w", path, err)
	}

	if in.ExportDir == "" {
		in.ExportDir, err = job.NewExportDir(expandHome(config.ExportRoot()), time.Now())
		if err != nil {
			return job.Inputs{}, err
		}
	} else if err := os.MkdirAll(in.ExportDir, 0o755); err != nil {
		return job.Inputs{}, fmt.Errorf("creating export directory: %w", err)
	}
	return in, nil
}

func newProcessor(ctx context.Context, ws model.WorkerSettings, stdout io.Writer, bus *progress.Bus) (*service.Processor, func(), error) {
	locator, err := worker.NewLocator(ws)
	if err != nil {
		return nil, nil, err
	}
	processor := service.NewProcessor(locator, service.NewRunnerFromSettings(ws), ws.Timeout).
		WithEnv(ws.Env...).
		WithBus(bus)

	closer := func() {}
	if path := config.HistoryPath(); path != "" {
		ledger, err := history.Open(ctx, expandHome(path))
		if err != nil {
			return nil, nil, fmt.Errorf("opening run history: %w", err)
		}
		processor = processor.WithHistory(ledger)
		closer = func() {
			if err := ledger.Close(); err != nil {
				slog.ErrorContext(ctx, "closing run history", "error", err)
			}
		}
	}

	if path := config.MetricsPath(); path != "" {
		processor = processor.WithMetrics(metrics.New(), expandHome(path))
	}

	sinks := []service.ResultSink{
		service.NewWriteSink(stdout),
		service.ReportSink{},
	}
	if url := config.NotifyURL(); url != "" {
		notify, err := service.NewNotifySink(url)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("service.notify: %w", err)
		}
		sinks = append(sinks, notify)
	}
	return processor.WithSinks(sinks...), closer, nil
}

func printProgress(w io.Writer, events <-chan model.ProgressEvent) {
	seen := 0
	for ev := range events {
		// snapshots are cumulative, print only errors not shown yet
		for _, e := range ev.Errors[min(seen, len(ev.Errors)):] {
			_, _ = fmt.Fprintf(w, "error: %s\n", e)
		}
		seen = max(seen, len(ev.Errors))
		_, _ = fmt.Fprintf(w, "progress: %d/%d\n", ev.Current, ev.Total)
	}
}

func doLocate(cmd *cobra.Command, _ []string) error {
	ws, err := workerSettings()
	if err != nil {
		return err
	}
	locator, err := worker.NewLocator(ws)
	if err != nil {
		return err
	}
	inv, err := locator.Resolve()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Layout   string   `json:"layout"`
		Path     string   `json:"path"`
		Args     []string `json:"args"`
		Dir      string   `json:"dir"`
		Template string   `json:"template"`
		Arch     string   `json:"arch,omitempty"`
	}{
		Layout:   locator.Layout.String(),
		Path:     inv.Path,
		Args:     inv.Argv(filepath.Join("<export_dir>", job.FileName)),
		Dir:      inv.Dir,
		Template: inv.TemplatePath,
		Arch:     inv.Arch,
	})
}

var historyShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "show prints one recorded run with its errors",
	Args:  cobra.ExactArgs(1),
	RunE:  doHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "delete removes a recorded run from the history",
	Args:  cobra.ExactArgs(1),
	RunE:  doHistoryDelete,
}

func openLedger(ctx context.Context) (*history.Ledger, error) {
	path := config.HistoryPath()
	if path == "" {
		return nil, errors.New("service.history is not configured")
	}
	return history.Open(ctx, expandHome(path))
}

func doHistoryShow(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		_ = ledger.Close()
	}()

	row, err := ledger.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "%s %s\n", row.StartedAt.Format(time.RFC3339), row)
	if row.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "finished: %s\n", row.FinishedAt.Format(time.RFC3339))
	}
	for _, e := range row.Errors {
		_, _ = fmt.Fprintf(w, "error: %s\n", e)
	}
	return nil
}

func doHistoryDelete(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		_ = ledger.Close()
	}()

	if err := ledger.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	slog.InfoContext(cmd.Context(), "run deleted", "run_id", args[0])
	return nil
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ledger, err := openLedger(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		_ = ledger.Close()
	}()

	rows, err := ledger.List(cmd.Context(), flagLimit)
	if err != nil {
		return err
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", row.StartedAt.Format(time.RFC3339), row)
	}
	return nil
}

// workerSettings returns the worker section with ~ expanded in its paths.
func workerSettings() (model.WorkerSettings, error) {
	ws, err := config.WorkerSettings()
	if err != nil {
		return model.WorkerSettings{}, err
	}
	if ws.SourceRoot != "" {
		ws.SourceRoot = expandHome(ws.SourceRoot)
	}
	if ws.Resources != "" {
		ws.Resources = expandHome(ws.Resources)
	}
	return ws, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func doIntake(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("goodphotographer",
		slog.String("cmd", "intake"),
		slog.Int("pid", os.Getpid()),
	))

	photos, err := intake.Scan(ctx, flagJobs, args...)
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		return job.ErrNoPhotos
	}
	in := job.Inputs{Formats: model.Formats()}
	for _, p := range photos {
		in.Photos = append(in.Photos, model.PhotoItem{Path: p.Path})
	}
	slog.InfoContext(ctx, "photos found", "count", len(in.Photos))

	w := cmd.OutOrStdout()
	if flagOutput != "" && flagOutput != "-" {
		f, err := os.Create(flagOutput)
		if err != nil {
			return fmt.Errorf("creating batch: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		w = f
	}
	return job.WriteBatch(w, in)
}
