package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoodPhotographer/goodphotographer/internal/job"
	"github.com/GoodPhotographer/goodphotographer/internal/log"
	"github.com/GoodPhotographer/goodphotographer/internal/metrics"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/progress"
	"github.com/GoodPhotographer/goodphotographer/internal/worker"
)

var ErrJobFile = errors.New("writing job file")

// Locator finds the processor to run.
type Locator interface {
	Resolve() (worker.Invocation, error)
}

// History records the lifecycle of runs.
type History interface {
	Start(ctx context.Context, runID, exportDir string) error
	Finish(ctx context.Context, runID string, state model.State, result model.RunResult, runErr error) error
}

// Processor is the entry point for callers: it turns a batch into a job
// file, runs the processor on it and reports the outcome.
type Processor struct {
	locator     Locator
	runner      *Runner
	timeout     time.Duration
	env         []string
	bus         *progress.Bus
	history     History
	metrics     *metrics.Metrics
	metricsPath string
	sinks       []ResultSink
}

func NewProcessor(locator Locator, runner *Runner, timeout time.Duration) *Processor {
	return &Processor{
		locator: locator,
		runner:  runner,
		timeout: timeout,
	}
}

// WithEnv adds KEY=value pairs to the environment of the processor.
func (p *Processor) WithEnv(env ...string) *Processor {
	p.env = env
	return p
}

// WithBus publishes progress of every run to bus.
func (p *Processor) WithBus(bus *progress.Bus) *Processor {
	p.bus = bus
	return p
}

func (p *Processor) WithHistory(h History) *Processor {
	p.history = h
	return p
}

// WithMetrics observes every run in m. A non-empty textfile is rewritten
// after each run.
func (p *Processor) WithMetrics(m *metrics.Metrics, textfile string) *Processor {
	p.metrics = m
	p.metricsPath = textfile
	return p
}

// WithSinks publishes every RunResult to sinks.
func (p *Processor) WithSinks(sinks ...ResultSink) *Processor {
	p.sinks = sinks
	return p
}

// RunProcessor runs the processor for one batch and blocks until it is done.
//
// Failures preventing the processor from running are returned as errors:
// worker.ErrWorkerMissing, worker.ErrTemplateMissing, ErrJobFile, a
// *LaunchError or the exec error. Everything that happens once the processor
// runs, timeout included, is described by the RunResult.
func (p *Processor) RunProcessor(ctx context.Context, in job.Inputs) (model.RunResult, error) {
	runID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("run_id", runID))
	started := time.Now()

	if p.history != nil {
		if err := p.history.Start(ctx, runID, in.ExportDir); err != nil {
			slog.ErrorContext(ctx, "recording run start", "error", err)
		}
	}

	result, rep, err := p.run(ctx, in)
	elapsed := time.Since(started)
	o := outcome{
		runID:   runID,
		state:   model.StateFailed,
		result:  result,
		err:     err,
		elapsed: elapsed,
	}
	if rep != nil {
		o.state = rep.State()
		o.itemErrors = len(rep.Snapshot().Errors)
	}
	slog.InfoContext(ctx, "run finished", "state", o.state, "success", result.Success, "elapsed", elapsed)

	// reporting is independent of the caller giving up on the run
	if rerr := p.report(context.WithoutCancel(ctx), o); rerr != nil {
		slog.ErrorContext(ctx, "reporting run", "error", rerr)
	}
	return result, err
}

// run returns the reporter of the run, nil when the processor was never started.
func (p *Processor) run(ctx context.Context, in job.Inputs) (model.RunResult, *Reporter, error) {
	inv, err := p.locator.Resolve()
	if err != nil {
		slog.ErrorContext(ctx, "locating image processor", "error", err)
		return model.RunResult{}, nil, err
	}
	ctx = log.ContextAttrs(ctx, slog.String("arch", inv.Arch))

	d := job.Build(inv.TemplatePath, in)
	jobFile, err := job.Write(d)
	if err != nil {
		return model.RunResult{}, nil, fmt.Errorf("%w: %w", ErrJobFile, err)
	}
	slog.DebugContext(ctx, "job file written", "path", jobFile, "photos", len(d.Photos), "formats", d.Formats)

	rep := NewReporter(d.ExportDir, len(d.Photos), p.bus)
	rep.Announce()
	cmd := Command{
		Path:    inv.Path,
		Args:    inv.Argv(jobFile),
		Dir:     inv.Dir,
		Env:     p.environ(),
		Timeout: p.timeout,
	}
	result, err := p.runner.Run(ctx, cmd, rep)
	return result, rep, err
}

// environ returns the processor environment. Python block-buffers stdout
// written to a pipe, which would hold back progress lines until exit.
func (p *Processor) environ() []string {
	env := append(os.Environ(), "PYTHONUNBUFFERED=1")
	return append(env, p.env...)
}

// outcome is what a finished run hands to reporting.
type outcome struct {
	runID      string
	state      model.State
	result     model.RunResult
	err        error
	itemErrors int // ERROR lines parsed from the processor output
	elapsed    time.Duration
}

// report runs history, metrics and result sinks concurrently.
func (p *Processor) report(ctx context.Context, o outcome) error {
	var g errgroup.Group

	if p.history != nil {
		g.Go(func() error {
			if err := p.history.Finish(ctx, o.runID, o.state, o.result, o.err); err != nil {
				return fmt.Errorf("recording run history: %w", err)
			}
			return nil
		})
	}

	if p.metrics != nil {
		if o.err != nil {
			p.metrics.ObserveFailure(failureReason(o.err), o.elapsed)
		} else {
			p.metrics.ObserveRun(o.state, o.elapsed, o.itemErrors)
		}
		if p.metricsPath != "" {
			g.Go(func() error {
				if err := p.metrics.WriteTextfile(p.metricsPath); err != nil {
					return fmt.Errorf("writing metrics: %w", err)
				}
				return nil
			})
		}
	}

	if o.err == nil {
		for _, sink := range p.sinks {
			g.Go(func() error {
				return sink.Publish(ctx, o.runID, o.result)
			})
		}
	}
	return g.Wait()
}

func failureReason(err error) string {
	var launchErr *LaunchError
	switch {
	case errors.Is(err, worker.ErrWorkerMissing):
		return "worker_missing"
	case errors.Is(err, worker.ErrTemplateMissing):
		return "template_missing"
	case errors.Is(err, ErrJobFile):
		return "job_file"
	case errors.As(err, &launchErr):
		return "arch_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "launch"
	}
}
