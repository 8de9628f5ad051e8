package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/log"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/protocol"
)

const (
	excerptLines = 5
	excerptBytes = 500
)

// Command describes a single processor execution.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string // nil inherits the environment of the current process
	Timeout time.Duration
}

// Runner executes Commands. A Runner has no per-run state and can execute
// any number of runs concurrently: every run owns its process, buffers and
// timer.
type Runner struct {
	waitDelay   time.Duration
	stderrLimit int
	hostArch    string
	primaryArch string
}

func NewRunner() *Runner {
	return &Runner{
		waitDelay:   model.DefaultWaitDelay,
		stderrLimit: model.DefaultStderrLimit,
		hostArch:    runtime.GOARCH,
		primaryArch: model.DefaultPrimaryArch,
	}
}

// NewRunnerFromSettings returns the Runner configured by the worker section of a config.
func NewRunnerFromSettings(s model.WorkerSettings) *Runner {
	r := NewRunner()
	if s.WaitDelay > 0 {
		r.waitDelay = s.WaitDelay
	}
	if s.StderrLimit > 0 {
		r.stderrLimit = s.StderrLimit
	}
	if s.PrimaryArch != "" {
		r.primaryArch = s.PrimaryArch
	}
	return r
}

// WithArch overrides the detected host and the primary build architecture.
func (r *Runner) WithArch(host, primary string) *Runner {
	r.hostArch = host
	r.primaryArch = primary
	return r
}

func (r *Runner) WithStderrLimit(limit int) *Runner {
	r.stderrLimit = limit
	return r
}

// WithWaitDelay bounds how long output pipes are drained after the process
// exits. Grandchildren inheriting the pipes cannot hold a run open longer.
func (r *Runner) WithWaitDelay(d time.Duration) *Runner {
	r.waitDelay = d
	return r
}

// Run starts cmd and blocks until the run reaches a terminal state and the
// process has been reaped. Progress is reported through rep.
//
// The returned RunResult describes completed, failed and timed out runs. An
// error is returned only when the process could not be started, or when ctx
// was cancelled before the run ended. In the latter case the process is
// killed.
func (r *Runner) Run(ctx context.Context, cmd Command, rep *Reporter) (model.RunResult, error) {
	ctx = log.ContextAttrs(ctx, slog.String("worker", cmd.Path))
	res := newResolution()

	rep.setState(model.StateSpawning)
	parser := protocol.NewParser(rep.Snapshot().Total, rep.progress)
	stderr := newTailBuffer(r.stderrLimit)

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = parser
	c.Stderr = stderr
	c.WaitDelay = r.waitDelay

	if err := c.Start(); err != nil {
		res.resolve(func() (model.RunResult, error) {
			rep.finish(model.StateFailed)
			return model.RunResult{}, r.launchError(err)
		})
		slog.ErrorContext(ctx, "processor failed to start", "error", err)
		return res.result, res.err
	}
	ctx = log.ContextAttrs(ctx, slog.Int("pid", c.Process.Pid))
	rep.setState(model.StateRunning)
	slog.DebugContext(ctx, "processor started", "args", cmd.Args, "dir", cmd.Dir)

	var timer *time.Timer
	if cmd.Timeout > 0 {
		timer = time.AfterFunc(cmd.Timeout, func() {
			settled := res.resolve(func() (model.RunResult, error) {
				return timedOut(rep.ExportDir(), rep.finish(model.StateTimedOut), cmd.Timeout), nil
			})
			if settled {
				slog.WarnContext(ctx, "processor timed out: killing it", "timeout", cmd.Timeout)
				kill(ctx, c.Process)
			}
		})
	} else {
		slog.WarnContext(ctx, "command has no timeout", "path", cmd.Path)
	}

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		err := c.Wait()
		if timer != nil {
			timer.Stop()
		}
		// copying into the parser is over once Wait returns
		parser.Flush()
		res.resolve(func() (model.RunResult, error) {
			return r.exited(ctx, c.ProcessState, err, stderr, rep), nil
		})
	}()

	select {
	case <-res.done:
	case <-ctx.Done():
		settled := res.resolve(func() (model.RunResult, error) {
			rep.finish(model.StateFailed)
			return model.RunResult{}, ctx.Err()
		})
		if settled {
			slog.WarnContext(ctx, "run cancelled: killing processor", "error", ctx.Err())
			kill(ctx, c.Process)
		}
	}
	<-waited
	// a losing trigger may return before the winner has settled
	<-res.done
	return res.result, res.err
}

func (r *Runner) exited(ctx context.Context, ps *os.ProcessState, waitErr error, stderr *tailBuffer, rep *Reporter) model.RunResult {
	code := ps.ExitCode()
	if code == 0 {
		snapshot := rep.finish(model.StateCompleted)
		if waitErr != nil {
			slog.WarnContext(ctx, "processor succeeded with unclosed output", "error", waitErr)
		}
		slog.InfoContext(ctx, "processor completed", "errors", len(snapshot.Errors))
		return model.RunResult{
			Success:   true,
			ExportDir: rep.ExportDir(),
			Errors:    snapshot.Errors,
		}
	}

	snapshot := rep.finish(model.StateFailed)
	errs := snapshot.Errors
	if tail := excerpt(stderr.String(), excerptLines, excerptBytes); tail != "" {
		errs = append(errs, exitMessage(ps, code)+": "+tail)
	}
	slog.ErrorContext(ctx, "processor failed", "exit_code", code, "state", ps.String(), "stderr_truncated", stderr.Truncated())
	return model.RunResult{
		ExportDir: rep.ExportDir(),
		Errors:    errs,
	}
}

func (r *Runner) launchError(err error) error {
	mismatch := ClassifyLaunchError(err, r.hostArch, r.primaryArch)
	if mismatch == ArchMismatchNone {
		return err
	}
	return &LaunchError{
		Mismatch: mismatch,
		Message:  archMismatchMessage(mismatch, r.hostArch, r.primaryArch),
		Err:      err,
	}
}

func exitMessage(ps *os.ProcessState, code int) string {
	if code < 0 {
		// terminated by a signal
		return "Processor " + ps.String()
	}
	return fmt.Sprintf("Processor exit %d", code)
}

func timedOut(exportDir string, snapshot model.ProgressEvent, timeout time.Duration) model.RunResult {
	errs := append(snapshot.Errors, fmt.Sprintf(
		"Processing timed out after %s. The image processor may lack permissions to read the photos or write the export folder, or the installation is damaged: reinstall the application.",
		timeout))
	return model.RunResult{
		ExportDir: exportDir,
		Errors:    errs,
	}
}

func kill(ctx context.Context, p *os.Process) {
	err := p.Kill()
	if err != nil && err != os.ErrProcessDone {
		slog.ErrorContext(ctx, "killing processor", "error", err)
	}
}

// resolution settles a run exactly once. Every trigger (exit, timeout, launch
// error, cancellation) calls resolve; only the first one has an effect.
type resolution struct {
	settled atomic.Bool
	done    chan struct{}
	result  model.RunResult
	err     error
}

func newResolution() *resolution {
	return &resolution{done: make(chan struct{})}
}

// resolve runs settle and publishes its outcome if the run is not settled
// yet. It reports whether the caller won.
func (r *resolution) resolve(settle func() (model.RunResult, error)) bool {
	if !r.settled.CompareAndSwap(false, true) {
		return false
	}
	r.result, r.err = settle()
	close(r.done)
	return true
}
