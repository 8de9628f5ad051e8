package service_test

import (
	"context"
	"io/fs"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/GoodPhotographer/goodphotographer/internal/progress"
	"github.com/GoodPhotographer/goodphotographer/internal/service"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func script(t *testing.T, body string, timeout time.Duration) service.Command {
	t.Helper()
	return service.Command{
		Path:    shell(t),
		Args:    []string{"-c", body},
		Dir:     t.TempDir(),
		Timeout: timeout,
	}
}

func TestRunCompletedWithErrors(t *testing.T) {
	t.Parallel()
	cmd := script(t, `
echo 'loading template'
echo 'PROGRESS 1 2'
echo 'ERROR:minor issue'
echo 'PROGRESS 2 2'
exit 0`, 10*time.Second)

	rep := service.NewReporter("/exports/run", 2, nil)
	res, err := service.NewRunner().Run(t.Context(), cmd, rep)
	require.NoError(t, err)
	require.Equal(t, model.RunResult{
		Success:   true,
		ExportDir: "/exports/run",
		Errors:    []string{"minor issue"},
	}, res)
	require.Equal(t, model.StateCompleted, rep.State())
	require.Equal(t, model.ProgressEvent{Current: 2, Total: 2, Errors: []string{"minor issue"}}, rep.Snapshot())
}

func TestRunFailedExitCode(t *testing.T) {
	t.Parallel()
	cmd := script(t, `echo 'ERROR:first photo'; echo boom >&2; exit 2`, 10*time.Second)

	rep := service.NewReporter("/exports/run", 1, nil)
	res, err := service.NewRunner().Run(t.Context(), cmd, rep)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "/exports/run", res.ExportDir)
	require.Equal(t, []string{"first photo", "Processor exit 2: boom"}, res.Errors)
	require.Equal(t, model.StateFailed, rep.State())
}

func TestRunFailedQuietly(t *testing.T) {
	t.Parallel()
	cmd := script(t, `echo '   ' >&2; exit 3`, 10*time.Second)

	res, err := service.NewRunner().Run(t.Context(), cmd, service.NewReporter("", 1, nil))
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Empty(t, res.Errors, "blank stderr adds no diagnostic")
}

func TestRunStderrTail(t *testing.T) {
	t.Parallel()
	cmd := script(t, `for i in 1 2 3 4 5 6 7 8 9 10; do echo "line$i" >&2; done; exit 1`, 10*time.Second)

	res, err := service.NewRunner().WithStderrLimit(1024).Run(t.Context(), cmd, service.NewReporter("", 1, nil))
	require.NoError(t, err)
	require.Equal(t, []string{"Processor exit 1: line6 line7 line8 line9 line10"}, res.Errors)
}

func TestRunProgressSplitAcrossWrites(t *testing.T) {
	t.Parallel()
	cmd := script(t, `printf 'PROG'; sleep 0.1; printf 'RESS 3 10\nERROR:'; sleep 0.1; printf 'split error\nERROR:unterminated'`, 10*time.Second)

	bus := progress.NewBus()
	t.Cleanup(bus.Close)
	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	rep := service.NewReporter("", 10, bus)
	res, err := service.NewRunner().Run(t.Context(), cmd, rep)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, []string{"split error", "unterminated"}, res.Errors)

	want := model.ProgressEvent{Current: 3, Total: 10, Errors: []string{"split error", "unterminated"}}
	require.Equal(t, want, rep.Snapshot())
	select {
	case ev := <-events:
		require.Equal(t, want, ev, "the latest snapshot wins")
	default:
		t.Fatal("no progress published")
	}
}

func TestRunLaunchError(t *testing.T) {
	t.Parallel()
	rep := service.NewReporter("", 1, nil)
	_, err := service.NewRunner().Run(t.Context(), service.Command{
		Path:    "/does/not/exist/processor",
		Timeout: time.Second,
	}, rep)
	require.Error(t, err)
	require.ErrorIs(t, err, fs.ErrNotExist)
	var launchErr *service.LaunchError
	require.NotErrorAs(t, err, &launchErr, "only architecture mismatches are rewritten")
	require.Equal(t, model.StateFailed, rep.State())
}

func TestRunCancel(t *testing.T) {
	t.Parallel()
	cmd := script(t, `echo 'PROGRESS 1 5'; exec sleep 30`, time.Minute)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	rep := service.NewReporter("", 5, nil)
	_, err := service.NewRunner().Run(ctx, cmd, rep)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, model.StateFailed, rep.State())
}

func TestRunWaitDelay(t *testing.T) {
	t.Parallel()
	// the background sleep inherits stdout and keeps it open
	cmd := script(t, `sleep 3 & echo 'PROGRESS 1 1'`, time.Minute)

	start := time.Now()
	res, err := service.NewRunner().WithWaitDelay(100*time.Millisecond).Run(t.Context(), cmd, service.NewReporter("", 1, nil))
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Less(t, time.Since(start), 2500*time.Millisecond)
}

func TestRunExitTimeoutRace(t *testing.T) {
	t.Parallel()
	sh := shell(t)

	for i := range 20 {
		cmd := service.Command{
			Path:    sh,
			Args:    []string{"-c", "sleep 0.05; echo 'ERROR:late'"},
			Timeout: time.Duration(40+i%3*5) * time.Millisecond,
		}
		rep := service.NewReporter("", 1, nil)
		res, err := service.NewRunner().Run(t.Context(), cmd, rep)
		require.NoError(t, err)

		switch rep.State() {
		case model.StateCompleted:
			require.True(t, res.Success)
			require.Equal(t, []string{"late"}, res.Errors)
		case model.StateTimedOut:
			require.False(t, res.Success)
			require.NotEmpty(t, res.Errors)
			require.Contains(t, res.Errors[len(res.Errors)-1], "timed out")
		default:
			t.Fatalf("unexpected terminal state %q", rep.State())
		}
		// progress arriving after the resolution is not observable
		require.Equal(t, res.Errors[:len(res.Errors)-countTimeout(res)], rep.Snapshot().Errors)
	}
}

func countTimeout(res model.RunResult) int {
	if len(res.Errors) > 0 && strings.Contains(res.Errors[len(res.Errors)-1], "timed out") {
		return 1
	}
	return 0
}
