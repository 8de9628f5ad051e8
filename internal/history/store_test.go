package history_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/history"
	"github.com/GoodPhotographer/goodphotographer/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	started := time.UnixMilli(1_760_000_000_000)
	okID, failID, errID := uuid.NewString(), uuid.NewString(), uuid.NewString()

	for _, id := range []string{okID, failID, errID} {
		require.NoError(t, history.Start(ctx, db, id, "/exports/"+id, started))
	}
	// starting twice while in progress is fine
	require.NoError(t, history.Start(ctx, db, okID, "/exports/"+okID, started))

	row, err := history.Get(ctx, db, okID)
	require.NoError(t, err)
	require.True(t, row.InProgress)
	require.Nil(t, row.Success)
	require.Nil(t, row.State)
	require.Equal(t, started, row.StartedAt)

	finished := started.Add(3 * time.Second)
	err = history.FinishResult(ctx, db, okID, model.StateCompleted, model.RunResult{
		Success:   true,
		ExportDir: "/exports/" + okID,
		Errors:    []string{"minor issue"},
	}, finished)
	require.NoError(t, err)

	err = history.FinishResult(ctx, db, failID, model.StateTimedOut, model.RunResult{
		Errors: []string{"timed out"},
	}, finished)
	require.NoError(t, err)

	require.NoError(t, history.FinishErr(ctx, db, errID, "exec format error", finished))

	t.Run("finished once", func(t *testing.T) {
		require.ErrorIs(t, history.FinishErr(ctx, db, okID, "again", finished), history.ErrAlreadyFinished)
		require.ErrorIs(t, history.Start(ctx, db, okID, "", started), history.ErrAlreadyFinished)
		require.ErrorIs(t, history.FinishErr(ctx, db, uuid.NewString(), "x", finished), history.ErrNotFound)
	})

	t.Run("get", func(t *testing.T) {
		row, err := history.Get(ctx, db, okID)
		require.NoError(t, err)
		require.False(t, row.InProgress)
		require.NotNil(t, row.Success)
		require.True(t, *row.Success)
		require.Equal(t, model.StateCompleted, *row.State)
		require.Equal(t, []string{"minor issue"}, row.Errors)
		require.Nil(t, row.FailureReason)
		require.Equal(t, finished, *row.FinishedAt)

		row, err = history.Get(ctx, db, errID)
		require.NoError(t, err)
		require.False(t, *row.Success)
		require.Equal(t, model.StateFailed, *row.State)
		require.Equal(t, "exec format error", *row.FailureReason)
		require.Contains(t, row.String(), "failure_reason")

		_, err = history.Get(ctx, db, "missing")
		require.ErrorIs(t, err, history.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		rows, err := history.List(ctx, db, 0)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		require.Equal(t, errID, rows[0].UUID, "newest first")
		require.Equal(t, okID, rows[2].UUID)

		rows, err = history.List(ctx, db, 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, history.Delete(ctx, db, failID))
		require.ErrorIs(t, history.Delete(ctx, db, failID), history.ErrNotFound)
	})
}

func TestLedger(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	l, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, l.Start(ctx, "run-1", "/exports/a"))
	require.NoError(t, l.Finish(ctx, "run-1", model.StateFailed, model.RunResult{}, errors.New("worker missing")))

	rows, err := l.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "worker missing", *rows[0].FailureReason)

	row, err := l.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "/exports/a", row.ExportDir)
	require.False(t, row.InProgress)

	require.NoError(t, l.Delete(ctx, "run-1"))
	_, err = l.Get(ctx, "run-1")
	require.ErrorIs(t, err, history.ErrNotFound)
	require.ErrorIs(t, l.Delete(ctx, "run-1"), history.ErrNotFound)
}
