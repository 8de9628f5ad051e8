package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

// Ledger binds the run functions to one database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := InitDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Start(ctx context.Context, runID, exportDir string) error {
	return Start(ctx, l.db, runID, exportDir, l.now())
}

// Finish records the outcome of a run: the RunResult, or runErr when
// the run produced none.
func (l *Ledger) Finish(ctx context.Context, runID string, state model.State, result model.RunResult, runErr error) error {
	if runErr != nil {
		return FinishErr(ctx, l.db, runID, runErr.Error(), l.now())
	}
	return FinishResult(ctx, l.db, runID, state, result, l.now())
}

func (l *Ledger) List(ctx context.Context, limit int) ([]RunRow, error) {
	return List(ctx, l.db, limit)
}

// Get returns the run recorded as runID or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, runID string) (RunRow, error) {
	return Get(ctx, l.db, runID)
}

func (l *Ledger) Delete(ctx context.Context, runID string) error {
	return Delete(ctx, l.db, runID)
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
