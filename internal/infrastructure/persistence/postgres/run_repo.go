package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/domain/shared"
)

// RunRepository implements pull.RunRecorder.
type RunRepository struct {
	conn *Connection
}

var _ pull.RunRecorder = (*RunRepository)(nil)

// NewRunRepository creates a RunRepository.
func NewRunRepository(conn *Connection) *RunRepository {
	return &RunRepository{conn: conn}
}

// Start records a run that has begun.
func (r *RunRepository) Start(ctx context.Context, run pull.Run) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO pull_runs (id, group_urlname, start_cursor, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Group, run.StartCursor, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("insert pull run %s: %w", run.ID, err)
	}
	return nil
}

// Finish stores the outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, run pull.Run) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE pull_runs SET
			status = $2,
			finished_at = $3,
			pages = $4,
			row_count = $5,
			resume_cursor = $6,
			error = $7
		WHERE id = $1`,
		run.ID, string(run.Status), nullTime(run.FinishedAt), run.Pages, run.Rows, run.ResumeCursor, run.Error)
	if err != nil {
		return fmt.Errorf("update pull run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "Finish", shared.ErrNotFound, "no pull run "+run.ID.String())
	}
	return nil
}

// LastUnfinished returns the newest resumable run for group.
func (r *RunRepository) LastUnfinished(ctx context.Context, group string) (pull.Run, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, group_urlname, start_cursor, status, started_at, finished_at,
		       pages, row_count, resume_cursor, error
		FROM pull_runs
		WHERE group_urlname = $1
		  AND status IN ($2, $3)
		  AND resume_cursor <> ''
		ORDER BY started_at DESC
		LIMIT 1`,
		group, string(pull.RunPartial), string(pull.RunFailed))
	if err != nil {
		return pull.Run{}, fmt.Errorf("query pull runs: %w", err)
	}

	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if err != nil {
		if IsNoRows(err) {
			return pull.Run{}, shared.NewDomainError("postgres", "LastUnfinished", shared.ErrNotFound,
				"no resumable pull for group "+group)
		}
		return pull.Run{}, fmt.Errorf("scan pull run: %w", err)
	}
	return run, nil
}

// Recent returns the latest runs for group, newest first.
func (r *RunRepository) Recent(ctx context.Context, group string, limit int) ([]pull.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn.Query(ctx, `
		SELECT id, group_urlname, start_cursor, status, started_at, finished_at,
		       pages, row_count, resume_cursor, error
		FROM pull_runs
		WHERE group_urlname = $1
		ORDER BY started_at DESC
		LIMIT $2`, group, limit)
	if err != nil {
		return nil, fmt.Errorf("query pull runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("scan pull runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.CollectableRow) (pull.Run, error) {
	var (
		run      pull.Run
		status   string
		finished *time.Time
	)
	err := row.Scan(
		&run.ID,
		&run.Group,
		&run.StartCursor,
		&status,
		&run.StartedAt,
		&finished,
		&run.Pages,
		&run.Rows,
		&run.ResumeCursor,
		&run.Error,
	)
	run.Status = pull.RunStatus(status)
	if finished != nil {
		run.FinishedAt = *finished
	}
	return run, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
