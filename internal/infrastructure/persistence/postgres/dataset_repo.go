package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/season"
	"github.com/nykp/meetup-participation/internal/domain/shared"
)

var (
	factColumns   = []string{"group_urlname", "position", "event_id", "event_title", "event_datetime", "event_status", "event_going", "event_cursor", "name", "city", "state", "user_id", "attend_status", "kind"}
	seasonColumns = []string{"group_urlname", "position", "name", "start_at", "end_at"}
)

// DatasetInfo summarizes a stored dataset.
type DatasetInfo struct {
	Group      string
	Facts      int
	HasSeasons bool
	UpdatedAt  time.Time
}

// DatasetRepository stores one dataset per group.
type DatasetRepository struct {
	conn *Connection
}

// NewDatasetRepository creates a DatasetRepository.
func NewDatasetRepository(conn *Connection) *DatasetRepository {
	return &DatasetRepository{conn: conn}
}

// Save replaces the stored dataset for d's group.
func (r *DatasetRepository) Save(ctx context.Context, d *report.Dataset) error {
	snap := d.Snapshot()

	err := r.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO datasets (group_urlname, has_seasons, allow_overlap, fact_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_urlname) DO UPDATE SET
				has_seasons = EXCLUDED.has_seasons,
				allow_overlap = EXCLUDED.allow_overlap,
				fact_count = EXCLUDED.fact_count,
				updated_at = NOW()`,
			snap.Group, snap.HasSeasons, snap.AllowOverlap, len(snap.Facts))
		if err != nil {
			return fmt.Errorf("upsert dataset: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM attendee_facts WHERE group_urlname = $1`, snap.Group); err != nil {
			return fmt.Errorf("clear facts: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dataset_seasons WHERE group_urlname = $1`, snap.Group); err != nil {
			return fmt.Errorf("clear seasons: %w", err)
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"attendee_facts"}, factColumns,
			pgx.CopyFromSlice(len(snap.Facts), func(i int) ([]any, error) {
				return factRow(snap.Group, i, snap.Facts[i]), nil
			}))
		if err != nil {
			return fmt.Errorf("copy facts: %w", err)
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"dataset_seasons"}, seasonColumns,
			pgx.CopyFromSlice(len(snap.Seasons), func(i int) ([]any, error) {
				return seasonRow(snap.Group, i, snap.Seasons[i]), nil
			}))
		if err != nil {
			return fmt.Errorf("copy seasons: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save dataset %s: %w", snap.Group, err)
	}
	return nil
}

// Load reads the dataset stored for group. Season labels are recomputed.
func (r *DatasetRepository) Load(ctx context.Context, group string) (*report.Dataset, error) {
	snap := report.Snapshot{Group: group}

	err := r.conn.WithTx(ctx, ReadOnly, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT has_seasons, allow_overlap FROM datasets WHERE group_urlname = $1`, group,
		).Scan(&snap.HasSeasons, &snap.AllowOverlap)
		if err != nil {
			if IsNoRows(err) {
				return shared.NewDomainError("postgres", "Load", shared.ErrNotFound, "no dataset for group "+group)
			}
			return fmt.Errorf("query dataset: %w", err)
		}

		if snap.Facts, err = loadFacts(ctx, tx, group); err != nil {
			return err
		}
		snap.Seasons, err = loadSeasons(ctx, tx, group)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report.FromSnapshot(snap)
}

// List returns every stored dataset, newest first.
func (r *DatasetRepository) List(ctx context.Context) ([]DatasetInfo, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT group_urlname, fact_count, has_seasons, updated_at
		FROM datasets
		ORDER BY updated_at DESC, group_urlname`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DatasetInfo, error) {
		var info DatasetInfo
		err := row.Scan(&info.Group, &info.Facts, &info.HasSeasons, &info.UpdatedAt)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan datasets: %w", err)
	}
	return infos, nil
}

// Delete removes the dataset for group. Deleting an absent group is not an
// error.
func (r *DatasetRepository) Delete(ctx context.Context, group string) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM datasets WHERE group_urlname = $1`, group); err != nil {
		return fmt.Errorf("delete dataset %s: %w", group, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func loadFacts(ctx context.Context, q Querier, group string) ([]attendance.Fact, error) {
	rows, err := q.Query(ctx, `
		SELECT event_id, event_title, event_datetime, event_status, event_going, event_cursor,
		       name, city, state, user_id, attend_status, kind
		FROM attendee_facts
		WHERE group_urlname = $1
		ORDER BY position`, group)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (attendance.Fact, error) {
		var (
			f            attendance.Fact
			attendStatus string
			kind         string
		)
		err := row.Scan(
			&f.EventID,
			&f.EventTitle,
			&f.EventDateTime,
			&f.EventStatus,
			&f.EventGoing,
			&f.Cursor,
			&f.Name,
			&f.City,
			&f.State,
			&f.UserID,
			&attendStatus,
			&kind,
		)
		f.AttendStatus = attendance.AttendStatus(attendStatus)
		f.Kind = attendance.Kind(kind)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan facts: %w", err)
	}
	return facts, nil
}

func loadSeasons(ctx context.Context, q Querier, group string) ([]season.Season, error) {
	rows, err := q.Query(ctx, `
		SELECT name, start_at, end_at
		FROM dataset_seasons
		WHERE group_urlname = $1
		ORDER BY position`, group)
	if err != nil {
		return nil, fmt.Errorf("query seasons: %w", err)
	}

	seasons, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (season.Season, error) {
		var (
			name       string
			start, end time.Time
		)
		err := row.Scan(&name, &start, &end)
		return season.New(name, start, end), err
	})
	if err != nil {
		return nil, fmt.Errorf("scan seasons: %w", err)
	}
	return seasons, nil
}

func factRow(group string, position int, f attendance.Fact) []any {
	return []any{
		group,
		position,
		f.EventID,
		f.EventTitle,
		f.EventDateTime,
		f.EventStatus,
		f.EventGoing,
		f.Cursor,
		f.Name,
		f.City,
		f.State,
		f.UserID,
		string(f.AttendStatus),
		string(f.Kind),
	}
}

func seasonRow(group string, position int, s season.Season) []any {
	return []any{group, position, s.Name, s.Start, s.End}
}
