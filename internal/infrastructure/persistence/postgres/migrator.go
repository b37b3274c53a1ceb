package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrMigration wraps a failed schema step.
var ErrMigration = errors.New("postgres: migration failed")

// Migration is one schema step. AppliedAt is zero while it is pending.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

func (m Migration) label() string { return fmt.Sprintf("%03d_%s", m.Version, m.Name) }

const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrator walks Migrations forwards or one step back, recording progress
// in schema_migrations. Each step runs in its own transaction.
type Migrator struct {
	conn   *Connection
	steps  []Migration
	logger *zap.Logger
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, steps: Migrations(), logger: conn.logger.Named("migrator")}
}

// ledger returns the applied versions with their times.
func (m *Migrator) ledger(ctx context.Context) (map[int]time.Time, error) {
	if _, err := m.conn.Exec(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("read schema_migrations: %w", err)
		}
		done[version] = at
	}
	return done, rows.Err()
}

// Migrate applies the pending steps in version order and returns how many
// ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	done, err := m.ledger(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, step := range m.steps {
		if _, ok := done[step.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, step.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				step.Version, step.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: %s: %v", ErrMigration, step.label(), err)
		}
		ran++
		m.logger.Info("migration applied", zap.String("migration", step.label()))
	}
	return ran, nil
}

// Rollback reverts the newest applied step. It returns false when nothing
// was applied.
func (m *Migrator) Rollback(ctx context.Context) (bool, error) {
	done, err := m.ledger(ctx)
	if err != nil {
		return false, err
	}
	var last *Migration
	for _, step := range slices.Backward(m.steps) {
		if _, ok := done[step.Version]; ok {
			last = &step
			break
		}
	}
	if last == nil {
		return false, nil
	}

	err = m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, last.Version)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: revert %s: %v", ErrMigration, last.label(), err)
	}
	m.logger.Info("migration reverted", zap.String("migration", last.label()))
	return true, nil
}

// Status lists every known step, marking the applied ones.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.ledger(ctx)
	if err != nil {
		return nil, err
	}
	return markApplied(m.steps, done), nil
}

func markApplied(steps []Migration, done map[int]time.Time) []Migration {
	out := slices.Clone(steps)
	for i := range out {
		if at, ok := done[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out
}
