// Package postgres stores participation datasets and the pull log in
// PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/pkg/retry"
)

// ErrClosed is returned by every call on a closed Connection.
var ErrClosed = errors.New("postgres: connection closed")

// ══════════════════════════════════════════════════════════════════════════════
// POOL SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the pool settings. URL is a postgres:// URL or a key=value
// DSN; zero durations and counts keep the pgxpool defaults.
type Config struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// DefaultConfig sizes the pool for one CLI run or a small API process.
func DefaultConfig() Config {
	return Config{
		MaxConns:          4,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   10 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
	}
}

// PoolConfig parses URL and layers the non-zero settings over it.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, errors.New("postgres: database URL is empty")
	}
	pc, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}

	override(&pc.MaxConns, c.MaxConns)
	override(&pc.MinConns, c.MinConns)
	override(&pc.MaxConnLifetime, c.MaxConnLifetime)
	override(&pc.MaxConnIdleTime, c.MaxConnIdleTime)
	override(&pc.HealthCheckPeriod, c.HealthCheckPeriod)
	override(&pc.ConnConfig.ConnectTimeout, c.ConnectTimeout)
	return pc, nil
}

func override[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Connection is a pgx pool that refuses work once closed.
type Connection struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	closed atomic.Bool
}

// NewConnection opens the pool and waits for the first successful ping,
// retrying under retry.DatabasePolicy.
func NewConnection(ctx context.Context, cfg Config, log *zap.Logger) (*Connection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pc, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	ping := retry.DatabasePolicy()
	ping.Notify = func(attempt int, err error, wait time.Duration) {
		log.Warn("database not reachable yet",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := ping.Do(ctx, func(ctx context.Context) error {
		return retry.Retryable(pool.Ping(ctx))
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping %s: %w", pc.ConnConfig.Host, err)
	}

	log.Info("connected to database",
		zap.String("host", pc.ConnConfig.Host),
		zap.String("database", pc.ConnConfig.Database),
		zap.Int32("max_conns", pc.MaxConns),
	)
	return &Connection{pool: pool, logger: log}, nil
}

// Close is idempotent.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping backs the serve command's health check.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.pool.Ping(ctx)
}

// ReadOnly gives multi-statement reads one snapshot.
var ReadOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// WithTx commits when fn returns nil and rolls back otherwise; fn's error
// is returned as is.
func (c *Connection) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	tx, err := c.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Querier is what the repositories read through: the Connection itself or
// an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*Connection)(nil)
	_ Querier = (pgx.Tx)(nil)
)

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.pool.QueryRow(ctx, sql, args...)
}

// IsNoRows reports pgx.ErrNoRows anywhere in err's chain.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
