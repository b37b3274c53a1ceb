package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/config"
	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/season"
	"github.com/nykp/meetup-participation/internal/domain/shared"
	"github.com/nykp/meetup-participation/internal/infrastructure/external/meetup"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/file"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/postgres"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/redis"
	"github.com/nykp/meetup-participation/pkg/logger"
	"github.com/nykp/meetup-participation/pkg/telemetry"
)

// datasetExt is the extension of dataset files written by pull.
const datasetExt = ".cbor"

// Dataset stores selectable with -store.
const (
	storeFile     = "file"
	storePostgres = "postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// app holds the process-wide dependencies of one command. Connections are
// opened on first use and released by close.
type app struct {
	cfg *config.Config
	log *zap.Logger
	tel *telemetry.Telemetry

	db    *postgres.Connection
	cache *redis.Cache
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Observability.LogLevel,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
		OutputPath:  cfg.Observability.LogOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		TracingEnabled: cfg.Observability.TracingEnabled,
		MetricsEnabled: cfg.Observability.MetricsEnabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: version,
		Environment:    string(cfg.App.Environment),
		CollectorAddr:  cfg.Observability.OTLPEndpoint,
		SampleRatio:    cfg.Observability.SampleRatio,
	})
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	log.Debug("configuration loaded",
		zap.String("env", string(cfg.App.Environment)),
		zap.String("timezone", cfg.App.Timezone),
		zap.Bool("database", cfg.Database.URL != ""),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("telemetry", cfg.Observability.TracingEnabled || cfg.Observability.MetricsEnabled),
	)

	return &app{cfg: cfg, log: log, tel: tel}, nil
}

func (a *app) close(ctx context.Context) {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("failed to flush telemetry", zap.Error(err))
	}
	_ = a.log.Sync()
}

// database connects to PostgreSQL and applies pending migrations on first
// call.
func (a *app) database(ctx context.Context) (*postgres.Connection, error) {
	return a.connect(ctx, a.cfg.Database.Migrate)
}

func (a *app) connect(ctx context.Context, migrate bool) (*postgres.Connection, error) {
	if a.db != nil {
		return a.db, nil
	}
	if a.cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = a.cfg.Database.URL
	pgCfg.MaxConns = a.cfg.Database.MaxConns
	pgCfg.MaxConnLifetime = a.cfg.Database.MaxConnLifetime
	pgCfg.ConnectTimeout = a.cfg.Database.ConnectTimeout

	conn, err := postgres.NewConnection(ctx, pgCfg, a.log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if _, err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}
	a.db = conn
	return conn, nil
}

// redisCache connects to Redis on first call. It returns nil without error
// when no address is configured.
func (a *app) redisCache(ctx context.Context) (*redis.Cache, error) {
	if a.cache != nil || a.cfg.Redis.Addr == "" {
		return a.cache, nil
	}

	rCfg := redis.DefaultConfig()
	rCfg.Addr = a.cfg.Redis.Addr
	rCfg.Password = a.cfg.Redis.Password
	rCfg.DB = a.cfg.Redis.DB

	cache, err := redis.NewCache(ctx, rCfg)
	if err != nil {
		return nil, err
	}
	a.cache = cache
	return cache, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PULL WIRING
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) meetupClient() (*meetup.Client, error) {
	token, err := a.cfg.Meetup.ResolveToken()
	if err != nil {
		return nil, err
	}

	mc := meetup.DefaultClientConfig(token)
	mc.Endpoint = a.cfg.Meetup.Endpoint
	mc.Timeout = a.cfg.Meetup.Timeout
	mc.MaxAttempts = a.cfg.Meetup.MaxAttempts
	mc.BreakerThreshold = a.cfg.Meetup.BreakerThreshold
	mc.BreakerTimeout = a.cfg.Meetup.BreakerTimeout
	mc.RateLimiter.RequestsPerSecond = a.cfg.Meetup.RequestsPerSec
	mc.RateLimiter.BurstSize = a.cfg.Meetup.Burst
	mc.Logger = a.log
	return meetup.NewClient(mc), nil
}

// pullService builds the fetcher chain (client, then the Redis page cache
// when configured) and records runs in PostgreSQL when a database is
// configured. The page cache is returned so the caller can invalidate it.
func (a *app) pullService(ctx context.Context) (*pull.Service, *redis.PageCache, error) {
	client, err := a.meetupClient()
	if err != nil {
		return nil, nil, err
	}

	var (
		fetcher pull.Fetcher = client
		pages   *redis.PageCache
	)
	cache, err := a.redisCache(ctx)
	switch {
	case err != nil:
		a.log.Warn("redis unavailable, page cache disabled", zap.Error(err))
	case cache != nil:
		pages = redis.NewPageCache(client, cache, a.cfg.Redis.PageTTL, a.log)
		fetcher = pages
	}

	var runs pull.RunRecorder
	if a.cfg.Database.URL != "" {
		db, err := a.database(ctx)
		if err != nil {
			return nil, nil, err
		}
		runs = postgres.NewRunRepository(db)
	}

	return pull.NewService(pull.NewDriver(fetcher), runs, a.log), pages, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DATASET SOURCES
// ══════════════════════════════════════════════════════════════════════════════

// source locates a dataset: a file path, or a group in PostgreSQL.
type source struct {
	store string
	path  string
	group string
}

func (s source) validate() error {
	switch s.store {
	case storeFile:
		if s.path == "" && s.group == "" {
			return errors.New("-in or -group is required")
		}
	case storePostgres:
		if s.group == "" {
			return errors.New("-group is required with -store postgres")
		}
	default:
		return fmt.Errorf("-store must be %q or %q, got %q", storeFile, storePostgres, s.store)
	}
	return nil
}

// filePath returns the explicit path or <dataDir>/<group>.cbor.
func (s source) filePath(dataDir string) string {
	if s.path != "" {
		return s.path
	}
	return filepath.Join(dataDir, s.group+datasetExt)
}

func (a *app) loadDataset(ctx context.Context, src source) (*report.Dataset, error) {
	if src.store == storePostgres {
		db, err := a.database(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewDatasetRepository(db).Load(ctx, src.group)
	}

	store, err := file.NewStore()
	if err != nil {
		return nil, err
	}
	return store.Load(src.filePath(a.cfg.App.DataDir))
}

// saveDataset writes d and returns where it went.
func (a *app) saveDataset(ctx context.Context, src source, d *report.Dataset) (string, error) {
	if src.store == storePostgres {
		db, err := a.database(ctx)
		if err != nil {
			return "", err
		}
		if err := postgres.NewDatasetRepository(db).Save(ctx, d); err != nil {
			return "", err
		}
		return "postgres dataset " + d.Group(), nil
	}

	store, err := file.NewStore()
	if err != nil {
		return "", err
	}
	path := src.filePath(a.cfg.App.DataDir)
	if err := store.Save(path, d); err != nil {
		return "", err
	}
	return path, nil
}

// applySeasonsFile adds the seasons of a YAML file to d.
func (a *app) applySeasonsFile(d *report.Dataset, path string) error {
	if path == "" {
		return nil
	}
	set, err := config.LoadSeasons(path, a.cfg.Location())
	if err != nil {
		return err
	}
	if err := d.AddSeasons(set); err != nil {
		return fmt.Errorf("add seasons from %s: %w", path, err)
	}
	a.log.Info("seasons applied",
		zap.String("file", path),
		zap.Strings("seasons", set.Names()),
		zap.Strings("labeled", d.LabeledSeasons()),
	)
	return nil
}

// checkSeasons fails when a name is not in the dataset's season set.
func checkSeasons(d *report.Dataset, names []string) error {
	set, ok := d.Seasons()
	if !ok {
		set = season.Empty()
	}
	for _, name := range names {
		if _, found := set.Find(name); !found {
			return shared.NewDomainError("report", "Print", shared.ErrNotFound, fmt.Sprintf("unknown season %q", name))
		}
	}
	return nil
}
