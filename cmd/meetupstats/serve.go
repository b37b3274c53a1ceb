package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	httpapi "github.com/nykp/meetup-participation/internal/interface/http"
)

type serveFlags struct {
	src         source
	addr        string
	seasonsFile string
}

func parseServeFlags(args []string, stderr io.Writer) (serveFlags, error) {
	var f serveFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.src.path, "in", "", "dataset file to serve")
	fs.StringVar(&f.src.group, "group", "", "group whose dataset to serve")
	fs.StringVar(&f.src.store, "store", storeFile, "where the dataset is saved: file or postgres")
	fs.StringVar(&f.addr, "addr", "", "listen address (default $HTTP_ADDR)")
	fs.StringVar(&f.seasonsFile, "seasons", "", "YAML file of seasons to add before serving")
	if err := fs.Parse(args); err != nil {
		return f, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return f, errUsage
	}
	if err := f.src.validate(); err != nil {
		return f, err
	}
	return f, nil
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	f, err := parseServeFlags(args, stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	d, err := a.loadDataset(ctx, f.src)
	if err != nil {
		return err
	}
	if err := a.applySeasonsFile(d, f.seasonsFile); err != nil {
		return err
	}

	health := httpapi.NewHealthChecker(version)
	health.SetTimeout(a.cfg.HTTP.HealthTimeout)
	if a.db != nil {
		health.AddCheck("postgres", httpapi.PingCheck(a.db))
	}
	if cache, err := a.redisCache(ctx); err != nil {
		a.log.Warn("redis unavailable", zap.Error(err))
	} else if cache != nil {
		health.AddCheck("redis", httpapi.PingCheck(cache))
	}

	cfg := httpapi.DefaultConfig()
	cfg.Addr = a.cfg.HTTP.Addr
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	cfg.ReadTimeout = a.cfg.HTTP.ReadTimeout
	cfg.WriteTimeout = a.cfg.HTTP.WriteTimeout
	cfg.ShutdownTimeout = a.cfg.HTTP.ShutdownTimeout

	srv, err := httpapi.NewServer(cfg, httpapi.Dependencies{
		Dataset: d,
		Health:  health,
		Logger:  a.log,
		Version: version,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
