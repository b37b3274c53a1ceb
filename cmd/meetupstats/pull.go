package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/shared"
)

type pullFlags struct {
	src         source
	cursor      string
	pages       int
	seasonsFile string
	resume      bool
	appendTo    bool
	invalidate  bool
}

func parsePullFlags(args []string, stderr io.Writer) (pullFlags, error) {
	var f pullFlags
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.src.group, "group", "", "Meetup group urlname (default $MEETUP_GROUP)")
	fs.StringVar(&f.cursor, "cursor", "", "start after this cursor instead of the first page")
	fs.IntVar(&f.pages, "pages", 0, "stop after this many pages (0 = all)")
	fs.StringVar(&f.seasonsFile, "seasons", "", "YAML file of seasons to label the dataset with")
	fs.StringVar(&f.src.path, "out", "", "dataset file to write (default <data dir>/<group>.cbor)")
	fs.StringVar(&f.src.store, "store", storeFile, "where to save the dataset: file or postgres")
	fs.BoolVar(&f.resume, "resume", false, "continue the last partial or failed run recorded in postgres")
	fs.BoolVar(&f.appendTo, "append", false, "append to the saved dataset instead of replacing it")
	fs.BoolVar(&f.invalidate, "refresh", false, "drop cached pages of the group before pulling")
	if err := fs.Parse(args); err != nil {
		return f, errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return f, errUsage
	}
	if f.pages < 0 {
		return f, errors.New("-pages must not be negative")
	}
	if f.resume && f.cursor != "" {
		return f, errors.New("-resume and -cursor are mutually exclusive")
	}
	return f, nil
}

func runPull(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parsePullFlags(args, stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if f.src.group == "" {
		f.src.group = a.cfg.Meetup.Group
	}
	if f.src.group == "" {
		return errors.New("-group or MEETUP_GROUP is required")
	}
	if err := f.src.validate(); err != nil {
		return err
	}

	svc, pages, err := a.pullService(ctx)
	if err != nil {
		return err
	}
	if f.invalidate && pages != nil {
		n, err := pages.Invalidate(ctx, f.src.group)
		if err != nil {
			a.log.Warn("failed to invalidate page cache", zap.Error(err))
		} else {
			a.log.Info("page cache invalidated", zap.Int("pages", n))
		}
	}

	opts := pull.Options{
		StartCursor:   f.cursor,
		PageLimit:     f.pages,
		ProgressEvery: a.cfg.Meetup.ProgressEvery,
	}

	var (
		run pull.Run
		res pull.Result
	)
	if f.resume {
		run, res, err = svc.Resume(ctx, f.src.group, opts)
	} else {
		run, res, err = svc.Pull(ctx, f.src.group, opts)
	}

	var pullErr *pull.PullError
	if err != nil && !errors.As(err, &pullErr) {
		return err
	}
	if pullErr != nil && len(res.Facts) == 0 {
		return err
	}

	// Continuations (resume, cursor, append) extend what is already saved.
	facts := res.Facts
	var base *report.Dataset
	if f.appendTo || f.resume || f.cursor != "" {
		base, err = a.loadDataset(ctx, f.src)
		switch {
		case shared.IsNotFound(err):
			base = nil
		case err != nil:
			return fmt.Errorf("load dataset to append to: %w", err)
		}
	}

	// A bad season file must not cost the rows just fetched.
	d := mergeDataset(f.src.group, base, facts)
	seasonsErr := a.applySeasonsFile(d, f.seasonsFile)
	if seasonsErr != nil {
		a.log.Warn("saving dataset without the new seasons",
			zap.String("file", f.seasonsFile),
			zap.Error(seasonsErr),
		)
	}

	where, err := a.saveDataset(ctx, f.src, d)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "pulled %d pages, %d rows for %s (run %s)\n", res.Pages, len(facts), f.src.group, run.ID)
	fmt.Fprintf(stdout, "saved %d rows to %s\n", d.Len(), where)
	if res.NextCursor != "" {
		fmt.Fprintf(stdout, "stopped at the page limit; continue with -cursor %s\n", res.NextCursor)
	}
	var errs []error
	if pullErr != nil {
		errs = append(errs, fmt.Errorf("%w (partial dataset saved; rerun with -cursor %q)", pullErr, pullErr.Cursor))
	}
	if seasonsErr != nil {
		errs = append(errs, fmt.Errorf("%w (rows saved without these seasons)", seasonsErr))
	}
	return errors.Join(errs...)
}

// mergeDataset appends facts to base, keeping the seasons of base.
func mergeDataset(group string, base *report.Dataset, facts []attendance.Fact) *report.Dataset {
	if base == nil {
		return report.New(group, facts, nil)
	}
	all := append(base.Facts(), facts...)
	set, ok := base.Seasons()
	if !ok {
		return report.New(group, all, nil)
	}
	return report.New(group, all, &set)
}
