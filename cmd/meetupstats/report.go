package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
)

// stringList collects a repeated string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type reportFlags struct {
	src         source
	total       bool
	seasons     stringList
	seasonsFile string
}

func parseReportFlags(args []string, stderr io.Writer) (reportFlags, error) {
	var f reportFlags
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.src.path, "in", "", "dataset file to read")
	fs.StringVar(&f.src.group, "group", "", "group whose dataset to read")
	fs.StringVar(&f.src.store, "store", storeFile, "where the dataset is saved: file or postgres")
	fs.BoolVar(&f.total, "total", false, "print one block over all events")
	fs.Var(&f.seasons, "season", "season to report (repeatable; default every labeled season)")
	fs.StringVar(&f.seasonsFile, "seasons", "", "YAML file of seasons to add before reporting")
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

func runReport(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseReportFlags(args, stderr)
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
	if !f.total {
		if err := checkSeasons(d, f.seasons); err != nil {
			return err
		}
	}
	return d.PrintReport(stdout, f.total, f.seasons)
}
