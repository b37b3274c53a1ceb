package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/postgres"
)

func runRuns(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	group := fs.String("group", "", "group urlname (default $MEETUP_GROUP)")
	limit := fs.Int("limit", 10, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *limit < 1 {
		return errors.New("-limit must be positive")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if *group == "" {
		*group = a.cfg.Meetup.Group
	}
	if *group == "" {
		return errors.New("-group or MEETUP_GROUP is required")
	}

	db, err := a.database(ctx)
	if err != nil {
		return err
	}
	runs, err := postgres.NewRunRepository(db).Recent(ctx, *group, *limit)
	if err != nil {
		return err
	}
	return writeRuns(stdout, runs)
}

func writeRuns(w io.Writer, runs []pull.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tPAGES\tROWS\tRESUME CURSOR\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.StartedAt.Format(time.DateTime), r.Pages, r.Rows, r.ResumeCursor, r.Error)
	}
	return tw.Flush()
}

func runDatasets(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("datasets", flag.ContinueOnError)
	fs.SetOutput(stderr)
	drop := fs.String("delete", "", "remove the stored dataset of this group instead of listing")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	db, err := a.database(ctx)
	if err != nil {
		return err
	}
	repo := postgres.NewDatasetRepository(db)
	if *drop != "" {
		if err := repo.Delete(ctx, *drop); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "deleted dataset %s\n", *drop)
		return nil
	}
	infos, err := repo.List(ctx)
	if err != nil {
		return err
	}
	return writeDatasets(stdout, infos)
}

func writeDatasets(w io.Writer, infos []postgres.DatasetInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tROWS\tSEASONS\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", info.Group, info.Facts, info.HasSeasons, info.UpdatedAt.Format(time.DateTime))
	}
	return tw.Flush()
}

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	direction := "up"
	switch fs.NArg() {
	case 0:
	case 1:
		direction = fs.Arg(0)
	default:
		return errors.New("migrate takes one of up, down, status")
	}
	if direction != "up" && direction != "down" && direction != "status" {
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	db, err := a.connect(ctx, false)
	if err != nil {
		return err
	}
	m := postgres.NewMigrator(db)

	switch direction {
	case "down":
		reverted, err := m.Rollback(ctx)
		if err != nil {
			return err
		}
		if !reverted {
			fmt.Fprintln(stdout, "nothing to revert")
		}
		return nil
	case "status":
		steps, err := m.Status(ctx)
		if err != nil {
			return err
		}
		return writeMigrations(stdout, steps)
	}
	n, err := m.Migrate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d migration(s) applied\n", n)
	return nil
}

func writeMigrations(w io.Writer, steps []postgres.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range steps {
		applied := "pending"
		if s.IsApplied {
			applied = s.AppliedAt.Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, s.Name, applied)
	}
	return tw.Flush()
}
