// Command meetupstats pulls a Meetup group's past events, keeps the attendee
// rows as a dataset and reports participation per season.
//
// Usage:
//
//	meetupstats pull     -group <urlname> [-cursor c] [-pages n] [-seasons file] [-out path] [-store file|postgres]
//	meetupstats report   [-in path | -group g -store postgres] [-total] [-season name ...] [-seasons file]
//	meetupstats serve    [-in path | -group g -store postgres] [-addr :8080]
//	meetupstats runs     -group <urlname> [-limit n]
//	meetupstats datasets [-delete group]
//	meetupstats migrate  [up|down|status]
//
// Settings not given as flags come from the environment (see package config).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nykp/meetup-participation/internal/domain/shared"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errUsage is returned after usage has been printed.
var errUsage = errors.New("invalid usage")

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "meetupstats: %v\n", err)
		}
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for input the user has to fix and 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, errUsage) || shared.IsValidation(err) {
		return 2
	}
	return 1
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "pull":
		return runPull(ctx, rest, stdout, stderr)
	case "report":
		return runReport(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stderr)
	case "runs":
		return runRuns(ctx, rest, stdout, stderr)
	case "datasets":
		return runDatasets(ctx, rest, stdout, stderr)
	case "migrate":
		return runMigrate(ctx, rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return nil
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		usage(stderr)
		return errUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: meetupstats <command> [flags]

commands:
  pull      fetch a group's past events and save the attendee dataset
  report    print participation statistics for a saved dataset
  serve     serve a saved dataset over a read-only JSON API
  runs      list recent pulls recorded in PostgreSQL
  datasets  list datasets stored in PostgreSQL
  migrate   manage the PostgreSQL schema
  version   print the build version

Run "meetupstats <command> -h" for the flags of a command.
`)
}
