package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nykp/meetup-participation/config"
	"github.com/nykp/meetup-participation/internal/application/pull"
	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/season"
	"github.com/nykp/meetup-participation/internal/domain/shared"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/file"
	"github.com/nykp/meetup-participation/internal/infrastructure/persistence/postgres"
)

func strPtr(s string) *string { return &s }

func facts(id string, at time.Time, names ...string) []attendance.Fact {
	ev := attendance.EventRecord{ID: id, Title: "Pool", DateTime: at, Going: len(names)}
	for _, n := range names {
		ev.Tickets = append(ev.Tickets, attendance.TicketRecord{
			Status: attendance.RSVPYes,
			User:   &attendance.UserRecord{ID: "u-" + n, Name: n, City: strPtr("Brooklyn"), State: strPtr("NY")},
		})
	}
	return attendance.Extract(ev)
}

func winter() season.Set {
	return season.MustNewSet([]season.Season{
		season.New("winter", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)),
	}, false)
}

func TestRun_Dispatch(t *testing.T) {
	var out, errOut bytes.Buffer

	err := run(context.Background(), nil, &out, &errOut)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, errOut.String(), "usage: meetupstats")

	errOut.Reset()
	err = run(context.Background(), []string{"frobnicate"}, &out, &errOut)
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, errOut.String(), `unknown command "frobnicate"`)

	require.NoError(t, run(context.Background(), []string{"version"}, &out, &errOut))
	assert.Equal(t, version+"\n", out.String())

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"help"}, &out, &errOut))
	assert.Contains(t, out.String(), "commands:")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(errUsage))
	assert.Equal(t, 2, exitCode(shared.NewDomainError("season", "NewSet", shared.ErrSeasonOverlap, "winter overlaps spring")))
	assert.Equal(t, 1, exitCode(shared.NewDomainError("file", "Load", shared.ErrNotFound, "swim.cbor")))
}

func TestParsePullFlags(t *testing.T) {
	f, err := parsePullFlags([]string{"-group", "swim", "-pages", "3", "-store", "postgres", "-seasons", "s.yaml"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "swim", f.src.group)
	assert.Equal(t, 3, f.pages)
	assert.Equal(t, storePostgres, f.src.store)
	assert.Equal(t, "s.yaml", f.seasonsFile)

	f, err = parsePullFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, storeFile, f.src.store)

	tests := []struct {
		name string
		args []string
	}{
		{"negative pages", []string{"-pages", "-1"}},
		{"resume with cursor", []string{"-resume", "-cursor", "abc"}},
		{"unknown flag", []string{"-nope"}},
		{"positional", []string{"swim"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePullFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseReportFlags(t *testing.T) {
	f, err := parseReportFlags([]string{"-in", "d.cbor", "-season", "winter", "-season", "spring", "-total"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "d.cbor", f.src.path)
	assert.Equal(t, []string{"winter", "spring"}, []string(f.seasons))
	assert.True(t, f.total)

	_, err = parseReportFlags(nil, io.Discard)
	assert.EqualError(t, err, "-in or -group is required")

	_, err = parseReportFlags([]string{"-in", "d.cbor", "-store", "postgres"}, io.Discard)
	assert.EqualError(t, err, "-group is required with -store postgres")

	_, err = parseReportFlags([]string{"-group", "g", "-store", "s3"}, io.Discard)
	assert.Error(t, err)
}

func TestParseServeFlags(t *testing.T) {
	f, err := parseServeFlags([]string{"-group", "swim", "-store", "postgres", "-addr", ":9000"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, ":9000", f.addr)
	assert.Equal(t, "swim", f.src.group)
}

func TestSource_FilePath(t *testing.T) {
	assert.Equal(t, "x/y.cbor", source{path: "x/y.cbor", group: "g"}.filePath("data"))
	assert.Equal(t, filepath.Join("data", "swim.cbor"), source{group: "swim"}.filePath("data"))
}

func TestMergeDataset(t *testing.T) {
	jan := time.Date(2023, 1, 10, 19, 0, 0, 0, time.UTC)
	oct := time.Date(2023, 10, 10, 19, 0, 0, 0, time.UTC)

	fresh := mergeDataset("g", nil, facts("e1", jan, "Ann"))
	assert.Equal(t, 1, fresh.Len())
	_, ok := fresh.Seasons()
	assert.False(t, ok)

	set := winter()
	base := report.New("g", facts("e1", jan, "Ann", "Bob"), &set)
	merged := mergeDataset("g", base, facts("e2", oct, "Cid"))
	assert.Equal(t, 3, merged.Len())
	got, ok := merged.Seasons()
	require.True(t, ok)
	assert.Equal(t, []string{"winter"}, got.Names())
	assert.Equal(t, []string{"winter"}, merged.LabeledSeasons())
}

func TestApplySeasonsFile_ContinuationKeepsRows(t *testing.T) {
	dir := t.TempDir()
	seasonsPath := filepath.Join(dir, "seasons.yaml")
	require.NoError(t, os.WriteFile(seasonsPath, []byte(
		"seasons:\n  - name: winter\n    start: 2023-01-01\n    end: 2023-03-01\n"), 0o644))
	a := &app{cfg: &config.Config{App: config.AppConfig{Timezone: "UTC"}}, log: zap.NewNop()}

	jan := time.Date(2023, 1, 10, 19, 0, 0, 0, time.UTC)
	feb := time.Date(2023, 2, 14, 19, 0, 0, 0, time.UTC)

	first := mergeDataset("swim", nil, facts("e1", jan, "Ann", "Bob"))
	require.NoError(t, a.applySeasonsFile(first, seasonsPath))

	store, err := file.NewStore()
	require.NoError(t, err)
	dataPath := filepath.Join(dir, "swim.cbor")
	require.NoError(t, store.Save(dataPath, first))
	saved, err := store.Load(dataPath)
	require.NoError(t, err)

	// same -seasons file on the follow-up pull
	next := mergeDataset("swim", saved, facts("e2", feb, "Cid"))
	require.NoError(t, a.applySeasonsFile(next, seasonsPath))

	assert.Equal(t, 3, next.Len())
	got, ok := next.Seasons()
	require.True(t, ok)
	assert.Equal(t, []string{"winter"}, got.Names())
	assert.Equal(t, []string{"winter", "winter", "winter"}, next.Labels())
}

func TestApplySeasonsFile_DateOnlyEndCoversWholeDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seasons.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"seasons:\n  - name: winter\n    start: 2023-01-01\n    end: 2023-03-01\n"), 0o644))
	a := &app{cfg: &config.Config{App: config.AppConfig{Timezone: "America/New_York"}}, log: zap.NewNop()}
	ny := a.cfg.Location()

	var rows []attendance.Fact
	rows = append(rows, facts("last-night", time.Date(2023, 3, 1, 19, 0, 0, 0, ny), "Ann")...)
	rows = append(rows, facts("next-day", time.Date(2023, 3, 2, 0, 0, 0, 0, ny), "Bob")...)
	d := report.New("swim", rows, nil)

	require.NoError(t, a.applySeasonsFile(d, path))
	assert.Equal(t, []string{"winter", ""}, d.Labels())
}

func TestApplySeasonsFile_ErrorLeavesDataset(t *testing.T) {
	dir := t.TempDir()
	clash := filepath.Join(dir, "clash.yaml")
	require.NoError(t, os.WriteFile(clash, []byte(
		"allow_overlap: true\nseasons:\n  - name: late-winter\n    start: 2023-02-01\n    end: 2023-02-28\n"), 0o644))
	a := &app{cfg: &config.Config{App: config.AppConfig{Timezone: "UTC"}}, log: zap.NewNop()}

	set := winter()
	base := report.New("swim", facts("e1", time.Date(2023, 1, 10, 19, 0, 0, 0, time.UTC), "Ann"), &set)
	d := mergeDataset("swim", base, facts("e2", time.Date(2023, 2, 14, 19, 0, 0, 0, time.UTC), "Cid"))

	err := a.applySeasonsFile(d, clash)
	assert.ErrorIs(t, err, shared.ErrSeasonOverlap)
	assert.Equal(t, 2, d.Len())
	got, _ := d.Seasons()
	assert.Equal(t, []string{"winter"}, got.Names())
}

func TestCheckSeasons(t *testing.T) {
	set := winter()
	d := report.New("g", nil, &set)

	assert.NoError(t, checkSeasons(d, []string{"winter"}))
	err := checkSeasons(d, []string{"winter", "summer"})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.Error(t, checkSeasons(report.New("g", nil, nil), []string{"winter"}))
	assert.NoError(t, checkSeasons(report.New("g", nil, nil), nil))
}

func TestWriteRuns(t *testing.T) {
	var buf bytes.Buffer
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	require.NoError(t, writeRuns(&buf, []pull.Run{{
		ID:           id,
		Status:       pull.RunFailed,
		StartedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Pages:        3,
		Rows:         120,
		ResumeCursor: "c3",
		Error:        "boom",
	}}))

	out := buf.String()
	assert.Contains(t, out, "RESUME CURSOR")
	assert.Contains(t, out, id.String())
	assert.Contains(t, out, "2024-05-01 12:00:00")
	assert.Contains(t, out, "c3")
}

func TestWriteDatasets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDatasets(&buf, []postgres.DatasetInfo{{Group: "swim", Facts: 42, HasSeasons: true}}))
	assert.Contains(t, buf.String(), "swim")
	assert.Contains(t, buf.String(), "42")
}

func TestWriteMigrations(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, writeMigrations(&buf, []postgres.Migration{
		{Version: 1, Name: "create_datasets", IsApplied: true, AppliedAt: at},
		{Version: 2, Name: "create_pull_runs"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2024-05-01 12:00:00")
	assert.Contains(t, lines[2], "pending")
}

func TestRunMigrate_BadDirection(t *testing.T) {
	err := run(context.Background(), []string{"migrate", "sideways"}, io.Discard, io.Discard)
	assert.ErrorContains(t, err, `unknown migrate direction "sideways"`)

	err = run(context.Background(), []string{"migrate", "up", "down"}, io.Discard, io.Discard)
	assert.Error(t, err)
}

func TestRunReport_FromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_DATA_DIR", dir)
	t.Setenv("OBSERVABILITY_LOG_LEVEL", "error")

	set := winter()
	d := report.New("swim", facts("e1", time.Date(2023, 1, 10, 19, 0, 0, 0, time.UTC), "Ann", "Bob"), &set)
	store, err := file.NewStore()
	require.NoError(t, err)
	require.NoError(t, store.Save(filepath.Join(dir, "swim.cbor"), d))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"report", "-group", "swim"}, &out, io.Discard))
	assert.Equal(t, "WINTER\n"+
		"sessions: 1\n"+
		"cumulative session participation: 2\n"+
		"unique participants: 2\n"+
		"median attendance: 2\n"+
		"session titles:\n"+
		"  Pool: 1\n", out.String())

	err = run(context.Background(), []string{"report", "-group", "swim", "-season", "summer"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = run(context.Background(), []string{"report", "-group", "missing"}, io.Discard, io.Discard)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
