// Package pull drives paginated retrieval of a group's past events and turns
// every page into attendee facts.
package pull

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/nykp/meetup-participation/internal/domain/attendance"
)

// DefaultProgressEvery is the page interval between progress reports.
const DefaultProgressEvery = 10

const tracerName = "github.com/nykp/meetup-participation/pull"

// Fetcher returns one page of events for group starting after cursor. An
// empty cursor requests the first page.
type Fetcher interface {
	FetchPage(ctx context.Context, group, cursor string) (attendance.Page, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, group, cursor string) (attendance.Page, error)

// FetchPage implements Fetcher.
func (f FetcherFunc) FetchPage(ctx context.Context, group, cursor string) (attendance.Page, error) {
	return f(ctx, group, cursor)
}

// Progress is reported to Options.OnProgress every ProgressEvery pages.
type Progress struct {
	Pages     int
	Rows      int
	LastEvent time.Time
	Cursor    string
}

// Options control a single FetchAll run.
type Options struct {
	// StartCursor resumes a previous pull; empty starts from the beginning.
	StartCursor string
	// PageLimit stops after this many pages; zero means no limit.
	PageLimit int
	// ProgressEvery defaults to DefaultProgressEvery when zero.
	ProgressEvery int
	OnProgress    func(Progress)
}

// Result is the outcome of FetchAll.
type Result struct {
	Facts []attendance.Fact
	Pages int
	// NextCursor is set when the page limit stopped the pull before the
	// last page. Pass it as StartCursor to continue.
	NextCursor string
}

// PullError reports a failed page fetch. Cursor is the cursor of the page
// that failed, so a rerun with StartCursor = Cursor loses nothing.
type PullError struct {
	Cursor string
	Pages  int
	Rows   int
	Err    error
}

// Error implements the error interface.
func (e *PullError) Error() string {
	return fmt.Sprintf("pull stopped after %d pages (%d rows) at cursor %q: %v", e.Pages, e.Rows, e.Cursor, e.Err)
}

// Unwrap returns the fetch error.
func (e *PullError) Unwrap() error {
	return e.Err
}

// Driver pages through a group's events one request at a time.
type Driver struct {
	fetcher Fetcher
	tracer  trace.Tracer
	pages   metric.Int64Counter
	rows    metric.Int64Counter
}

// NewDriver creates a Driver over fetcher.
func NewDriver(fetcher Fetcher) *Driver {
	meter := otel.Meter(tracerName)
	pages, err := meter.Int64Counter("meetup.pull.pages",
		metric.WithDescription("Pages fetched"), metric.WithUnit("{page}"))
	if err != nil {
		pages, _ = noop.NewMeterProvider().Meter(tracerName).Int64Counter("meetup.pull.pages")
	}
	rows, err := meter.Int64Counter("meetup.pull.rows",
		metric.WithDescription("Attendee facts extracted"), metric.WithUnit("{row}"))
	if err != nil {
		rows, _ = noop.NewMeterProvider().Meter(tracerName).Int64Counter("meetup.pull.rows")
	}

	return &Driver{
		fetcher: fetcher,
		tracer:  otel.Tracer(tracerName),
		pages:   pages,
		rows:    rows,
	}
}

// FetchAll fetches pages until the terminal page or the page limit and
// returns the extracted facts in page order. On a fetch failure the facts
// gathered so far are returned together with a *PullError.
func (d *Driver) FetchAll(ctx context.Context, group string, opts Options) (Result, error) {
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	ctx, span := d.tracer.Start(ctx, "pull.FetchAll", trace.WithAttributes(
		attribute.String("meetup.group", group),
		attribute.String("pull.start_cursor", opts.StartCursor),
		attribute.Int("pull.page_limit", opts.PageLimit),
	))
	defer span.End()

	var res Result
	cursor := opts.StartCursor

	for {
		if opts.PageLimit > 0 && res.Pages >= opts.PageLimit {
			res.NextCursor = cursor
			break
		}

		page, err := d.fetchPage(ctx, group, cursor, res.Pages+1)
		if err != nil {
			pullErr := &PullError{Cursor: cursor, Pages: res.Pages, Rows: len(res.Facts), Err: err}
			span.RecordError(pullErr)
			span.SetStatus(codes.Error, "page fetch failed")
			return res, pullErr
		}

		facts := attendance.ExtractPage(page)
		res.Facts = append(res.Facts, facts...)
		res.Pages++

		groupAttr := metric.WithAttributes(attribute.String("meetup.group", group))
		d.pages.Add(ctx, 1, groupAttr)
		d.rows.Add(ctx, int64(len(facts)), groupAttr)

		if opts.OnProgress != nil && res.Pages%every == 0 {
			opts.OnProgress(progressOf(res, page))
		}

		if !page.HasNext() {
			break
		}
		cursor = page.NextCursor
	}

	span.SetAttributes(
		attribute.Int("pull.pages", res.Pages),
		attribute.Int("pull.rows", len(res.Facts)),
	)
	return res, nil
}

func (d *Driver) fetchPage(ctx context.Context, group, cursor string, n int) (attendance.Page, error) {
	ctx, span := d.tracer.Start(ctx, "pull.FetchPage", trace.WithAttributes(
		attribute.Int("pull.page", n),
		attribute.String("pull.cursor", cursor),
	))
	defer span.End()

	page, err := d.fetcher.FetchPage(ctx, group, cursor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return attendance.Page{}, err
	}
	span.SetAttributes(attribute.Int("pull.events", len(page.Events)))
	return page, nil
}

// progressOf describes the pull after page. The last event and cursor come
// from the last row collected so far, falling back to the page itself when
// it produced no rows.
func progressOf(res Result, page attendance.Page) Progress {
	p := Progress{Pages: res.Pages, Rows: len(res.Facts)}
	if n := len(res.Facts); n > 0 {
		last := res.Facts[n-1]
		p.LastEvent = last.EventDateTime
		p.Cursor = last.Cursor
	} else if n := len(page.Events); n > 0 {
		p.LastEvent = page.Events[n-1].DateTime
		p.Cursor = page.Events[n-1].Cursor
	}
	return p
}
