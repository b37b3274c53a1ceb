package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/season"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strPtr(s string) *string { return &s }

func at(m time.Month, d int) time.Time {
	return time.Date(2023, m, d, 19, 0, 0, 0, time.UTC)
}

func member(name string) attendance.TicketRecord {
	return attendance.TicketRecord{
		Status: attendance.RSVPYes,
		User:   &attendance.UserRecord{ID: "u-" + name, Name: name, City: strPtr("Brooklyn"), State: strPtr("NY")},
	}
}

func testDataset(t *testing.T) *report.Dataset {
	t.Helper()
	var facts []attendance.Fact
	for _, e := range []attendance.EventRecord{
		{ID: "e1", Title: "Pool", DateTime: at(time.January, 10), Going: 2, Tickets: []attendance.TicketRecord{member("Ann"), member("Bob")}},
		{ID: "e2", Title: "Pool", DateTime: at(time.February, 14), Going: 1, Tickets: []attendance.TicketRecord{member("Ann")}},
		{ID: "e3", Title: "River", DateTime: at(time.April, 2), Going: 1, Tickets: []attendance.TicketRecord{member("Cid")}},
		{ID: "e4", Title: "Pool", DateTime: at(time.October, 1), Going: 1, Tickets: []attendance.TicketRecord{member("Bob")}},
	} {
		facts = append(facts, attendance.Extract(e)...)
	}
	set := season.MustNewSet([]season.Season{
		season.New("winter", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)),
		season.New("spring", time.Date(2023, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)),
		season.New("summer", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC)),
	}, false)
	return report.New("swimclub", facts, &set)
}

func newTestServer(t *testing.T, health *HealthChecker) *Server {
	t.Helper()
	s, err := NewServer(DefaultConfig(), Dependencies{Dataset: testDataset(t), Health: health, Version: "test"})
	require.NoError(t, err)
	return s
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func get(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestNewServer_RequiresDataset(t *testing.T) {
	_, err := NewServer(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := get(t, s, "/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
	assert.Equal(t, w.Header().Get(headerRequestID), env.RequestID)

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(headerRequestID))
	assert.Empty(t, w.Header().Get(headerTraceID), "no trace id without a tracer provider")
}

func TestTraceIDHeader(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	w, _ := get(t, newTestServer(t, nil), "/live")
	assert.Len(t, w.Header().Get(headerTraceID), 32)
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := get(t, s, "/api/v1/events")
	require.Equal(t, http.StatusOK, w.Code)
	var events []report.Event
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 4)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, 2, events[0].Attendees)
	assert.Equal(t, "swimclub", env.Meta.Group)
	assert.Equal(t, 4, env.Meta.Count)

	_, env = get(t, s, "/api/v1/events?by_season=true")
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 3)
	for _, e := range events {
		assert.NotEmpty(t, e.Season)
	}
}

func TestEvents_BadBool(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := get(t, s, "/api/v1/events?by_season=maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeBadRequest, env.Error.Code)
}

func TestAttendees(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := get(t, s, "/api/v1/attendees")
	var totals []report.AttendeeTotal
	require.NoError(t, json.Unmarshal(env.Data, &totals))
	require.Len(t, totals, 3)
	assert.Equal(t, "Ann", totals[0].Name)
	assert.Equal(t, 2, totals[0].Events)

	_, env = get(t, s, "/api/v1/attendees?by_season=1")
	var pivot report.SeasonPivot
	require.NoError(t, json.Unmarshal(env.Data, &pivot))
	assert.Equal(t, []string{"winter", "spring"}, pivot.Seasons)
	assert.NotEmpty(t, pivot.Rows)
}

func TestSeasons(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := get(t, s, "/api/v1/seasons")
	var views []seasonView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 3)
	assert.Equal(t, "winter", views[0].Name)
	assert.True(t, views[0].Labeled)
	assert.True(t, views[1].Labeled)
	assert.Equal(t, "summer", views[2].Name)
	assert.False(t, views[2].Labeled)
	assert.Equal(t, "2023-07-01T00:00:00Z", views[2].Start)
}

func TestSeasons_NoSeasonSet(t *testing.T) {
	d := report.New("g", nil, nil)
	s, err := NewServer(DefaultConfig(), Dependencies{Dataset: d})
	require.NoError(t, err)

	w, env := get(t, s, "/api/v1/seasons")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)

	_, env := get(t, s, "/api/v1/stats")
	var stats report.Stats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 4, stats.Sessions)
	assert.Equal(t, 5, stats.CumulativeGoing)
	assert.Equal(t, 3, stats.UniqueParticipants)

	_, env = get(t, s, "/api/v1/stats?season=winter")
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, "winter", stats.Season)
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.CumulativeGoing)
	assert.Equal(t, 1.5, stats.MedianGoing)
	assert.Equal(t, []report.TitleCount{{Title: "Pool", Count: 2}}, stats.SessionTitles)
}

func TestStats_UnknownSeason(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := get(t, s, "/api/v1/stats?season=autumn")
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestReport(t *testing.T) {
	s := newTestServer(t, nil)

	w, _ := get(t, s, "/api/v1/report?season=spring")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "SPRING\n"+
		"sessions: 1\n"+
		"cumulative session participation: 1\n"+
		"unique participants: 1\n"+
		"median attendance: 1\n"+
		"session titles:\n"+
		"  River: 1\n", w.Body.String())

	w, _ = get(t, s, "/api/v1/report?total=true")
	assert.Contains(t, w.Body.String(), "sessions: 4\n")
	assert.NotContains(t, w.Body.String(), "WINTER")

	w, _ = get(t, s, "/api/v1/report?season=winter&season=nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := get(t, s, "/api/v2/events")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestHealthEndpoint(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.AddCheck("postgres", func(context.Context) error { return nil })
	s := newTestServer(t, hc)

	w, env := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)

	hc.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w, env = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeUnavailable, env.Error.Code)
	assert.Contains(t, env.Error.Message, "redis")
}

func TestRecovery(t *testing.T) {
	s := newTestServer(t, nil)
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	w, env := get(t, s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeInternal, env.Error.Code)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s, err := NewServer(cfg, Dependencies{Dataset: testDataset(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.IsRunning, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, s.IsRunning())
}
