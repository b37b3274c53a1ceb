package http

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{
		"name":    "meetup participation API",
		"version": s.deps.Version,
		"group":   s.deps.Dataset.Group(),
		"endpoints": gin.H{
			"health":    "/health",
			"events":    "/api/v1/events?by_season=",
			"attendees": "/api/v1/attendees?by_season=",
			"seasons":   "/api/v1/seasons",
			"stats":     "/api/v1/stats?season=",
			"report":    "/api/v1/report?total=&season=",
		},
	}, nil)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, Response{
			Success:   false,
			Data:      status,
			Error:     &APIError{Code: CodeUnavailable, Message: status.Message},
			RequestID: c.GetString(ctxRequestID),
		})
		return
	}
	writeData(c, http.StatusOK, status, nil)
}

func (s *Server) handleLive(c *gin.Context) {
	writeData(c, http.StatusOK, gin.H{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// DATASET HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleEvents handles GET /api/v1/events?by_season=
func (s *Server) handleEvents(c *gin.Context) {
	bySeason, ok := boolParam(c, "by_season")
	if !ok {
		return
	}
	events := s.deps.Dataset.ListEvents(bySeason)
	writeData(c, http.StatusOK, events, s.meta(len(events)))
}

// handleAttendees handles GET /api/v1/attendees?by_season=
func (s *Server) handleAttendees(c *gin.Context) {
	bySeason, ok := boolParam(c, "by_season")
	if !ok {
		return
	}
	if bySeason {
		pivot := s.deps.Dataset.ListAttendeesBySeason()
		writeData(c, http.StatusOK, pivot, s.meta(len(pivot.Rows)))
		return
	}
	totals := s.deps.Dataset.ListAttendeesTotal()
	writeData(c, http.StatusOK, totals, s.meta(len(totals)))
}

type seasonView struct {
	Name    string `json:"name"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Labeled bool   `json:"labeled"`
}

// handleSeasons handles GET /api/v1/seasons
func (s *Server) handleSeasons(c *gin.Context) {
	set, ok := s.deps.Dataset.Seasons()
	if !ok {
		writeData(c, http.StatusOK, []seasonView{}, s.meta(0))
		return
	}

	labeled := make(map[string]bool)
	for _, name := range s.deps.Dataset.LabeledSeasons() {
		labeled[name] = true
	}
	views := make([]seasonView, 0, set.Len())
	for se := range set.All() {
		views = append(views, seasonView{
			Name:    se.Name,
			Start:   se.Start.Format(time.RFC3339),
			End:     se.End.Format(time.RFC3339),
			Labeled: labeled[se.Name],
		})
	}
	writeData(c, http.StatusOK, views, s.meta(len(views)))
}

// handleStats handles GET /api/v1/stats?season=
func (s *Server) handleStats(c *gin.Context) {
	name, hasSeason := c.GetQuery("season")
	if !hasSeason {
		writeData(c, http.StatusOK, s.deps.Dataset.Stats(nil), s.meta(0))
		return
	}
	if !s.knownSeason(c, name) {
		return
	}
	writeData(c, http.StatusOK, s.deps.Dataset.Stats(&name), s.meta(0))
}

// handleReport handles GET /api/v1/report?total=&season= and returns the
// plain-text report.
func (s *Server) handleReport(c *gin.Context) {
	total, ok := boolParam(c, "total")
	if !ok {
		return
	}
	seasons := c.QueryArray("season")
	for _, name := range seasons {
		if !s.knownSeason(c, name) {
			return
		}
	}

	var buf bytes.Buffer
	if err := s.deps.Dataset.PrintReport(&buf, total, seasons); err != nil {
		writeError(c, http.StatusInternalServerError, CodeInternal, "failed to render report")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) meta(count int) *ResponseMeta {
	return &ResponseMeta{Group: s.deps.Dataset.Group(), Count: count}
}

// knownSeason writes a 404 and returns false when name is not a season of
// the dataset.
func (s *Server) knownSeason(c *gin.Context, name string) bool {
	if set, ok := s.deps.Dataset.Seasons(); ok {
		if _, found := set.Find(name); found {
			return true
		}
	}
	writeError(c, http.StatusNotFound, CodeNotFound, "unknown season "+strconv.Quote(name))
	return false
}

// boolParam reads an optional boolean query parameter. It writes a 400 and
// returns ok=false when the value does not parse.
func boolParam(c *gin.Context, key string) (value, ok bool) {
	raw := c.Query(key)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeBadRequest, key+" must be a boolean")
		return false, false
	}
	return v, true
}
