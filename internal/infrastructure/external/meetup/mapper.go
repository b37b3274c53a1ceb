package meetup

import (
	"fmt"
	"time"

	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/shared"
	"github.com/nykp/meetup-participation/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - Anti-Corruption Layer
// ══════════════════════════════════════════════════════════════════════════════

// Mapper converts GraphQL DTOs into attendance records. Anything the rest of
// the system relies on is checked here so a malformed page fails fast.
type Mapper struct {
	// Location is used for timestamps without an offset.
	Location *time.Location
}

// NewMapper creates a Mapper that reads offset-less timestamps as UTC.
func NewMapper() *Mapper {
	return &Mapper{Location: time.UTC}
}

// PageFromDTO maps a decoded response body to a Page.
func (m *Mapper) PageFromDTO(data *PastEventsDataDTO) (attendance.Page, error) {
	const op = "PageFromDTO"

	if data == nil {
		return attendance.Page{}, shared.Malformed("meetup", op, "response has no data")
	}
	if data.Group == nil {
		return attendance.Page{}, shared.Malformed("meetup", op, "group not found")
	}
	conn := data.Group.PastEvents
	if conn == nil {
		return attendance.Page{}, shared.Malformed("meetup", op, "group %q has no pastEvents", data.Group.ID)
	}

	page := attendance.Page{Events: make([]attendance.EventRecord, 0, len(conn.Edges))}
	for i, edge := range conn.Edges {
		ev, err := m.EventFromDTO(edge)
		if err != nil {
			return attendance.Page{}, shared.WrapError("meetup", op, shared.ErrMalformedPage,
				fmt.Sprintf("edge %d", i), err)
		}
		page.Events = append(page.Events, ev)
	}

	if conn.PageInfo.HasNextPage {
		if conn.PageInfo.EndCursor == nil || *conn.PageInfo.EndCursor == "" {
			return attendance.Page{}, shared.Malformed("meetup", op, "hasNextPage without endCursor")
		}
		page.NextCursor = *conn.PageInfo.EndCursor
	}

	return page, nil
}

// EventFromDTO maps one event edge.
func (m *Mapper) EventFromDTO(edge EventEdgeDTO) (attendance.EventRecord, error) {
	const op = "EventFromDTO"

	node := edge.Node
	if node == nil {
		return attendance.EventRecord{}, shared.Malformed("meetup", op, "edge has no node")
	}
	if node.ID == "" {
		return attendance.EventRecord{}, shared.Malformed("meetup", op, "event has no id")
	}
	if node.Tickets == nil {
		return attendance.EventRecord{}, shared.Malformed("meetup", op, "event %s has no tickets", node.ID)
	}

	dt, err := timeutil.Parse(node.DateTime, m.Location)
	if err != nil {
		return attendance.EventRecord{}, shared.WrapError("meetup", op, shared.ErrMalformedPage,
			"event "+node.ID+" dateTime", err)
	}

	ev := attendance.EventRecord{
		ID:       node.ID,
		Title:    node.Title,
		DateTime: dt,
		Status:   node.Status,
		Going:    node.Going,
		Cursor:   edge.Cursor,
		Tickets:  make([]attendance.TicketRecord, 0, len(node.Tickets.Edges)),
	}

	for _, te := range node.Tickets.Edges {
		if te.Node == nil {
			return attendance.EventRecord{}, shared.Malformed("meetup", op, "event %s has a ticket edge without node", node.ID)
		}
		ev.Tickets = append(ev.Tickets, m.TicketFromDTO(*te.Node))
	}

	return ev, nil
}

// TicketFromDTO maps one ticket node.
func (m *Mapper) TicketFromDTO(t TicketNodeDTO) attendance.TicketRecord {
	rec := attendance.TicketRecord{
		Status:      attendance.RSVPStatus(t.Status),
		GuestsCount: t.GuestsCount,
	}
	if t.User != nil {
		rec.User = &attendance.UserRecord{
			ID:    t.User.ID,
			Name:  t.User.Name,
			City:  t.User.City,
			State: t.User.State,
		}
	}
	return rec
}
