// Package attendance contains the attendance domain: the event/ticket/user
// records a page fetch returns and the flat per-attendee facts derived from
// them.
package attendance

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// RSVPStatus is a ticket holder's response to an event.
type RSVPStatus string

const (
	RSVPYes      RSVPStatus = "YES"
	RSVPNo       RSVPStatus = "NO"
	RSVPWaitlist RSVPStatus = "WAITLIST"
	RSVPAttended RSVPStatus = "ATTENDED"
	RSVPNoShow   RSVPStatus = "NO_SHOW"
)

// Counts reports whether the status marks the holder as a participant.
func (s RSVPStatus) Counts() bool {
	return s == RSVPYes || s == RSVPAttended
}

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// UserRecord is the profile attached to a ticket.
type UserRecord struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	City  *string `json:"city,omitempty"`
	State *string `json:"state,omitempty"`
}

// TicketRecord is one RSVP for an event. User is nil when the API did not
// return a profile.
type TicketRecord struct {
	Status      RSVPStatus  `json:"status"`
	GuestsCount int         `json:"guests_count"`
	User        *UserRecord `json:"user,omitempty"`
}

// EventRecord is one past event with its tickets. Cursor is the event's
// position in the paginated stream.
type EventRecord struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	DateTime time.Time      `json:"date_time"`
	Status   string         `json:"status"`
	Going    int            `json:"going"`
	Cursor   string         `json:"cursor"`
	Tickets  []TicketRecord `json:"tickets"`
}

// Page is one fetched page of events. NextCursor is empty on the terminal page.
type Page struct {
	Events     []EventRecord `json:"events"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// HasNext reports whether more pages remain.
func (p Page) HasNext() bool {
	return p.NextCursor != ""
}
