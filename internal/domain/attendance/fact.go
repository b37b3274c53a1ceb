package attendance

import (
	"fmt"
	"time"
)

// Kind discriminates how a fact was derived.
type Kind string

const (
	// KindIdentified is a ticket holder with a user profile.
	KindIdentified Kind = "IDENTIFIED"
	// KindGuest is synthesized from a holder's guest count.
	KindGuest Kind = "GUEST"
	// KindUnidentified pads an event up to its going count.
	KindUnidentified Kind = "UNIDENTIFIED"
)

// AttendStatus is the status recorded on a fact.
type AttendStatus string

const (
	AttendYes      AttendStatus = "YES"
	AttendAttended AttendStatus = "ATTENDED"
)

// MissingName names padding rows.
const MissingName = "MISSING"

// GuestName labels the guest row derived from a host.
func GuestName(hostName string) string {
	return fmt.Sprintf("GUEST (%s)", hostName)
}

// Fact is one attendee at one event. Facts are built once and never
// mutated; the season label lives outside the fact.
type Fact struct {
	EventID       string    `json:"event_id"`
	EventTitle    string    `json:"event_title"`
	EventDateTime time.Time `json:"event_date_time"`
	EventStatus   string    `json:"event_status"`
	EventGoing    int       `json:"event_going"`
	Cursor        string    `json:"cursor"`

	Name         string       `json:"name"`
	City         *string      `json:"city,omitempty"`
	State        *string      `json:"state,omitempty"`
	UserID       *string      `json:"user_id,omitempty"`
	AttendStatus AttendStatus `json:"attend_status"`
	Kind         Kind         `json:"kind"`
}

// HasLocation reports whether both city and state are present.
func (f Fact) HasLocation() bool {
	return f.City != nil && f.State != nil
}

// Identity is the (name, city, state) triple used to group attendees.
type Identity struct {
	Name  string `json:"name"`
	City  string `json:"city"`
	State string `json:"state"`
}

// Identity returns the grouping triple. ok is false when city or state is null.
func (f Fact) Identity() (Identity, bool) {
	if !f.HasLocation() {
		return Identity{}, false
	}
	return Identity{Name: f.Name, City: *f.City, State: *f.State}, true
}

// eventFact copies the fields every row of an event shares.
func eventFact(ev EventRecord) Fact {
	return Fact{
		EventID:       ev.ID,
		EventTitle:    ev.Title,
		EventDateTime: ev.DateTime,
		EventStatus:   ev.Status,
		EventGoing:    ev.Going,
		Cursor:        ev.Cursor,
	}
}

// clonePtr keeps facts from aliasing the source record.
func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
