package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func user(id, name string) *UserRecord {
	return &UserRecord{ID: id, Name: name, City: strPtr("New York"), State: strPtr("NY")}
}

func event(going int, tickets ...TicketRecord) EventRecord {
	return EventRecord{
		ID:       "evt-1",
		Title:    "Kayak Pool Session",
		DateTime: time.Date(2023, 2, 5, 19, 0, 0, 0, time.UTC),
		Status:   "PAST",
		Going:    going,
		Cursor:   "cursor-1",
		Tickets:  tickets,
	}
}

func countKinds(facts []Fact) map[Kind]int {
	counts := make(map[Kind]int)
	for _, f := range facts {
		counts[f.Kind]++
	}
	return counts
}

func TestExtract_DeclinedTicketWithGuestsContributesNothing(t *testing.T) {
	facts := Extract(event(0, TicketRecord{Status: RSVPNo, GuestsCount: 3, User: user("1", "Ann")}))
	assert.Empty(t, facts)
}

func TestExtract_GuestCountYieldsExactlyOneGuestRow(t *testing.T) {
	facts := Extract(event(0, TicketRecord{Status: RSVPYes, GuestsCount: 2, User: user("1", "Ann")}))

	require.Len(t, facts, 2)
	assert.Equal(t, KindIdentified, facts[0].Kind)
	assert.Equal(t, "Ann", facts[0].Name)
	require.NotNil(t, facts[0].UserID)
	assert.Equal(t, "1", *facts[0].UserID)

	guest := facts[1]
	assert.Equal(t, KindGuest, guest.Kind)
	assert.Equal(t, "GUEST (Ann)", guest.Name)
	assert.Equal(t, AttendYes, guest.AttendStatus)
	assert.Nil(t, guest.City)
	assert.Nil(t, guest.State)
	assert.Nil(t, guest.UserID)
}

func TestExtract_GuestMirrorsHostStatus(t *testing.T) {
	facts := Extract(event(0, TicketRecord{Status: RSVPAttended, GuestsCount: 1, User: user("1", "Ann")}))

	require.Len(t, facts, 2)
	assert.Equal(t, AttendAttended, facts[0].AttendStatus)
	assert.Equal(t, AttendAttended, facts[1].AttendStatus)
}

func TestExtract_PadsUpToGoingCount(t *testing.T) {
	facts := Extract(event(5, TicketRecord{Status: RSVPYes, User: user("1", "Ann")}))

	require.Len(t, facts, 5)
	kinds := countKinds(facts)
	assert.Equal(t, 1, kinds[KindIdentified])
	assert.Equal(t, 4, kinds[KindUnidentified])

	for _, f := range facts[1:] {
		assert.Equal(t, MissingName, f.Name)
		assert.Equal(t, AttendYes, f.AttendStatus)
		assert.Equal(t, "evt-1", f.EventID)
		assert.Equal(t, "cursor-1", f.Cursor)
	}
}

func TestExtract_NoPaddingWhenRowsExceedGoing(t *testing.T) {
	facts := Extract(event(1,
		TicketRecord{Status: RSVPYes, GuestsCount: 1, User: user("1", "Ann")},
		TicketRecord{Status: RSVPAttended, User: user("2", "Bob")},
	))

	assert.Len(t, facts, 3)
	assert.Zero(t, countKinds(facts)[KindUnidentified])
}

func TestExtract_EmptyEvent(t *testing.T) {
	assert.Empty(t, Extract(event(0)))
	assert.Empty(t, Extract(event(0, TicketRecord{Status: RSVPWaitlist, User: user("1", "Ann")})))
}

func TestExtract_TicketWithoutUserIsPadded(t *testing.T) {
	facts := Extract(event(2,
		TicketRecord{Status: RSVPYes, GuestsCount: 1},
		TicketRecord{Status: RSVPYes, User: user("2", "Bob")},
	))

	require.Len(t, facts, 2)
	assert.Equal(t, "Bob", facts[0].Name)
	assert.Equal(t, KindUnidentified, facts[1].Kind)
}

func TestExtract_PreservesTicketOrder(t *testing.T) {
	facts := Extract(event(0,
		TicketRecord{Status: RSVPYes, User: user("2", "Bob")},
		TicketRecord{Status: RSVPNo, User: user("3", "Cy")},
		TicketRecord{Status: RSVPAttended, GuestsCount: 4, User: user("1", "Ann")},
	))

	names := make([]string, len(facts))
	for i, f := range facts {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"Bob", "Ann", "GUEST (Ann)"}, names)
}

func TestExtract_DoesNotAliasSourceRecord(t *testing.T) {
	u := user("1", "Ann")
	facts := Extract(event(0, TicketRecord{Status: RSVPYes, User: u}))

	*u.City = "Boston"
	u.ID = "99"

	require.Len(t, facts, 1)
	assert.Equal(t, "New York", *facts[0].City)
	assert.Equal(t, "1", *facts[0].UserID)
}

func TestExtract_RowsNeverBelowIdentifiedPlusGuests(t *testing.T) {
	for going := 0; going <= 6; going++ {
		ev := event(going,
			TicketRecord{Status: RSVPYes, GuestsCount: 3, User: user("1", "Ann")},
			TicketRecord{Status: RSVPAttended, User: user("2", "Bob")},
		)
		facts := Extract(ev)
		kinds := countKinds(facts)

		assert.Equal(t, 3, kinds[KindIdentified]+kinds[KindGuest])
		assert.Equal(t, PaddingCount(going, 3), kinds[KindUnidentified])
		assert.Equal(t, max(going, 3), len(facts))
	}
}

func TestExtractPage_ConcatenatesEvents(t *testing.T) {
	first := event(1, TicketRecord{Status: RSVPYes, User: user("1", "Ann")})
	second := event(2)
	second.ID = "evt-2"

	facts := ExtractPage(Page{Events: []EventRecord{first, second}})

	require.Len(t, facts, 3)
	assert.Equal(t, "evt-1", facts[0].EventID)
	assert.Equal(t, "evt-2", facts[2].EventID)
}

func TestPaddingCount(t *testing.T) {
	assert.Equal(t, 4, PaddingCount(5, 1))
	assert.Equal(t, 0, PaddingCount(1, 5))
	assert.Equal(t, 0, PaddingCount(3, 3))
	assert.Equal(t, 0, PaddingCount(-2, 0))
}

func TestFact_Identity(t *testing.T) {
	facts := Extract(event(2, TicketRecord{Status: RSVPYes, GuestsCount: 1, User: user("1", "Ann")}))
	require.Len(t, facts, 2)

	id, ok := facts[0].Identity()
	assert.True(t, ok)
	assert.Equal(t, Identity{Name: "Ann", City: "New York", State: "NY"}, id)

	_, ok = facts[1].Identity()
	assert.False(t, ok)
}
