package attendance

// ══════════════════════════════════════════════════════════════════════════════
// EXTRACTION
// ══════════════════════════════════════════════════════════════════════════════

// Extract flattens one event into attendee facts, processing tickets in
// input order:
//
//  1. every YES/ATTENDED ticket with a user yields one IDENTIFIED fact;
//  2. such a ticket with guestsCount > 0 yields exactly one GUEST fact,
//     whatever the count;
//  3. the event is then padded with UNIDENTIFIED facts up to its going count.
//
// A counted ticket without a user record has no name to report and is left
// to the padding step.
func Extract(ev EventRecord) []Fact {
	facts := make([]Fact, 0, max(ev.Going, len(ev.Tickets)))

	for _, ticket := range ev.Tickets {
		if !ticket.Status.Counts() || ticket.User == nil {
			continue
		}

		status := AttendStatus(ticket.Status)

		host := eventFact(ev)
		host.Name = ticket.User.Name
		host.City = clonePtr(ticket.User.City)
		host.State = clonePtr(ticket.User.State)
		userID := ticket.User.ID
		host.UserID = &userID
		host.AttendStatus = status
		host.Kind = KindIdentified
		facts = append(facts, host)

		if ticket.GuestsCount > 0 {
			guest := eventFact(ev)
			guest.Name = GuestName(ticket.User.Name)
			guest.AttendStatus = status
			guest.Kind = KindGuest
			facts = append(facts, guest)
		}
	}

	for range PaddingCount(ev.Going, len(facts)) {
		pad := eventFact(ev)
		pad.Name = MissingName
		pad.AttendStatus = AttendYes
		pad.Kind = KindUnidentified
		facts = append(facts, pad)
	}

	return facts
}

// PaddingCount is max(0, going - emitted).
func PaddingCount(going, emitted int) int {
	if going <= emitted {
		return 0
	}
	return going - emitted
}

// ExtractPage flattens every event of a page in order.
func ExtractPage(page Page) []Fact {
	var facts []Fact
	for _, ev := range page.Events {
		facts = append(facts, Extract(ev)...)
	}
	return facts
}
