// Package report aggregates attendee facts into per-event, per-attendee and
// per-season participation tables and prints the season report.
package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/season"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATASET
// ══════════════════════════════════════════════════════════════════════════════

// Dataset is a group's attendee facts plus the seasons they are bucketed
// into. The season label of each fact is kept alongside the facts and is
// recomputed whenever seasons are applied. A Dataset is not safe for
// concurrent mutation.
type Dataset struct {
	group      string
	facts      []attendance.Fact
	seasons    season.Set
	hasSeasons bool
	labels     []string // parallel to facts; "" means unlabeled
}

// New creates a Dataset over a copy of facts and applies seasons when given.
func New(group string, facts []attendance.Fact, seasons *season.Set) *Dataset {
	d := &Dataset{
		group:  group,
		facts:  slices.Clone(facts),
		labels: make([]string, len(facts)),
	}
	if seasons != nil {
		// the first set is adopted as-is and cannot fail
		_ = d.AddSeasons(*seasons)
	}
	return d
}

// Group returns the group identifier.
func (d *Dataset) Group() string { return d.group }

// Len returns the number of facts.
func (d *Dataset) Len() int { return len(d.facts) }

// Facts returns a copy of the facts in accumulation order.
func (d *Dataset) Facts() []attendance.Fact { return slices.Clone(d.facts) }

// Labels returns a copy of the season label column.
func (d *Dataset) Labels() []string { return slices.Clone(d.labels) }

// Seasons returns the dataset's season set and whether one was ever added.
func (d *Dataset) Seasons() (season.Set, bool) { return d.seasons, d.hasSeasons }

// AddSeasons merges set into the dataset's seasons and labels the facts
// covered by the added seasons. Seasons the dataset already holds with the
// same name and bounds are not added again, so re-applying a season file is
// a no-op apart from relabeling. The merge fails with kind ErrSeasonOverlap
// when it would introduce an overlap either set forbids; nothing changes in
// that case.
func (d *Dataset) AddSeasons(set season.Set) error {
	if d.hasSeasons {
		var fresh []season.Season
		for s := range set.All() {
			if !d.seasons.Has(s) {
				fresh = append(fresh, s)
			}
		}
		if len(fresh) > 0 {
			// a subset of a valid set is valid
			added := season.MustNewSet(fresh, set.AllowOverlap())
			combined, err := d.seasons.Combine(added)
			if err != nil {
				return err
			}
			d.seasons = combined
		}
	} else {
		d.seasons = set
		d.hasSeasons = true
	}

	d.AssignSeasons(set)
	return nil
}

// AssignSeasons labels every fact whose event falls in a season of set.
// Seasons are applied in order so a later season wins on overlap. Facts
// outside every season keep their current label.
func (d *Dataset) AssignSeasons(set season.Set) {
	for s := range set.All() {
		for i, f := range d.facts {
			if s.Contains(f.EventDateTime) {
				d.labels[i] = s.Name
			}
		}
	}
}

// LabeledSeasons returns the season names present in the label column in
// order of first appearance.
func (d *Dataset) LabeledSeasons() []string {
	var names []string
	seen := make(map[string]bool)
	for _, l := range d.labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		names = append(names, l)
	}
	return names
}

func (d *Dataset) hasLabels() bool {
	return slices.ContainsFunc(d.labels, func(l string) bool { return l != "" })
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// Event is one distinct event as seen through its attendee rows.
type Event struct {
	ID        string    `json:"event_id"`
	Title     string    `json:"title"`
	DateTime  time.Time `json:"date_time"`
	Going     int       `json:"going"`
	Season    string    `json:"season,omitempty"`
	Attendees int       `json:"attendees"`
}

type eventKey struct {
	id       string
	title    string
	dateTime int64
	going    int
	season   string
}

// ListEvents groups facts into events ordered by date then id. With
// bySeason only labeled events are returned, unless the dataset has never
// been labeled, in which case every event is. An event without any fact
// never appears.
func (d *Dataset) ListEvents(bySeason bool) []Event {
	if bySeason && !d.hasSeasons && !d.hasLabels() {
		bySeason = false
	}
	return d.events(func(label string) bool {
		return !bySeason || label != ""
	})
}

// eventsIn returns the events labeled with name.
func (d *Dataset) eventsIn(name string) []Event {
	return d.events(func(label string) bool { return label == name })
}

func (d *Dataset) events(keep func(label string) bool) []Event {
	index := make(map[eventKey]int)
	var events []Event

	for i, f := range d.facts {
		label := d.labels[i]
		if !keep(label) {
			continue
		}
		key := eventKey{
			id:       f.EventID,
			title:    f.EventTitle,
			dateTime: f.EventDateTime.UnixNano(),
			going:    f.EventGoing,
			season:   label,
		}
		if pos, ok := index[key]; ok {
			events[pos].Attendees++
			continue
		}
		index[key] = len(events)
		events = append(events, Event{
			ID:        f.EventID,
			Title:     f.EventTitle,
			DateTime:  f.EventDateTime,
			Going:     f.EventGoing,
			Season:    label,
			Attendees: 1,
		})
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.DateTime.Compare(b.DateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return events
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTENDEES
// ══════════════════════════════════════════════════════════════════════════════

// AttendeeTotal is one attendee identity with its event count.
type AttendeeTotal struct {
	attendance.Identity
	Events int `json:"events"`
}

// ListAttendeesTotal counts rows per (name, city, state), most active first.
// Rows without a city or state are not counted, which leaves out guest and
// padding rows.
func (d *Dataset) ListAttendeesTotal() []AttendeeTotal {
	counts := make(map[attendance.Identity]int)
	for _, f := range d.facts {
		if id, ok := f.Identity(); ok {
			counts[id]++
		}
	}

	out := make([]AttendeeTotal, 0, len(counts))
	for id, n := range counts {
		out = append(out, AttendeeTotal{Identity: id, Events: n})
	}
	slices.SortFunc(out, func(a, b AttendeeTotal) int {
		if c := cmp.Compare(b.Events, a.Events); c != 0 {
			return c
		}
		return compareIdentity(a.Identity, b.Identity)
	})
	return out
}

// AttendeeSeasons is one pivot row: the attendee's count per season and the
// sum over the seasons present.
type AttendeeSeasons struct {
	attendance.Identity
	BySeason map[string]int `json:"by_season"`
	Total    int            `json:"total"`
}

// SeasonPivot is the per-season attendee table. Seasons lists the columns.
type SeasonPivot struct {
	Seasons []string          `json:"seasons"`
	Rows    []AttendeeSeasons `json:"rows"`
}

// ListAttendeesBySeason pivots labeled rows into one count per season. A
// season only becomes a column when at least one row falls in it; columns
// follow the season set order. Missing cells are absent from BySeason.
func (d *Dataset) ListAttendeesBySeason() SeasonPivot {
	rows := make(map[attendance.Identity]*AttendeeSeasons)
	present := make(map[string]bool)

	for i, f := range d.facts {
		label := d.labels[i]
		if label == "" {
			continue
		}
		id, ok := f.Identity()
		if !ok {
			continue
		}
		present[label] = true

		row, ok := rows[id]
		if !ok {
			row = &AttendeeSeasons{Identity: id, BySeason: make(map[string]int)}
			rows[id] = row
		}
		row.BySeason[label]++
		row.Total++
	}

	pivot := SeasonPivot{Rows: make([]AttendeeSeasons, 0, len(rows))}
	for _, name := range d.seasonOrder() {
		if present[name] {
			pivot.Seasons = append(pivot.Seasons, name)
			delete(present, name)
		}
	}
	// labels assigned from a set that was never added
	leftovers := make([]string, 0, len(present))
	for name := range present {
		leftovers = append(leftovers, name)
	}
	slices.Sort(leftovers)
	pivot.Seasons = append(pivot.Seasons, leftovers...)

	for _, row := range rows {
		pivot.Rows = append(pivot.Rows, *row)
	}
	slices.SortFunc(pivot.Rows, func(a, b AttendeeSeasons) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return compareIdentity(a.Identity, b.Identity)
	})
	return pivot
}

// seasonOrder returns set order with duplicate names removed.
func (d *Dataset) seasonOrder() []string {
	var names []string
	for _, n := range d.seasons.Names() {
		if !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

func compareIdentity(a, b attendance.Identity) int {
	return cmp.Or(
		cmp.Compare(a.Name, b.Name),
		cmp.Compare(a.City, b.City),
		cmp.Compare(a.State, b.State),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// TitleCount is the number of sessions sharing a title.
type TitleCount struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// Stats summarizes a season, or the whole dataset.
type Stats struct {
	Season             string       `json:"season,omitempty"`
	Sessions           int          `json:"sessions"`
	CumulativeGoing    int          `json:"cumulative_going"`
	UniqueParticipants int          `json:"unique_participants"`
	MedianGoing        float64      `json:"median_going"`
	SessionTitles      []TitleCount `json:"session_titles"`
}

// Stats computes the summary over the events and rows of the named season,
// or over everything when seasonName is nil. Unique participants counts
// distinct names, so every guest of the same host and all padding rows
// count once each.
func (d *Dataset) Stats(seasonName *string) Stats {
	var (
		events []Event
		stats  Stats
	)
	if seasonName == nil {
		events = d.ListEvents(false)
	} else {
		stats.Season = *seasonName
		events = d.eventsIn(*seasonName)
	}

	names := make(map[string]struct{})
	for i, f := range d.facts {
		if seasonName != nil && d.labels[i] != *seasonName {
			continue
		}
		names[f.Name] = struct{}{}
	}

	going := make([]int, len(events))
	titles := make(map[string]int)
	for i, ev := range events {
		going[i] = ev.Going
		stats.CumulativeGoing += ev.Going
		titles[ev.Title]++
	}

	stats.Sessions = len(events)
	stats.UniqueParticipants = len(names)
	stats.MedianGoing = median(going)
	stats.SessionTitles = make([]TitleCount, 0, len(titles))
	for title, n := range titles {
		stats.SessionTitles = append(stats.SessionTitles, TitleCount{Title: title, Count: n})
	}
	slices.SortFunc(stats.SessionTitles, func(a, b TitleCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	return stats
}

// median returns 0 for an empty slice.
func median(values []int) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the persisted form of a Dataset. Season labels are derived
// data and are not part of it.
type Snapshot struct {
	Group        string
	Facts        []attendance.Fact
	Seasons      []season.Season
	AllowOverlap bool
	HasSeasons   bool
}

// Snapshot captures the dataset for persistence.
func (d *Dataset) Snapshot() Snapshot {
	return Snapshot{
		Group:        d.group,
		Facts:        slices.Clone(d.facts),
		Seasons:      d.seasons.Seasons(),
		AllowOverlap: d.seasons.AllowOverlap(),
		HasSeasons:   d.hasSeasons,
	}
}

// FromSnapshot rebuilds a Dataset and recomputes its season labels. The
// season set is validated again, so a snapshot with overlapping seasons
// that forbids overlap is rejected.
func FromSnapshot(s Snapshot) (*Dataset, error) {
	if !s.HasSeasons {
		return New(s.Group, s.Facts, nil), nil
	}
	set, err := season.NewSet(s.Seasons, s.AllowOverlap)
	if err != nil {
		return nil, err
	}
	return New(s.Group, s.Facts, &set), nil
}
