// Package season contains the reporting calendar: named date intervals that
// events are bucketed into, and ordered collections of them that refuse
// overlapping intervals unless told otherwise.
package season

import (
	"fmt"
	"iter"
	"time"

	"github.com/nykp/meetup-participation/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEASON
// ══════════════════════════════════════════════════════════════════════════════

// Season is a named interval [Start, End] with inclusive bounds.
// Start <= End is the caller's responsibility.
type Season struct {
	Name  string
	Start time.Time
	End   time.Time
}

// New creates a Season.
func New(name string, start, end time.Time) Season {
	return Season{Name: name, Start: start, End: end}
}

// OverlapsWith reports whether the two inclusive intervals intersect.
func (s Season) OverlapsWith(other Season) bool {
	first, second := s, other
	if other.Start.Before(s.Start) {
		first, second = other, s
	}
	return !first.End.Before(second.Start)
}

// Contains reports whether t falls within [Start, End].
func (s Season) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Equal reports whether both seasons carry the same name and bounds.
func (s Season) Equal(other Season) bool {
	return s.Name == other.Name && s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// String returns a short human-readable form.
func (s Season) String() string {
	return fmt.Sprintf("%s [%s, %s]", s.Name, s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
}

// ══════════════════════════════════════════════════════════════════════════════
// SET
// ══════════════════════════════════════════════════════════════════════════════

// Set is an ordered collection of seasons. Unless allowOverlap was set at
// construction, no two seasons in a Set overlap.
type Set struct {
	seasons      []Season
	allowOverlap bool
}

// NewSet validates and builds a Set. The input slice is copied.
func NewSet(seasons []Season, allowOverlap bool) (Set, error) {
	if !allowOverlap {
		if a, b, found := firstOverlap(seasons); found {
			return Set{}, shared.NewDomainError("season", "NewSet", shared.ErrSeasonOverlap,
				fmt.Sprintf("seasons %q and %q overlap; set allowOverlap to override", a.Name, b.Name))
		}
	}

	owned := make([]Season, len(seasons))
	copy(owned, seasons)

	return Set{seasons: owned, allowOverlap: allowOverlap}, nil
}

// MustNewSet is NewSet for static season tables; it panics on overlap.
func MustNewSet(seasons []Season, allowOverlap bool) Set {
	s, err := NewSet(seasons, allowOverlap)
	if err != nil {
		panic(err)
	}
	return s
}

// Empty returns a Set with no seasons that enforces the overlap invariant.
func Empty() Set {
	return Set{}
}

// firstOverlap checks every unordered pair and returns the first overlapping one.
func firstOverlap(seasons []Season) (Season, Season, bool) {
	for i := 0; i < len(seasons)-1; i++ {
		for j := i + 1; j < len(seasons); j++ {
			if seasons[i].OverlapsWith(seasons[j]) {
				return seasons[i], seasons[j], true
			}
		}
	}
	return Season{}, Season{}, false
}

// Combine returns a new Set holding the receiver's seasons followed by
// other's. Overlap is allowed only when both inputs allow it.
func (s Set) Combine(other Set) (Set, error) {
	merged := make([]Season, 0, len(s.seasons)+len(other.seasons))
	merged = append(merged, s.seasons...)
	merged = append(merged, other.seasons...)

	combined, err := NewSet(merged, s.allowOverlap && other.allowOverlap)
	if err != nil {
		return Set{}, shared.WrapError("season", "Combine", shared.ErrSeasonOverlap, "cannot combine season sets", err)
	}
	return combined, nil
}

// All iterates seasons in insertion order. Each call starts a fresh iteration.
func (s Set) All() iter.Seq[Season] {
	return func(yield func(Season) bool) {
		for _, season := range s.seasons {
			if !yield(season) {
				return
			}
		}
	}
}

// Seasons returns a copy of the seasons in insertion order.
func (s Set) Seasons() []Season {
	out := make([]Season, len(s.seasons))
	copy(out, s.seasons)
	return out
}

// Names returns season names in insertion order.
func (s Set) Names() []string {
	names := make([]string, len(s.seasons))
	for i, season := range s.seasons {
		names[i] = season.Name
	}
	return names
}

// Len returns the number of seasons.
func (s Set) Len() int {
	return len(s.seasons)
}

// AllowOverlap reports whether the overlap check was disabled at construction.
func (s Set) AllowOverlap() bool {
	return s.allowOverlap
}

// Find returns the first season with the given name.
func (s Set) Find(name string) (Season, bool) {
	for _, season := range s.seasons {
		if season.Name == name {
			return season, true
		}
	}
	return Season{}, false
}

// Has reports whether the set holds a season equal to target.
func (s Set) Has(target Season) bool {
	for _, season := range s.seasons {
		if season.Equal(target) {
			return true
		}
	}
	return false
}
