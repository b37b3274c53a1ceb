package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nykp/meetup-participation/internal/domain/season"
	"github.com/nykp/meetup-participation/pkg/timeutil"
)

// SeasonsFile is the YAML layout of a season definition file:
//
//	allow_overlap: false
//	seasons:
//	  - name: winter
//	    start: 2023-01-01
//	    end: 2023-03-01
//
// start and end accept a date or a date-time. A date-only end covers the
// whole day.
type SeasonsFile struct {
	AllowOverlap bool          `yaml:"allow_overlap"`
	Seasons      []SeasonEntry `yaml:"seasons" validate:"required,min=1,dive"`
}

// SeasonEntry is one season in a SeasonsFile.
type SeasonEntry struct {
	Name  string `yaml:"name" validate:"required"`
	Start string `yaml:"start" validate:"required"`
	End   string `yaml:"end" validate:"required"`
}

// LoadSeasons reads a season definition file.
func LoadSeasons(path string, loc *time.Location) (season.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return season.Set{}, fmt.Errorf("read seasons %s: %w", path, err)
	}
	set, err := ParseSeasons(bytes.NewReader(data), loc)
	if err != nil {
		return season.Set{}, fmt.Errorf("seasons %s: %w", path, err)
	}
	return set, nil
}

// ParseSeasons decodes and validates a season definition. Overlapping
// seasons are rejected unless allow_overlap is set.
func ParseSeasons(r io.Reader, loc *time.Location) (season.Set, error) {
	if loc == nil {
		loc = time.UTC
	}

	var file SeasonsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return season.Set{}, errors.New("empty season file")
		}
		return season.Set{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return season.Set{}, fmt.Errorf("invalid season file: %w", err)
	}

	seasons := make([]season.Season, 0, len(file.Seasons))
	for _, e := range file.Seasons {
		start, err := timeutil.Parse(e.Start, loc)
		if err != nil {
			return season.Set{}, fmt.Errorf("season %q start: %w", e.Name, err)
		}
		end, err := timeutil.Parse(e.End, loc)
		if err != nil {
			return season.Set{}, fmt.Errorf("season %q end: %w", e.Name, err)
		}
		if isDateOnly(e.End) {
			end = timeutil.EndOfDay(end)
		}
		if end.Before(start) {
			return season.Set{}, fmt.Errorf("season %q ends before it starts", e.Name)
		}
		seasons = append(seasons, season.New(e.Name, start, end))
	}

	return season.NewSet(seasons, file.AllowOverlap)
}

func isDateOnly(value string) bool {
	_, err := time.Parse(timeutil.FormatDate, strings.TrimSpace(value))
	return err == nil
}
