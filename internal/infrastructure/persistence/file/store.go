// Package file persists participation datasets as self-describing CBOR
// files.
//
// A file is one CBOR map {format, version, checksum, payload}. payload is the
// CBOR-encoded dataset and checksum is BLAKE2b-256 over the payload bytes.
// Season labels are derived data and are recomputed on load.
package file

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/nykp/meetup-participation/internal/application/report"
	"github.com/nykp/meetup-participation/internal/domain/attendance"
	"github.com/nykp/meetup-participation/internal/domain/season"
	"github.com/nykp/meetup-participation/internal/domain/shared"
)

const (
	// Format identifies dataset files.
	Format = "meetup-participation/dataset"
	// Version is the payload schema written by this package.
	Version = 1
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	Format   string `cbor:"format"`
	Version  int    `cbor:"version"`
	Checksum []byte `cbor:"checksum"`
	Payload  []byte `cbor:"payload"`
}

type datasetV1 struct {
	Group        string     `cbor:"group"`
	Facts        []factV1   `cbor:"facts"`
	HasSeasons   bool       `cbor:"has_seasons"`
	AllowOverlap bool       `cbor:"allow_overlap"`
	Seasons      []seasonV1 `cbor:"seasons"`
	SavedAt      time.Time  `cbor:"saved_at"`
}

type factV1 struct {
	EventID       string    `cbor:"event_id"`
	EventTitle    string    `cbor:"event_title"`
	EventDateTime time.Time `cbor:"event_date_time"`
	EventStatus   string    `cbor:"event_status"`
	EventGoing    int       `cbor:"event_going"`
	Cursor        string    `cbor:"cursor"`
	Name          string    `cbor:"name"`
	City          *string   `cbor:"city"`
	State         *string   `cbor:"state"`
	UserID        *string   `cbor:"user_id"`
	AttendStatus  string    `cbor:"attend_status"`
	Kind          string    `cbor:"kind"`
}

type seasonV1 struct {
	Name  string    `cbor:"name"`
	Start time.Time `cbor:"start"`
	End   time.Time `cbor:"end"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store reads and writes dataset files.
type Store struct {
	enc cbor.EncMode
	dec cbor.DecMode
	now func() time.Time
}

// NewStore creates a Store with deterministic encoding.
func NewStore() (*Store, error) {
	enc, err := cbor.EncOptions{
		Sort:    cbor.SortCoreDeterministic,
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxArrayElements: 1 << 24,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &Store{enc: enc, dec: dec, now: time.Now}, nil
}

// Save writes the dataset to path, creating parent directories. The file is
// replaced atomically.
func (s *Store) Save(path string, d *report.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	var buf bytes.Buffer
	if err := s.Encode(&buf, d.Snapshot()); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".dataset-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Load reads a dataset file.
func (s *Store) Load(path string) (*report.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, shared.WrapError("file", "Load", shared.ErrNotFound, path, err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	snap, err := s.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return report.FromSnapshot(snap)
}

// Encode writes snap as a dataset file body.
func (s *Store) Encode(w io.Writer, snap report.Snapshot) error {
	payload, err := s.enc.Marshal(toRecord(snap, s.now().UTC()))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	sum := blake2b.Sum256(payload)

	body, err := s.enc.Marshal(envelope{
		Format:   Format,
		Version:  Version,
		Checksum: sum[:],
		Payload:  payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return nil
}

// Decode reads a dataset file body and verifies its checksum.
func (s *Store) Decode(r io.Reader) (report.Snapshot, error) {
	const op = "Decode"

	var env envelope
	if err := s.dec.NewDecoder(r).Decode(&env); err != nil {
		return report.Snapshot{}, shared.WrapError("file", op, shared.ErrInvalidFormat, "decode envelope", err)
	}
	if env.Format != Format {
		return report.Snapshot{}, shared.NewDomainError("file", op, shared.ErrInvalidFormat,
			fmt.Sprintf("unexpected format %q", env.Format))
	}
	if env.Version != Version {
		return report.Snapshot{}, shared.NewDomainError("file", op, shared.ErrUnsupportedVersion,
			fmt.Sprintf("version %d, want %d", env.Version, Version))
	}

	sum := blake2b.Sum256(env.Payload)
	if !bytes.Equal(sum[:], env.Checksum) {
		return report.Snapshot{}, shared.NewDomainError("file", op, shared.ErrCorrupted, "checksum mismatch")
	}

	var rec datasetV1
	if err := s.dec.Unmarshal(env.Payload, &rec); err != nil {
		return report.Snapshot{}, shared.WrapError("file", op, shared.ErrCorrupted, "decode payload", err)
	}
	return fromRecord(rec), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func toRecord(snap report.Snapshot, savedAt time.Time) datasetV1 {
	rec := datasetV1{
		Group:        snap.Group,
		Facts:        make([]factV1, len(snap.Facts)),
		HasSeasons:   snap.HasSeasons,
		AllowOverlap: snap.AllowOverlap,
		Seasons:      make([]seasonV1, len(snap.Seasons)),
		SavedAt:      savedAt,
	}
	for i, f := range snap.Facts {
		rec.Facts[i] = factV1{
			EventID:       f.EventID,
			EventTitle:    f.EventTitle,
			EventDateTime: f.EventDateTime,
			EventStatus:   f.EventStatus,
			EventGoing:    f.EventGoing,
			Cursor:        f.Cursor,
			Name:          f.Name,
			City:          f.City,
			State:         f.State,
			UserID:        f.UserID,
			AttendStatus:  string(f.AttendStatus),
			Kind:          string(f.Kind),
		}
	}
	for i, se := range snap.Seasons {
		rec.Seasons[i] = seasonV1{Name: se.Name, Start: se.Start, End: se.End}
	}
	return rec
}

func fromRecord(rec datasetV1) report.Snapshot {
	snap := report.Snapshot{
		Group:        rec.Group,
		Facts:        make([]attendance.Fact, len(rec.Facts)),
		HasSeasons:   rec.HasSeasons,
		AllowOverlap: rec.AllowOverlap,
		Seasons:      make([]season.Season, len(rec.Seasons)),
	}
	for i, f := range rec.Facts {
		snap.Facts[i] = attendance.Fact{
			EventID:       f.EventID,
			EventTitle:    f.EventTitle,
			EventDateTime: f.EventDateTime,
			EventStatus:   f.EventStatus,
			EventGoing:    f.EventGoing,
			Cursor:        f.Cursor,
			Name:          f.Name,
			City:          f.City,
			State:         f.State,
			UserID:        f.UserID,
			AttendStatus:  attendance.AttendStatus(f.AttendStatus),
			Kind:          attendance.Kind(f.Kind),
		}
	}
	for i, se := range rec.Seasons {
		snap.Seasons[i] = season.New(se.Name, se.Start, se.End)
	}
	return snap
}
