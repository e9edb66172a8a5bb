// Package ids validates and mints the UUIDv7 identifiers used for
// inferences and episodes (spec §3, "Inference / Episode ids").
package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New mints a fresh UUIDv7 identifier.
func New() (uuid.UUID, error) {
	return uuid.NewV7()
}

// Validate parses s as a UUID and checks it is version 7 with an embedded
// timestamp that is not in the future. now is passed in explicitly so
// callers (and tests) control clock skew tolerance.
func Validate(s string, now time.Time) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ids: invalid id %q: %w", s, err)
	}
	if id.Version() != 7 {
		return uuid.Nil, fmt.Errorf("ids: id %q is not a UUIDv7 (version %d)", s, id.Version())
	}
	ts, err := Timestamp(id)
	if err != nil {
		return uuid.Nil, err
	}
	if ts.After(now) {
		return uuid.Nil, fmt.Errorf("ids: id %q has a timestamp %s in the future of %s", s, ts, now)
	}
	return id, nil
}

// Timestamp extracts the millisecond-resolution timestamp embedded in a
// UUIDv7 value's first 48 bits.
func Timestamp(id uuid.UUID) (time.Time, error) {
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("ids: %s is not a UUIDv7", id)
	}
	ms := int64(id[0])<<40 | int64(id[1])<<32 | int64(id[2])<<24 | int64(id[3])<<16 | int64(id[4])<<8 | int64(id[5])
	return time.UnixMilli(ms).UTC(), nil
}
