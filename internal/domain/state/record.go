package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a key was never backed up.
	ErrNotFound = errors.New("state: key not found")
	// ErrAbsent is returned when decoding a record whose setting did not
	// exist before the installation.
	ErrAbsent = errors.New("state: setting did not exist")
)

// Record is one backup entry.
type Record struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value,omitempty"`
	Absent     bool            `json:"absent,omitempty"`
	Seq        int             `json:"seq"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Decode unmarshals the recorded value into v.
func (r Record) Decode(v any) error {
	if r.Absent {
		return ErrAbsent
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("decoding state %q: %w", r.Key, err)
	}
	return nil
}
