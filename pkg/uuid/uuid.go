// Package uuid provides time-ordered identifiers for documents, chunks and sessions.
// UUID v7 sorts by creation time.
package uuid

import (
	guuid "github.com/google/uuid"
)

// UUID is a v7 identifier.
type UUID = guuid.UUID

// NewV7 returns a new UUID v7. It falls back to a random v4 when the
// time-based generator cannot read from the entropy source.
func NewV7() UUID {
	id, err := guuid.NewV7()
	if err != nil {
		return guuid.New()
	}
	return id
}

// New returns NewV7().String(), the form stored in every ID column.
func New() string {
	return NewV7().String()
}

// Valid reports whether s parses as a UUID of any version.
func Valid(s string) bool {
	_, err := guuid.Parse(s)
	return err == nil
}
