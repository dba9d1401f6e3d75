// Package ident generates the 128-bit correlation identifiers attached to
// tasks and log records, and the seeded pseudo-random numbers used for
// retry jitter and sampling.
//
// A [Generator] is either secure (crypto/rand through google/uuid) or
// seeded. Seeded generators exist so tests can reproduce an identifier
// sequence exactly; two seeded generators built from the same seed and
// called in the same order yield the same IDs.
package ident

import (
	"github.com/google/uuid"

	rterrors "github.com/baxromumarov/taskrt/errors"
)

// ID is a 128-bit RFC 4122 version 4 identifier.
type ID uuid.UUID

// Nil is the all-zero ID.
var Nil ID

// String returns the canonical 36-character form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the all-zero ID.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes the string form of an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, rterrors.WrapWithContext(rterrors.ErrCodeParse, "invalid identifier", err,
			map[string]any{"input": s})
	}
	return ID(u), nil
}
