package id

import "github.com/google/uuid"

// Generator creates opaque identifiers.
type Generator interface {
	New() string
}

// UUID generates RFC 4122 identifiers, used where the server expects them
// (idempotency keys on session creation).
type UUID struct{}

func (UUID) New() string {
	return uuid.NewString()
}
