// Package guid implements RTPS GUID, GUID prefix, and entity id values.
package guid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// PrefixLen is the size in bytes of the participant-scoped portion of a GUID.
const PrefixLen = 12

// EntityIDLen is the size in bytes of the entity-scoped portion of a GUID.
const EntityIDLen = 4

// Prefix identifies a participant; it is the first 12 bytes of every GUID
// owned by that participant's entities.
type Prefix [PrefixLen]byte

// EntityID identifies an entity (writer, reader, participant) within a
// participant.
type EntityID [EntityIDLen]byte

// Well-known entity ids for the writer liveliness protocol's built-in
// participant-message topic. Values follow the RTPS convention of a
// reserved high byte for built-in entities.
var (
	EntityIDParticipantMessageWriter = EntityID{0x00, 0x02, 0x00, 0xc2}
	EntityIDParticipantMessageReader = EntityID{0x00, 0x02, 0x00, 0xc7}
)

// GUID is a 16-byte globally unique identifier: a 12-byte participant
// prefix plus a 4-byte entity id, totally ordered by lexicographic byte
// comparison.
type GUID struct {
	Prefix Prefix
	Entity EntityID
}

// Unknown is the all-zero GUID sentinel.
var Unknown = GUID{}

// IsUnknown reports whether g is the all-zero sentinel value.
func (g GUID) IsUnknown() bool {
	return g == Unknown
}

// Compare returns -1, 0, or 1 following lexicographic byte order across
// the 16-byte representation (prefix, then entity id).
func (g GUID) Compare(other GUID) int {
	if c := bytes.Compare(g.Prefix[:], other.Prefix[:]); c != 0 {
		return c
	}
	return bytes.Compare(g.Entity[:], other.Entity[:])
}

// Bytes returns the 16-byte wire representation.
func (g GUID) Bytes() [16]byte {
	var out [16]byte
	copy(out[:PrefixLen], g.Prefix[:])
	copy(out[PrefixLen:], g.Entity[:])
	return out
}

// FromBytes parses a 16-byte wire representation into a GUID.
func FromBytes(b [16]byte) GUID {
	var g GUID
	copy(g.Prefix[:], b[:PrefixLen])
	copy(g.Entity[:], b[PrefixLen:])
	return g
}

// String renders the GUID as prefix-hex.entity-hex, e.g.
// "010203040506070809000a0b.000200c2".
func (g GUID) String() string {
	return fmt.Sprintf("%s.%s", hex.EncodeToString(g.Prefix[:]), hex.EncodeToString(g.Entity[:]))
}

// NewPrefix generates a random participant prefix. RTPS leaves prefix
// allocation to the implementation as long as it is unique within the
// domain; we derive it from a random UUIDv4 rather than inventing our own
// randomness source.
func NewPrefix() Prefix {
	id := uuid.New()
	var p Prefix
	copy(p[:], id[:PrefixLen])
	return p
}

// WithEntity builds the GUID for one of this participant's entities.
func (p Prefix) WithEntity(e EntityID) GUID {
	return GUID{Prefix: p, Entity: e}
}
