// Package change implements CacheChange, the unit of a single published
// sample.
package change

import (
	"time"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// Kind is the change kind: a live sample or one of the three dispose/
// unregister variants.
type Kind int

const (
	Alive Kind = iota
	NotAliveDisposed
	NotAliveUnregistered
	NotAliveDisposedUnregistered
)

// InstanceHandle is the key hash identifying the instance this change
// belongs to within its writer's keyed topic.
type InstanceHandle [16]byte

// CacheChange represents a single user write. Once placed in a
// HistoryCache its SequenceNumber is final, its Payload bytes are
// immutable, and its Kind may not change — only a brand new CacheChange
// may supersede it.
type CacheChange struct {
	WriterGUID guid.GUID
	SN         seqnum.SequenceNumber
	Kind       Kind
	Instance   InstanceHandle
	SourceTime time.Time
	InlineQoS  []byte
	Payload    []byte

	// FragmentSize is 0 when the change is not fragmented; otherwise it is
	// the byte size used to split Payload into DATA_FRAG submessages.
	FragmentSize  uint32
	FragmentCount uint32
}

// Fragmented reports whether this change must be sent as a DATA_FRAG
// series rather than a single DATA submessage.
func (c *CacheChange) Fragmented() bool {
	return c.FragmentSize > 0 && c.FragmentCount > 1
}

// Fragment returns the payload slice for 1-based fragment number n. The
// final fragment may be shorter than FragmentSize.
func (c *CacheChange) Fragment(n seqnum.FragmentNumber) []byte {
	if !c.Fragmented() || n < 1 || uint32(n) > c.FragmentCount {
		return nil
	}
	start := int(n-1) * int(c.FragmentSize)
	end := start + int(c.FragmentSize)
	if end > len(c.Payload) {
		end = len(c.Payload)
	}
	if start >= len(c.Payload) {
		return nil
	}
	return c.Payload[start:end]
}
