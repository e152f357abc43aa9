// Package durability defines the Store contract that backs
// durability-QoS changes behind a writer's history cache (TRANSIENT_LOCAL
// and above survive the writer's own process; TRANSIENT and PERSISTENT
// survive longer, backed by badgerstore or pgstore respectively).
package durability

import (
	"context"
	"errors"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// ErrNotFound is returned by Get when no record exists for the given key.
var ErrNotFound = errors.New("durability: change not found")

// Store persists CacheChanges on behalf of a durable writer, keyed by
// (writer, sequence number).
type Store interface {
	Put(ctx context.Context, c *change.CacheChange) error
	Get(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) (*change.CacheChange, error)
	Remove(ctx context.Context, writer guid.GUID, sn seqnum.SequenceNumber) error
	// Iterate calls fn for every stored change belonging to writer, in
	// ascending sequence-number order, stopping early if fn returns false.
	Iterate(ctx context.Context, writer guid.GUID, fn func(*change.CacheChange) bool) error
	Close() error
}
