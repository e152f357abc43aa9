// Package history implements the Writer History Cache: the ordered,
// resource-bounded store of cache changes behind a single data writer.
//
// HistoryCache is not concurrent on its own; the owning writer's lock
// (pkg/rtps/writer) serializes every call, matching the teacher's shard
// event loop (adred-codev-ws_poc/src/sharded/shard.go) where all mutable
// state is touched by exactly one goroutine and therefore needs no
// internal locking.
package history

import (
	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// QoS selects the eviction behaviour applied on a per-instance overflow.
type QoS int

const (
	// KeepLast drops the oldest sample for an instance once Depth samples
	// are held for it.
	KeepLast QoS = iota
	// KeepAll rejects new writes once any resource limit is reached,
	// rather than evicting.
	KeepAll
)

// MemoryPolicy mirrors the RTPS history QoS memory allocation strategies.
// The Go implementation behaves identically under all three (the
// distinction matters for a preallocated-buffer systems implementation,
// not for a garbage-collected one) but is retained so configuration and
// diagnostics stay wire-compatible with the original vocabulary.
type MemoryPolicy int

const (
	Preallocated MemoryPolicy = iota
	PreallocatedWithRealloc
	Dynamic
)

// Attributes configures a HistoryCache's resource limits and eviction
// policy.
type Attributes struct {
	Depth                 int // used by KeepLast
	MaxSamples            int // 0 = unbounded
	MaxInstances          int // 0 = unbounded
	MaxSamplesPerInstance int // 0 = unbounded
	History               QoS
	Memory                MemoryPolicy
}

// RejectReason classifies why Add refused a change.
type RejectReason int

const (
	NoReject RejectReason = iota
	ResourceLimitExceeded
	DuplicateSequenceNumber
	MemoryPolicyFailure
)

func (r RejectReason) String() string {
	switch r {
	case ResourceLimitExceeded:
		return "resource_limit_exceeded"
	case DuplicateSequenceNumber:
		return "duplicate_sequence_number"
	case MemoryPolicyFailure:
		return "memory_policy_failure"
	default:
		return "ok"
	}
}

// Observer is notified synchronously, exactly once, whenever a change is
// admitted. The observer (the writer engine) may itself trigger sends
// from within the callback.
type Observer interface {
	OnChangeAdded(c *change.CacheChange)
}

// Cache is the ordered store of CacheChange values for one writer.
type Cache struct {
	attrs    Attributes
	observer Observer

	changes []*change.CacheChange // ordered by strictly increasing SN

	// instanceOrder tracks, per instance, the SNs currently held, oldest
	// first — used for KeepLast eviction and per-instance limits.
	instanceOrder map[change.InstanceHandle][]seqnum.SequenceNumber

	nextSN seqnum.SequenceNumber
}

// New creates an empty HistoryCache with the given attributes. observer
// may be nil (e.g. for a cache used only as a durability replay buffer).
func New(attrs Attributes, observer Observer) *Cache {
	return &Cache{
		attrs:         attrs,
		observer:      observer,
		instanceOrder: make(map[change.InstanceHandle][]seqnum.SequenceNumber),
		nextSN:        seqnum.Min,
	}
}

// SetObserver installs (or replaces) the change-added observer.
func (c *Cache) SetObserver(o Observer) { c.observer = o }

// Add assigns the next sequence number to in, inserts it, evicts per
// KeepLast if needed, and notifies the observer. The caller must not set
// in.SN; it is overwritten.
func (c *Cache) Add(in *change.CacheChange) (seqnum.SequenceNumber, RejectReason) {
	if c.attrs.MaxInstances > 0 {
		if _, tracked := c.instanceOrder[in.Instance]; !tracked && len(c.instanceOrder) >= c.attrs.MaxInstances {
			return seqnum.Unknown, ResourceLimitExceeded
		}
	}

	perInstanceLimit := c.attrs.MaxSamplesPerInstance
	if c.attrs.History == KeepLast && (perInstanceLimit <= 0 || perInstanceLimit > c.attrs.Depth) {
		perInstanceLimit = c.attrs.Depth
	}

	existing := c.instanceOrder[in.Instance]
	if c.attrs.History == KeepAll {
		if perInstanceLimit > 0 && len(existing) >= perInstanceLimit {
			return seqnum.Unknown, ResourceLimitExceeded
		}
		if c.attrs.MaxSamples > 0 && len(c.changes) >= c.attrs.MaxSamples {
			return seqnum.Unknown, ResourceLimitExceeded
		}
	}

	in.SN = c.nextSN
	c.nextSN++
	c.changes = append(c.changes, in)
	c.instanceOrder[in.Instance] = append(existing, in.SN)

	if c.attrs.History == KeepLast {
		c.evictForInstance(in.Instance, perInstanceLimit)
	}
	if c.attrs.MaxSamples > 0 {
		c.evictGlobal(c.attrs.MaxSamples)
	}

	if c.observer != nil {
		c.observer.OnChangeAdded(in)
	}
	return in.SN, NoReject
}

// evictForInstance drops the oldest samples for instance until at most
// limit remain (KeepLast policy). Eviction proceeds even if a stateful
// writer has unacknowledged copies of the evicted sample; the engine emits
// GAPs to any reader still owed that sequence number.
func (c *Cache) evictForInstance(inst change.InstanceHandle, limit int) {
	if limit <= 0 {
		return
	}
	sns := c.instanceOrder[inst]
	for len(sns) > limit {
		victim := sns[0]
		sns = sns[1:]
		c.removeSN(victim)
	}
	c.instanceOrder[inst] = sns
}

func (c *Cache) evictGlobal(limit int) {
	for len(c.changes) > limit {
		victim := c.changes[0].SN
		c.Remove(victim)
	}
}

// Remove deletes the change with the given sequence number, if present.
func (c *Cache) Remove(sn seqnum.SequenceNumber) bool {
	for i, ch := range c.changes {
		if ch.SN == sn {
			c.changes = append(c.changes[:i], c.changes[i+1:]...)
			c.pruneInstanceOrder(ch.Instance, sn)
			return true
		}
	}
	return false
}

func (c *Cache) removeSN(sn seqnum.SequenceNumber) {
	for i, ch := range c.changes {
		if ch.SN == sn {
			c.changes = append(c.changes[:i], c.changes[i+1:]...)
			return
		}
	}
}

func (c *Cache) pruneInstanceOrder(inst change.InstanceHandle, sn seqnum.SequenceNumber) {
	sns := c.instanceOrder[inst]
	for i, v := range sns {
		if v == sn {
			c.instanceOrder[inst] = append(sns[:i], sns[i+1:]...)
			break
		}
	}
	if len(c.instanceOrder[inst]) == 0 {
		delete(c.instanceOrder, inst)
	}
}

// Clear discards every held change without advancing nextSN, for an
// operator-triggered reset. It does not notify the observer.
func (c *Cache) Clear() {
	c.changes = nil
	c.instanceOrder = make(map[change.InstanceHandle][]seqnum.SequenceNumber)
}

// Iter returns the changes currently held, ordered by increasing SN. The
// returned slice is a defensive copy of the pointer slice (changes
// themselves are shared, immutable once added).
func (c *Cache) Iter() []*change.CacheChange {
	out := make([]*change.CacheChange, len(c.changes))
	copy(out, c.changes)
	return out
}

// Get returns the change with the given SN, if still held.
func (c *Cache) Get(sn seqnum.SequenceNumber) (*change.CacheChange, bool) {
	for _, ch := range c.changes {
		if ch.SN == sn {
			return ch, true
		}
	}
	return nil, false
}

// Size returns the number of changes currently held.
func (c *Cache) Size() int { return len(c.changes) }

// MinSN returns the smallest SN held, or seqnum.Unknown if empty.
func (c *Cache) MinSN() seqnum.SequenceNumber {
	if len(c.changes) == 0 {
		return seqnum.Unknown
	}
	return c.changes[0].SN
}

// MaxSN returns the largest SN held, or seqnum.Unknown if empty.
func (c *Cache) MaxSN() seqnum.SequenceNumber {
	if len(c.changes) == 0 {
		return seqnum.Unknown
	}
	return c.changes[len(c.changes)-1].SN
}

// NextSN returns the sequence number that the next Add call will assign.
func (c *Cache) NextSN() seqnum.SequenceNumber { return c.nextSN }
