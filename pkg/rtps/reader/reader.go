// Package reader implements the Matched-Reader Registry, its stateless
// and stateful reader representations, and the pooled-slot storage
// discipline shared by both.
package reader

import (
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
)

// ReliabilityKind is the QoS reliability level of a matched reader.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// DurabilityKind is the QoS durability level of a matched reader.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// AtLeastTransientLocal reports whether d requires seeding a newly matched
// reader with existing history.
func (d DurabilityKind) AtLeastTransientLocal() bool {
	return d >= TransientLocal
}

// ProxyData is what discovery hands to matched_reader_add/remove: a
// remote reader's identity, locators, and QoS.
type ProxyData struct {
	GUID              guid.GUID
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
	ExpectsInlineQoS  bool
	Reliability       ReliabilityKind
	Durability        DurabilityKind
}

// AddResult classifies the outcome of a registry Add call.
type AddResult int

const (
	Added AddResult = iota
	Updated
	Rejected
)

// SenderResourceCreator is invoked exactly once per newly observed locator,
// matching the transport's create_sender_resource hook.
type SenderResourceCreator interface {
	CreateSenderResource(l locator.Locator) error
}

// Attrs parameterizes the registry's preallocated storage: emplacement
// reuses a freed slot before growing, and growth never exceeds Max unless
// Max is 0 (bounded only by memory).
type Attrs struct {
	Initial   int
	Maximum   int // 0 = unbounded
	Increment int
}

func (a Attrs) normalized() Attrs {
	if a.Initial <= 0 {
		a.Initial = 4
	}
	if a.Increment <= 0 {
		a.Increment = a.Initial
	}
	return a
}

// slotPool is the shared preallocated-storage primitive used by both the
// stateless and stateful registries.
type slotPool struct {
	attrs Attrs
	slots []bool // true = occupied
	free  []int  // free slot indices, most-recently-freed first
}

func newSlotPool(attrs Attrs) *slotPool {
	attrs = attrs.normalized()
	p := &slotPool{attrs: attrs, slots: make([]bool, attrs.Initial)}
	for i := attrs.Initial - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// acquire returns a slot index, growing storage by Increment (bounded by
// Maximum) if no free slot remains. ok is false if the registry is at
// capacity.
func (p *slotPool) acquire() (idx int, ok bool) {
	if len(p.free) == 0 {
		if p.attrs.Maximum > 0 && len(p.slots) >= p.attrs.Maximum {
			return 0, false
		}
		grow := p.attrs.Increment
		if p.attrs.Maximum > 0 && len(p.slots)+grow > p.attrs.Maximum {
			grow = p.attrs.Maximum - len(p.slots)
		}
		if grow <= 0 {
			return 0, false
		}
		base := len(p.slots)
		p.slots = append(p.slots, make([]bool, grow)...)
		for i := len(p.slots) - 1; i >= base; i-- {
			p.free = append(p.free, i)
		}
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.slots[idx] = true
	return idx, true
}

func (p *slotPool) release(idx int) {
	if idx < 0 || idx >= len(p.slots) || !p.slots[idx] {
		return
	}
	p.slots[idx] = false
	p.free = append(p.free, idx)
}
