// Package flowcontrol implements the per-send Collector and the
// FlowController chain that reshapes it before submessages go out.
package flowcontrol

import (
	"time"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// Item is one candidate submessage a flow controller may admit, drop,
// reorder, or defer: a change, the fragment number to send (FirstFragment
// for an unfragmented change), and an optional reader restriction (nil
// means "every selected reader", used by combined-mode sends).
type Item struct {
	Change   *change.CacheChange
	Fragment seqnum.FragmentNumber
	Reader   *guid.GUID
}

// Bytes is the wire size this item will occupy once serialized, used by
// byte-budget controllers. It is computed from the change's fragment size
// when fragmented, or full payload length otherwise.
func (it Item) Bytes() int {
	if it.Change.Fragmented() {
		return len(it.Change.Fragment(it.Fragment))
	}
	return len(it.Change.Payload)
}

// Collector is the mutable admission set a FlowController reshapes in
// place: items removed from Items are deferred (left for a later pass);
// items left in place are sent this pass.
type Collector struct {
	Items []Item
}

// Take removes and returns item i, for a controller that wants to drop or
// defer it out of this pass.
func (c *Collector) Take(i int) Item {
	item := c.Items[i]
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return item
}

// Controller reshapes a Collector in place and is notified once an item
// has actually been sent so it can update its own credit/backoff state.
// Apply returns a deadline hint: when non-zero, the async sender should
// re-wake the writer no earlier than that time because this controller
// deferred work past its budget.
type Controller interface {
	Apply(c *Collector, now time.Time) (nextDeadline time.Time)
	OnSent(it Item, now time.Time)
}

// Chain composes controllers in order, writer-local first and then
// participant-level, applying each to the same Collector and returning
// the nearest non-zero deadline hint.
type Chain struct {
	Controllers []Controller
}

// Apply runs every controller in sequence against c.
func (ch Chain) Apply(c *Collector, now time.Time) time.Time {
	var deadline time.Time
	for _, ctrl := range ch.Controllers {
		d := ctrl.Apply(c, now)
		if d.IsZero() {
			continue
		}
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

// NotifySent informs every controller in the chain that it was sent, in
// the same order they were applied.
func (ch Chain) NotifySent(it Item, now time.Time) {
	for _, ctrl := range ch.Controllers {
		ctrl.OnSent(it, now)
	}
}
