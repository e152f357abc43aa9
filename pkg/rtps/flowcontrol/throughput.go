package flowcontrol

import (
	"time"

	"golang.org/x/time/rate"
)

// Throughput is a byte-budget Controller backed by a token bucket: items
// are admitted in Collector order until the bucket runs dry, then the
// remainder is deferred and a wakeup deadline handed back to the caller.
// This is the stand-in for a descriptor-rate or bandwidth-limited flow
// controller; one instance is typically shared by every writer under a
// participant to cap aggregate egress.
type Throughput struct {
	limiter *rate.Limiter
}

// NewThroughput creates a controller allowing bytesPerSec sustained, with
// burst headroom of burstBytes.
func NewThroughput(bytesPerSec float64, burstBytes int) *Throughput {
	return &Throughput{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes)}
}

// Apply admits items while the bucket has tokens, consuming tokens
// proportional to each admitted item's wire size. The first item that
// would exceed the budget is deferred, along with everything after it, to
// preserve per-reader delivery order.
func (t *Throughput) Apply(c *Collector, now time.Time) time.Time {
	i := 0
	for i < len(c.Items) {
		n := c.Items[i].Bytes()
		res := t.limiter.ReserveN(now, n)
		if !res.OK() {
			// Requested size exceeds the bucket's total burst capacity;
			// admit it anyway rather than block forever.
			i++
			continue
		}
		delay := res.DelayFrom(now)
		if delay <= 0 {
			i++
			continue
		}
		res.CancelAt(now)
		break
	}
	if i >= len(c.Items) {
		return time.Time{}
	}
	// Defer everything from i onward; do not reorder within a reader's
	// stream.
	deferred := append([]Item{}, c.Items[i:]...)
	c.Items = c.Items[:i]
	next := t.limiter.ReserveN(now, deferred[0].Bytes())
	wake := now.Add(next.DelayFrom(now))
	next.CancelAt(now)
	return wake
}

// OnSent is a no-op: token consumption already happened in Apply via
// ReserveN, matching the teacher's rate-limiter usage pattern of
// reserving before doing the work rather than after.
func (t *Throughput) OnSent(Item, time.Time) {}
