package reader

import (
	"time"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// ChangeStatus is the per-(reader,change) delivery state tracked by a
// stateful writer's reader proxy.
type ChangeStatus int

const (
	Unsent ChangeStatus = iota
	Requested
	Unacknowledged
	Acknowledged
	Underway
)

// Proxy is the stateful-side tracking of one matched reliable reader: its
// identity/locators/QoS plus the full per-change delivery state machine.
type Proxy struct {
	GUID              guid.GUID
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
	ExpectsInlineQoS  bool
	Reliability       ReliabilityKind
	Durability        DurabilityKind

	status         map[seqnum.SequenceNumber]ChangeStatus
	pendingFrags   map[seqnum.SequenceNumber]map[seqnum.FragmentNumber]bool
	highestAcked   seqnum.SequenceNumber
	heartbeatCount int32

	nackResponseDelay   time.Duration
	nackSuppressWindow  time.Duration
	nackSuppressedUntil time.Time

	livelinessLease time.Time
}

// NewProxy creates a reader proxy with empty delivery state. highestAcked
// starts at seqnum.Unknown (nothing acknowledged yet).
func NewProxy(data ProxyData, nackResponseDelay, nackSuppressWindow time.Duration) *Proxy {
	return &Proxy{
		GUID:               data.GUID,
		UnicastLocators:    data.UnicastLocators,
		MulticastLocators:  data.MulticastLocators,
		ExpectsInlineQoS:   data.ExpectsInlineQoS,
		Reliability:        data.Reliability,
		Durability:         data.Durability,
		status:             make(map[seqnum.SequenceNumber]ChangeStatus),
		pendingFrags:       make(map[seqnum.SequenceNumber]map[seqnum.FragmentNumber]bool),
		highestAcked:       seqnum.Unknown,
		nackResponseDelay:  nackResponseDelay,
		nackSuppressWindow: nackSuppressWindow,
	}
}

// AddUnsent registers sn as UNSENT, or UNDERWAY if it was included
// immediately in a synchronous group.
func (p *Proxy) AddUnsent(sn seqnum.SequenceNumber, underway bool) {
	if underway {
		p.status[sn] = Underway
	} else {
		p.status[sn] = Unsent
	}
}

// Status returns the current delivery status for sn, and whether it is
// tracked at all (an untracked SN is typically one already removed from
// the writer's history and acknowledged, or genuinely never seen by this
// reader).
func (p *Proxy) Status(sn seqnum.SequenceNumber) (ChangeStatus, bool) {
	s, ok := p.status[sn]
	return s, ok
}

// MarkUnderway transitions sn to UNDERWAY on dispatch of a DATA/DATA_FRAG
// submessage.
func (p *Proxy) MarkUnderway(sn seqnum.SequenceNumber) {
	p.status[sn] = Underway
}

// Pending returns every SN currently UNSENT or REQUESTED, the set the
// stateful engine must still emit DATA/DATA_FRAG for, in increasing
// order.
func (p *Proxy) Pending() []seqnum.SequenceNumber {
	var out []seqnum.SequenceNumber
	for sn, st := range p.status {
		if st == Unsent || st == Requested {
			out = append(out, sn)
		}
	}
	sortSNs(out)
	return out
}

// HighestAcked returns the highest sequence number this reader has
// acknowledged, or seqnum.Unknown if none yet.
func (p *Proxy) HighestAcked() seqnum.SequenceNumber { return p.highestAcked }

// ProcessAckNack applies an ACKNACK submessage: base-1 is taken as
// acknowledged (every SN below base), and every set bit in bitmap is
// marked REQUESTED if the writer is still tracking that SN for this
// reader. The caller (stateful engine) is responsible for emitting a GAP
// for requested SNs that are no longer tracked.
//
// Returns the SNs that were marked REQUESTED and were tracked (i.e. need
// a resend), and the SNs requested but not tracked (need a GAP).
func (p *Proxy) ProcessAckNack(base seqnum.SequenceNumber, bits seqnum.Bitmap) (resend, gap []seqnum.SequenceNumber) {
	if base-1 > p.highestAcked {
		p.highestAcked = base - 1
	}
	for sn, st := range p.status {
		if sn < base && st != Acknowledged {
			p.status[sn] = Acknowledged
			delete(p.pendingFrags, sn)
		}
	}

	bits.Each(func(sn seqnum.SequenceNumber) {
		if _, tracked := p.status[sn]; tracked {
			p.status[sn] = Requested
			resend = append(resend, sn)
		} else {
			gap = append(gap, sn)
		}
	})
	return resend, gap
}

// ProcessNackFrag marks the given fragment numbers of sn as requested for
// resend.
func (p *Proxy) ProcessNackFrag(sn seqnum.SequenceNumber, fragBits []seqnum.FragmentNumber) {
	set, ok := p.pendingFrags[sn]
	if !ok {
		set = make(map[seqnum.FragmentNumber]bool)
		p.pendingFrags[sn] = set
	}
	for _, fn := range fragBits {
		set[fn] = true
	}
	if _, tracked := p.status[sn]; tracked {
		p.status[sn] = Requested
	}
}

// RequestedFragments returns and clears the set of fragment numbers
// requested via NACKFRAG for sn.
func (p *Proxy) RequestedFragments(sn seqnum.SequenceNumber) []seqnum.FragmentNumber {
	set, ok := p.pendingFrags[sn]
	if !ok {
		return nil
	}
	out := make([]seqnum.FragmentNumber, 0, len(set))
	for fn := range set {
		out = append(out, fn)
	}
	delete(p.pendingFrags, sn)
	return out
}

// Drop removes all tracking for sn — used when the change is evicted from
// HC before every matched reader has acknowledged it.
func (p *Proxy) Drop(sn seqnum.SequenceNumber) {
	delete(p.status, sn)
	delete(p.pendingFrags, sn)
}

// NextHeartbeatCount returns the next strictly increasing heartbeat count
// for this reader.
func (p *Proxy) NextHeartbeatCount() int32 {
	p.heartbeatCount++
	return p.heartbeatCount
}

// BeginNackSuppression records that a heartbeat was just sent; ACKNACKs
// arriving before now+nackResponseDelay are suppressed, and ACKNACKs
// arriving within nackSuppressWindow of each other are coalesced into a
// single response window.
func (p *Proxy) BeginNackSuppression(now time.Time) {
	p.nackSuppressedUntil = now.Add(p.nackResponseDelay)
}

// SuppressingNacks reports whether an ACKNACK received at now should be
// ignored (still within the suppression window).
func (p *Proxy) SuppressingNacks(now time.Time) bool {
	return now.Before(p.nackSuppressedUntil)
}

// ExtendSuppression coalesces a fresh ACKNACK arriving inside the
// suppression window into the same window, rather than opening a new one.
func (p *Proxy) ExtendSuppression(now time.Time) {
	candidate := now.Add(p.nackSuppressWindow)
	if candidate.After(p.nackSuppressedUntil) {
		p.nackSuppressedUntil = candidate
	}
}

// AssertLiveliness resets this reader's liveliness lease expiry.
func (p *Proxy) AssertLiveliness(now time.Time, lease time.Duration) {
	p.livelinessLease = now.Add(lease)
}

func sortSNs(s []seqnum.SequenceNumber) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// StatefulRegistry is the Matched-Reader Registry for a reliable writer,
// owning one Proxy per matched reader plus the shared LocatorSelector.
type StatefulRegistry struct {
	pool     *slotPool
	byGUID   map[[16]byte]int
	proxies  []*Proxy
	selector *locator.Selector
	creator  SenderResourceCreator
	known    map[locator.Key]bool

	nackResponseDelay  time.Duration
	nackSuppressWindow time.Duration
}

// NewStatefulRegistry creates a registry with the given preallocated
// storage parameters and per-reader nack-timing configuration.
func NewStatefulRegistry(attrs Attrs, creator SenderResourceCreator, nackResponseDelay, nackSuppressWindow time.Duration) *StatefulRegistry {
	return &StatefulRegistry{
		pool:               newSlotPool(attrs),
		byGUID:             make(map[[16]byte]int),
		proxies:            make([]*Proxy, attrs.normalized().Initial),
		selector:           locator.NewSelector(),
		creator:            creator,
		known:              make(map[locator.Key]bool),
		nackResponseDelay:  nackResponseDelay,
		nackSuppressWindow: nackSuppressWindow,
	}
}

// Add installs or updates a matched reader's proxy. Re-adding an existing
// GUID updates locators/QoS in place, preserving delivery state.
func (r *StatefulRegistry) Add(data ProxyData) (*Proxy, AddResult) {
	key := data.GUID.Bytes()
	if idx, exists := r.byGUID[key]; exists {
		px := r.proxies[idx]
		px.UnicastLocators = data.UnicastLocators
		px.MulticastLocators = data.MulticastLocators
		px.ExpectsInlineQoS = data.ExpectsInlineQoS
		r.refreshSelector(idx)
		r.notifyNewLocators(data.UnicastLocators, data.MulticastLocators)
		return px, Updated
	}

	idx, ok := r.pool.acquire()
	if !ok {
		return nil, Rejected
	}
	if idx >= len(r.proxies) {
		grown := make([]*Proxy, idx+1)
		copy(grown, r.proxies)
		r.proxies = grown
	}
	px := NewProxy(data, r.nackResponseDelay, r.nackSuppressWindow)
	r.proxies[idx] = px
	r.byGUID[key] = idx
	r.refreshSelector(idx)
	r.notifyNewLocators(data.UnicastLocators, data.MulticastLocators)
	return px, Added
}

func (r *StatefulRegistry) refreshSelector(idx int) {
	px := r.proxies[idx]
	all := append(append([]locator.Locator{}, px.UnicastLocators...), px.MulticastLocators...)
	r.selector.Set(px.GUID.Bytes(), all)
}

func (r *StatefulRegistry) notifyNewLocators(lists ...[]locator.Locator) {
	if r.creator == nil {
		return
	}
	for _, list := range lists {
		for _, l := range list {
			k := locator.Key{Kind: l.Kind, Address: l.Address, Port: l.Port}
			if r.known[k] {
				continue
			}
			r.known[k] = true
			_ = r.creator.CreateSenderResource(l)
		}
	}
}

// Remove drops a matched reader's proxy, draining its state. Returns
// false if it was not present.
func (r *StatefulRegistry) Remove(g guid.GUID) (*Proxy, bool) {
	key := g.Bytes()
	idx, exists := r.byGUID[key]
	if !exists {
		return nil, false
	}
	px := r.proxies[idx]
	delete(r.byGUID, key)
	r.proxies[idx] = nil
	r.pool.release(idx)
	r.selector.Remove(key)
	return px, true
}

// Get returns the proxy for g, if matched.
func (r *StatefulRegistry) Get(g guid.GUID) (*Proxy, bool) {
	idx, exists := r.byGUID[g.Bytes()]
	if !exists {
		return nil, false
	}
	return r.proxies[idx], true
}

// Contains reports whether g is currently matched.
func (r *StatefulRegistry) Contains(g guid.GUID) bool {
	_, exists := r.byGUID[g.Bytes()]
	return exists
}

// ForEach invokes fn once per matched reader proxy. fn must not mutate
// the registry.
func (r *StatefulRegistry) ForEach(fn func(*Proxy)) {
	for _, idx := range r.byGUID {
		fn(r.proxies[idx])
	}
}

// Len returns the number of matched readers.
func (r *StatefulRegistry) Len() int { return len(r.byGUID) }

// Selector returns the deduplicated LocatorSelector for this registry.
func (r *StatefulRegistry) Selector() *locator.Selector { return r.selector }

// MinHighestAcked returns the minimum, across every matched reader, of
// HighestAcked: the point below which every matched reader has
// acknowledged receipt, so the writer history cache may safely evict.
// Returns seqnum.Unknown if there are no matched readers.
func (r *StatefulRegistry) MinHighestAcked() seqnum.SequenceNumber {
	if len(r.byGUID) == 0 {
		return seqnum.Unknown
	}
	min := seqnum.Max
	for _, idx := range r.byGUID {
		h := r.proxies[idx].HighestAcked()
		if h < min {
			min = h
		}
	}
	return min
}
