package reader

import (
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
)

// MatchedReader is the stateless-side view of a matched remote reader:
// locators, QoS flags, nothing more. It carries no per-change delivery
// state because best-effort delivery tracks none.
type MatchedReader struct {
	GUID              guid.GUID
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
	ExpectsInlineQoS  bool
}

// StatelessRegistry is the Matched-Reader Registry for a best-effort
// writer. It also tracks writer-owned "fixed" destinations (added via
// SetFixedLocators) that exist independent of discovery, and maintains
// the deduplicated LocatorSelector used by the stateless delivery engine.
type StatelessRegistry struct {
	pool     *slotPool
	byGUID   map[[16]byte]int
	readers  []*MatchedReader // indexed by slot
	selector *locator.Selector
	creator  SenderResourceCreator
	known    map[locator.Key]bool
	fixed    []locator.Locator
}

// NewStatelessRegistry creates a registry with the given preallocated
// storage parameters. creator may be nil in tests that don't exercise the
// transport hook.
func NewStatelessRegistry(attrs Attrs, creator SenderResourceCreator) *StatelessRegistry {
	return &StatelessRegistry{
		pool:     newSlotPool(attrs),
		byGUID:   make(map[[16]byte]int),
		readers:  make([]*MatchedReader, attrs.normalized().Initial),
		selector: locator.NewSelector(),
		creator:  creator,
		known:    make(map[locator.Key]bool),
	}
}

// Add installs or updates a matched reader. Re-adding an existing GUID
// re-runs the update path (new locators, QoS) rather than allocating a
// new slot.
func (r *StatelessRegistry) Add(data ProxyData) AddResult {
	key := data.GUID.Bytes()
	if idx, exists := r.byGUID[key]; exists {
		r.readers[idx] = &MatchedReader{
			GUID:              data.GUID,
			UnicastLocators:   data.UnicastLocators,
			MulticastLocators: data.MulticastLocators,
			ExpectsInlineQoS:  data.ExpectsInlineQoS,
		}
		r.refreshSelector(idx)
		r.notifyNewLocators(data.UnicastLocators, data.MulticastLocators)
		return Updated
	}

	idx, ok := r.pool.acquire()
	if !ok {
		return Rejected
	}
	if idx >= len(r.readers) {
		grown := make([]*MatchedReader, idx+1)
		copy(grown, r.readers)
		r.readers = grown
	}
	r.readers[idx] = &MatchedReader{
		GUID:              data.GUID,
		UnicastLocators:   data.UnicastLocators,
		MulticastLocators: data.MulticastLocators,
		ExpectsInlineQoS:  data.ExpectsInlineQoS,
	}
	r.byGUID[key] = idx
	r.refreshSelector(idx)
	r.notifyNewLocators(data.UnicastLocators, data.MulticastLocators)
	return Added
}

func (r *StatelessRegistry) refreshSelector(idx int) {
	mr := r.readers[idx]
	all := append(append([]locator.Locator{}, mr.UnicastLocators...), mr.MulticastLocators...)
	r.selector.Set(mr.GUID.Bytes(), all)
}

func (r *StatelessRegistry) notifyNewLocators(lists ...[]locator.Locator) {
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

// Remove drops a matched reader. Returns false if it was not present.
func (r *StatelessRegistry) Remove(g guid.GUID) bool {
	key := g.Bytes()
	idx, exists := r.byGUID[key]
	if !exists {
		return false
	}
	delete(r.byGUID, key)
	r.readers[idx] = nil
	r.pool.release(idx)
	r.selector.Remove(key)
	return true
}

// Contains reports whether g is currently matched.
func (r *StatelessRegistry) Contains(g guid.GUID) bool {
	_, exists := r.byGUID[g.Bytes()]
	return exists
}

// ForEach invokes fn once per matched reader. fn must not mutate the
// registry.
func (r *StatelessRegistry) ForEach(fn func(*MatchedReader)) {
	for _, idx := range r.byGUID {
		fn(r.readers[idx])
	}
}

// Len returns the number of matched readers.
func (r *StatelessRegistry) Len() int { return len(r.byGUID) }

// SetFixedLocators installs writer-owned destinations that exist
// independent of discovery (e.g. a static relay), used only by stateless
// writers.
func (r *StatelessRegistry) SetFixedLocators(list []locator.Locator) {
	r.fixed = append([]locator.Locator{}, list...)
	fixedKey := [16]byte{0xff} // reserved pseudo-GUID for fixed locators
	r.selector.Set(fixedKey, r.fixed)
	r.notifyNewLocators(r.fixed)
}

// HasDestinations reports whether there is any matched reader or fixed
// locator to send to. If neither exists, a change is silently
// acknowledged to the listener without going on the wire.
func (r *StatelessRegistry) HasDestinations() bool {
	return r.Len() > 0 || len(r.fixed) > 0
}

// Selector returns the deduplicated LocatorSelector for this registry.
func (r *StatelessRegistry) Selector() *locator.Selector { return r.selector }
