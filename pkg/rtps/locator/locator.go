// Package locator implements RTPS transport-level addresses and the
// LocatorSelector used to deduplicate fan-out across matched readers.
package locator

import (
	"fmt"
	"net"
	"sort"
)

// Kind identifies the transport protocol family of a Locator.
type Kind int

const (
	KindUDPv4 Kind = iota
	KindUDPv6
	KindTCPv4
	KindTCPv6
)

// Locator is a transport-level address: protocol kind, 16-byte address
// field (IPv4 addresses are stored in the low 4 bytes, matching the RTPS
// wire convention), and port.
type Locator struct {
	Kind    Kind
	Address [16]byte
	Port    uint32
}

// NewUDPv4 builds a UDPv4 locator from a dotted-quad/port pair.
func NewUDPv4(ip net.IP, port uint32) Locator {
	var addr [16]byte
	v4 := ip.To4()
	copy(addr[12:], v4)
	return Locator{Kind: KindUDPv4, Address: addr, Port: port}
}

// String renders the locator for logs and admin output.
func (l Locator) String() string {
	switch l.Kind {
	case KindUDPv4, KindTCPv4:
		ip := net.IP(l.Address[12:16])
		proto := "udp"
		if l.Kind == KindTCPv4 {
			proto = "tcp"
		}
		return fmt.Sprintf("%s://%s:%d", proto, ip.String(), l.Port)
	default:
		ip := net.IP(l.Address[:])
		proto := "udp6"
		if l.Kind == KindTCPv6 {
			proto = "tcp6"
		}
		return fmt.Sprintf("%s://[%s]:%d", proto, ip.String(), l.Port)
	}
}

// Key returns a comparable value suitable for use as a map key, since
// Locator itself (a fixed-size array wrapper) is already comparable but we
// want a stable, explicit key type at call sites that dedupe locators.
type Key struct {
	Kind    Kind
	Address [16]byte
	Port    uint32
}

func (l Locator) key() Key { return Key(l) }

// Selector maintains the deduplicated union of selected readers' locators,
// so a combined send targets each physical destination exactly once even
// when several matched readers share a locator.
//
// Selector also supports a per-send "only these GUIDs" restriction via
// Restrict, used by separate-sending mode and by reader-specific resends
// (heartbeats, GAP, requested retransmissions).
type Selector struct {
	byGUID map[guidKey][]Locator
	order  []guidKey // insertion order, for deterministic iteration in tests
}

type guidKey = [16]byte

// NewSelector creates an empty locator selector.
func NewSelector() *Selector {
	return &Selector{byGUID: make(map[guidKey][]Locator)}
}

// Set installs (or replaces) the locator list for a reader GUID.
func (s *Selector) Set(guidBytes [16]byte, locators []Locator) {
	if _, exists := s.byGUID[guidBytes]; !exists {
		s.order = append(s.order, guidBytes)
	}
	cp := make([]Locator, len(locators))
	copy(cp, locators)
	s.byGUID[guidBytes] = cp
}

// Remove drops a reader GUID from the selector.
func (s *Selector) Remove(guidBytes [16]byte) {
	delete(s.byGUID, guidBytes)
	for i, k := range s.order {
		if k == guidBytes {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// All returns the deduplicated union of every selected reader's locators,
// stable-ordered by first appearance.
func (s *Selector) All() []Locator {
	return s.restrictedUnion(nil)
}

// Restrict returns the deduplicated union of locators for only the given
// reader GUIDs, for sends targeting a subset of matched readers.
func (s *Selector) Restrict(guids [][16]byte) []Locator {
	allowed := make(map[guidKey]bool, len(guids))
	for _, g := range guids {
		allowed[g] = true
	}
	return s.restrictedUnion(allowed)
}

func (s *Selector) restrictedUnion(allowed map[guidKey]bool) []Locator {
	seen := make(map[Key]bool)
	var out []Locator
	for _, k := range s.order {
		if allowed != nil && !allowed[k] {
			continue
		}
		for _, loc := range s.byGUID[k] {
			key := loc.key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, loc)
		}
	}
	return out
}

// Len reports the number of reader GUIDs currently tracked.
func (s *Selector) Len() int { return len(s.order) }

// SortedGUIDs returns the tracked GUIDs in byte order, for deterministic
// diagnostics/tests.
func (s *Selector) SortedGUIDs() [][16]byte {
	out := make([][16]byte, len(s.order))
	copy(out, s.order)
	sort.Slice(out, func(i, j int) bool {
		for b := 0; b < 16; b++ {
			if out[i][b] != out[j][b] {
				return out[i][b] < out[j][b]
			}
		}
		return false
	})
	return out
}

// TCPTransactionID is the 96-bit little-endian-word transaction counter
// used by the RTPS TCP transport's CPB header. It wraps to zero after
// 0xffffffff_ffffffff_ffffffff rather than overflowing into a fourth word.
type TCPTransactionID [3]uint32

// Increment advances the counter by one, wrapping each 32-bit word into
// the next and wrapping the whole value to zero at its maximum.
func (t *TCPTransactionID) Increment() {
	for i := 0; i < 3; i++ {
		t[i]++
		if t[i] != 0 {
			return
		}
	}
	// all three words wrapped past 0xffffffff simultaneously: reset to zero
	*t = TCPTransactionID{}
}
