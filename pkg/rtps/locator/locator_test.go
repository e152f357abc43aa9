package locator

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorDedupesSharedLocator(t *testing.T) {
	s := NewSelector()
	shared := NewUDPv4(net.ParseIP("239.255.0.1"), 7401)
	r1 := [16]byte{1}
	r2 := [16]byte{2}

	s.Set(r1, []Locator{NewUDPv4(net.ParseIP("10.0.0.1"), 7400)})
	s.Set(r2, []Locator{shared, NewUDPv4(net.ParseIP("239.255.0.1"), 7401)})

	all := s.All()
	require.Len(t, all, 2)
}

func TestSelectorRestrict(t *testing.T) {
	s := NewSelector()
	r1 := [16]byte{1}
	r2 := [16]byte{2}
	s.Set(r1, []Locator{NewUDPv4(net.ParseIP("10.0.0.1"), 7400)})
	s.Set(r2, []Locator{NewUDPv4(net.ParseIP("10.0.0.2"), 7400)})

	only := s.Restrict([][16]byte{r2})
	require.Len(t, only, 1)
	assert.Equal(t, "10.0.0.2", net.IP(only[0].Address[12:16]).String())
}

func TestSelectorRemove(t *testing.T) {
	s := NewSelector()
	r1 := [16]byte{1}
	s.Set(r1, []Locator{NewUDPv4(net.ParseIP("10.0.0.1"), 7400)})
	s.Remove(r1)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.All())
}

func TestTCPTransactionIDWraps(t *testing.T) {
	var id TCPTransactionID
	id[0] = 0xffffffff
	id[1] = 0xffffffff
	id[2] = 0xffffffff

	id.Increment()
	assert.Equal(t, TCPTransactionID{}, id)
}

func TestTCPTransactionIDCarries(t *testing.T) {
	id := TCPTransactionID{0xffffffff, 0, 0}
	id.Increment()
	assert.Equal(t, TCPTransactionID{0, 1, 0}, id)
}
