package reader

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

type fakeCreator struct{ created []locator.Locator }

func (f *fakeCreator) CreateSenderResource(l locator.Locator) error {
	f.created = append(f.created, l)
	return nil
}

func mkGUID(b byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{b}, Entity: guid.EntityID{1}}
}

func TestStatelessRegistryAddUpdateRemove(t *testing.T) {
	creator := &fakeCreator{}
	reg := NewStatelessRegistry(Attrs{Initial: 2, Increment: 2}, creator)

	g := mkGUID(1)
	res := reg.Add(ProxyData{GUID: g, UnicastLocators: []locator.Locator{locator.NewUDPv4(net.ParseIP("10.0.0.1"), 7400)}})
	assert.Equal(t, Added, res)
	assert.True(t, reg.Contains(g))
	assert.Len(t, creator.created, 1)

	res = reg.Add(ProxyData{GUID: g, UnicastLocators: []locator.Locator{locator.NewUDPv4(net.ParseIP("10.0.0.2"), 7400)}})
	assert.Equal(t, Updated, res)
	assert.Len(t, creator.created, 2, "new locator on update should still trigger the transport hook once")

	assert.True(t, reg.Remove(g))
	assert.False(t, reg.Contains(g))
	assert.False(t, reg.Remove(g))
}

func TestStatelessRegistryGrowsAndRejectsAtMax(t *testing.T) {
	reg := NewStatelessRegistry(Attrs{Initial: 1, Maximum: 2, Increment: 1}, nil)

	assert.Equal(t, Added, reg.Add(ProxyData{GUID: mkGUID(1)}))
	assert.Equal(t, Added, reg.Add(ProxyData{GUID: mkGUID(2)}))
	assert.Equal(t, Rejected, reg.Add(ProxyData{GUID: mkGUID(3)}))
}

func TestStatelessHasDestinations(t *testing.T) {
	reg := NewStatelessRegistry(Attrs{}, nil)
	assert.False(t, reg.HasDestinations())

	reg.SetFixedLocators([]locator.Locator{locator.NewUDPv4(net.ParseIP("10.0.0.9"), 7400)})
	assert.True(t, reg.HasDestinations())
}

func TestStatefulRegistrySlotReuse(t *testing.T) {
	reg := NewStatefulRegistry(Attrs{Initial: 1, Maximum: 1}, nil, 0, 0)
	_, res := reg.Add(ProxyData{GUID: mkGUID(1)})
	require.Equal(t, Added, res)

	_, res = reg.Add(ProxyData{GUID: mkGUID(2)})
	assert.Equal(t, Rejected, res, "at capacity with no free slot")

	_, removed := reg.Remove(mkGUID(1))
	require.True(t, removed)

	_, res = reg.Add(ProxyData{GUID: mkGUID(2)})
	assert.Equal(t, Added, res, "freed slot should be reused without growth past Maximum")
}

func TestProxyAckNackMarksResendAndGap(t *testing.T) {
	px := NewProxy(ProxyData{GUID: mkGUID(1)}, 0, 0)
	px.AddUnsent(1, true)
	px.AddUnsent(2, true)
	px.AddUnsent(3, true)
	// SN 4 was never tracked by this proxy (e.g. evicted already).

	bits := seqnum.Bitmap{Base: 3}
	bits.Set(3)
	bits.Set(4)

	resend, gap := px.ProcessAckNack(3, bits)
	assert.Equal(t, []seqnum.SequenceNumber{3}, resend)
	assert.Equal(t, []seqnum.SequenceNumber{4}, gap)

	st, _ := px.Status(1)
	assert.Equal(t, Acknowledged, st)
	st, _ = px.Status(2)
	assert.Equal(t, Acknowledged, st)
	st, _ = px.Status(3)
	assert.Equal(t, Requested, st)

	assert.EqualValues(t, 2, px.HighestAcked())
}

func TestProxyHeartbeatCountStrictlyIncreasing(t *testing.T) {
	px := NewProxy(ProxyData{GUID: mkGUID(1)}, 0, 0)
	a := px.NextHeartbeatCount()
	b := px.NextHeartbeatCount()
	assert.Less(t, a, b)
}

func TestProxyNackSuppression(t *testing.T) {
	px := NewProxy(ProxyData{GUID: mkGUID(1)}, 100*time.Millisecond, 50*time.Millisecond)
	now := time.Now()
	px.BeginNackSuppression(now)

	assert.True(t, px.SuppressingNacks(now.Add(50*time.Millisecond)))
	assert.False(t, px.SuppressingNacks(now.Add(200*time.Millisecond)))
}

func TestMinHighestAckedAcrossReaders(t *testing.T) {
	reg := NewStatefulRegistry(Attrs{}, nil, 0, 0)
	px1, _ := reg.Add(ProxyData{GUID: mkGUID(1)})
	px2, _ := reg.Add(ProxyData{GUID: mkGUID(2)})

	px1.AddUnsent(1, true)
	px1.ProcessAckNack(6, seqnum.Bitmap{Base: 6})
	px2.AddUnsent(1, true)
	px2.ProcessAckNack(3, seqnum.Bitmap{Base: 3})

	assert.EqualValues(t, 2, reg.MinHighestAcked())
}
