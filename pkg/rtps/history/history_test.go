package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

type countingObserver struct {
	notified []seqnum.SequenceNumber
}

func (o *countingObserver) OnChangeAdded(c *change.CacheChange) {
	o.notified = append(o.notified, c.SN)
}

func TestAddAssignsMonotonicSN(t *testing.T) {
	obs := &countingObserver{}
	c := New(Attributes{History: KeepAll}, obs)

	sn1, reason := c.Add(&change.CacheChange{Payload: []byte("a")})
	require.Equal(t, NoReject, reason)
	assert.EqualValues(t, 1, sn1)

	sn2, reason := c.Add(&change.CacheChange{Payload: []byte("b")})
	require.Equal(t, NoReject, reason)
	assert.EqualValues(t, 2, sn2)

	assert.Equal(t, []seqnum.SequenceNumber{1, 2}, obs.notified)
	assert.EqualValues(t, 1, c.MinSN())
	assert.EqualValues(t, 2, c.MaxSN())
}

func TestKeepLastEvictsOldestForInstance(t *testing.T) {
	c := New(Attributes{History: KeepLast, Depth: 2}, nil)
	inst := change.InstanceHandle{1}

	sn1, _ := c.Add(&change.CacheChange{Instance: inst})
	sn2, _ := c.Add(&change.CacheChange{Instance: inst})
	sn3, _ := c.Add(&change.CacheChange{Instance: inst})

	assert.Equal(t, 2, c.Size())
	_, ok := c.Get(sn1)
	assert.False(t, ok, "oldest sample for the instance should have been evicted")
	_, ok = c.Get(sn2)
	assert.True(t, ok)
	_, ok = c.Get(sn3)
	assert.True(t, ok)
}

func TestKeepAllRejectsOnResourceLimit(t *testing.T) {
	c := New(Attributes{History: KeepAll, MaxSamplesPerInstance: 1}, nil)
	inst := change.InstanceHandle{1}

	_, reason := c.Add(&change.CacheChange{Instance: inst})
	require.Equal(t, NoReject, reason)

	_, reason = c.Add(&change.CacheChange{Instance: inst})
	assert.Equal(t, ResourceLimitExceeded, reason)
}

func TestMaxInstancesRejectsNewInstance(t *testing.T) {
	c := New(Attributes{History: KeepAll, MaxInstances: 1}, nil)
	instA := change.InstanceHandle{1}
	instB := change.InstanceHandle{2}

	_, reason := c.Add(&change.CacheChange{Instance: instA})
	require.Equal(t, NoReject, reason)

	_, reason = c.Add(&change.CacheChange{Instance: instB})
	assert.Equal(t, ResourceLimitExceeded, reason)
}

func TestRemove(t *testing.T) {
	c := New(Attributes{History: KeepAll}, nil)
	sn, _ := c.Add(&change.CacheChange{})
	assert.True(t, c.Remove(sn))
	assert.False(t, c.Remove(sn))
	assert.Equal(t, 0, c.Size())
}

func TestIterReturnsDefensiveCopy(t *testing.T) {
	c := New(Attributes{History: KeepAll}, nil)
	c.Add(&change.CacheChange{})
	first := c.Iter()
	c.Add(&change.CacheChange{})
	assert.Len(t, first, 1, "earlier Iter() snapshot must not observe later Add")
}

func TestClearDiscardsHeldChangesWithoutResettingSN(t *testing.T) {
	c := New(Attributes{History: KeepAll}, nil)
	c.Add(&change.CacheChange{Instance: change.InstanceHandle{1}})
	c.Add(&change.CacheChange{Instance: change.InstanceHandle{1}})

	c.Clear()

	assert.Equal(t, 0, c.Size())
	assert.Empty(t, c.Iter())

	sn, reason := c.Add(&change.CacheChange{Instance: change.InstanceHandle{1}})
	assert.Equal(t, NoReject, reason)
	assert.EqualValues(t, 3, sn, "nextSN must not reset across Clear")
}
