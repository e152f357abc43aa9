package flowcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

func mkItem(n int) Item {
	return Item{Change: &change.CacheChange{
		WriterGUID: guid.GUID{},
		Payload:    make([]byte, n),
	}}
}

func TestThroughputAdmitsWithinBudget(t *testing.T) {
	th := NewThroughput(1000, 1000)
	c := &Collector{Items: []Item{mkItem(100), mkItem(100)}}
	now := time.Now()
	deadline := th.Apply(c, now)
	assert.True(t, deadline.IsZero())
	assert.Len(t, c.Items, 2)
}

func TestThroughputDefersPastBudget(t *testing.T) {
	th := NewThroughput(100, 100)
	c := &Collector{Items: []Item{mkItem(50), mkItem(50), mkItem(50)}}
	now := time.Now()
	deadline := th.Apply(c, now)
	require.False(t, deadline.IsZero())
	assert.Len(t, c.Items, 2, "third item should have been deferred past the burst budget")
	assert.True(t, deadline.After(now))
}

func TestChainAppliesInOrderAndTakesNearestDeadline(t *testing.T) {
	tight := NewThroughput(10, 10)
	loose := NewThroughput(1_000_000, 1_000_000)
	ch := Chain{Controllers: []Controller{tight, loose}}

	c := &Collector{Items: []Item{mkItem(5), mkItem(5), mkItem(5)}}
	now := time.Now()
	deadline := ch.Apply(c, now)
	assert.False(t, deadline.IsZero())
}

func TestCollectorTake(t *testing.T) {
	c := &Collector{Items: []Item{mkItem(1), mkItem(2), mkItem(3)}}
	taken := c.Take(1)
	assert.Equal(t, 2, taken.Bytes())
	assert.Len(t, c.Items, 2)
}
