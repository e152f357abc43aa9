package guid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownIsZero(t *testing.T) {
	assert.True(t, Unknown.IsUnknown())
	assert.False(t, (GUID{Entity: EntityID{1}}).IsUnknown())
}

func TestCompareOrdersByPrefixThenEntity(t *testing.T) {
	a := GUID{Prefix: Prefix{1}, Entity: EntityID{1}}
	b := GUID{Prefix: Prefix{1}, Entity: EntityID{2}}
	c := GUID{Prefix: Prefix{2}}

	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
	assert.Negative(t, b.Compare(c))
}

func TestBytesRoundTrip(t *testing.T) {
	g := GUID{Prefix: NewPrefix(), Entity: EntityIDParticipantMessageWriter}
	got := FromBytes(g.Bytes())
	assert.Equal(t, g, got)
}

func TestNewPrefixIsUnique(t *testing.T) {
	a := NewPrefix()
	b := NewPrefix()
	require.NotEqual(t, a, b)
}
