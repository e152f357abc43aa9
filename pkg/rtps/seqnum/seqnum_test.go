package seqnum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	assert.False(t, Unknown.Valid())
	assert.True(t, Min.Valid())
	assert.True(t, SequenceNumber(42).Valid())
}

func TestRangeContains(t *testing.T) {
	r := Range{Min: 3, Max: 7}
	assert.False(t, r.Contains(2))
	assert.True(t, r.Contains(3))
	assert.True(t, r.Contains(7))
	assert.False(t, r.Contains(8))

	empty := Range{Min: 5, Max: 4}
	assert.True(t, empty.Empty())
}

func TestBitmapSetAndEach(t *testing.T) {
	b := Bitmap{Base: 10}
	b.Set(10)
	b.Set(13)

	var got []SequenceNumber
	b.Each(func(sn SequenceNumber) { got = append(got, sn) })

	assert.Equal(t, []SequenceNumber{10, 13}, got)
}
