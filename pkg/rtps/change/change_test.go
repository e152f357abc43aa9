package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFragmentSplitsPayload(t *testing.T) {
	c := &CacheChange{
		Payload:       make([]byte, 10*1024),
		FragmentSize:  1024,
		FragmentCount: 10,
	}
	for i := range c.Payload {
		c.Payload[i] = byte(i % 251)
	}

	assert.True(t, c.Fragmented())
	assert.Len(t, c.Fragment(1), 1024)
	assert.Len(t, c.Fragment(10), 1024)
	assert.Nil(t, c.Fragment(11))
	assert.Nil(t, c.Fragment(0))
	assert.Equal(t, c.Payload[1024:2048], c.Fragment(2))
}

func TestNotFragmentedWhenSizeZero(t *testing.T) {
	c := &CacheChange{Payload: []byte("hello")}
	assert.False(t, c.Fragmented())
	assert.Nil(t, c.Fragment(1))
}
