package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/durability"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

func mkGUID(b byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{b}, Entity: guid.EntityID{1}}
}

func TestPutGetRemoveRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	w := mkGUID(1)
	c := &change.CacheChange{WriterGUID: w, SN: 7, Payload: []byte("hi"), SourceTime: time.Now()}
	require.NoError(t, s.Put(ctx, c))

	got, err := s.Get(ctx, w, 7)
	require.NoError(t, err)
	assert.Equal(t, c.Payload, got.Payload)
	assert.EqualValues(t, 7, got.SN)

	require.NoError(t, s.Remove(ctx, w, 7))
	_, err = s.Get(ctx, w, 7)
	assert.ErrorIs(t, err, durability.ErrNotFound)
}

func TestIterateVisitsOnlyMatchingWriterInOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	w1, w2 := mkGUID(1), mkGUID(2)
	for _, sn := range []seqnum.SequenceNumber{3, 1, 2} {
		require.NoError(t, s.Put(ctx, &change.CacheChange{WriterGUID: w1, SN: sn, Payload: []byte("a")}))
	}
	require.NoError(t, s.Put(ctx, &change.CacheChange{WriterGUID: w2, SN: 1, Payload: []byte("b")}))

	var seen []int64
	require.NoError(t, s.Iterate(ctx, w1, func(c *change.CacheChange) bool {
		seen = append(seen, int64(c.SN))
		return true
	}))
	assert.Equal(t, []int64{1, 2, 3}, seen)
}
