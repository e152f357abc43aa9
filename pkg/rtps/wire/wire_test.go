package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

func mkGUID(b byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{b}, Entity: guid.EntityID{1}}
}

func TestDataRoundTrip(t *testing.T) {
	d := Data{
		Header:    Header{WriterGUID: mkGUID(1), ReaderGUID: mkGUID(2)},
		SN:        42,
		ChangeKind:     change.Alive,
		InlineQoS: []byte("qos"),
		Payload:   []byte("hello world"),
	}
	b1 := EncodeData(d)
	got, err := DecodeData(b1)
	require.NoError(t, err)
	b2 := EncodeData(got)
	assert.Equal(t, b1, b2, "serialize -> parse -> serialize must be byte-identical")
	assert.Equal(t, d.SN, got.SN)
	assert.Equal(t, d.Payload, got.Payload)
	assert.Equal(t, d.InlineQoS, got.InlineQoS)
}

func TestDataFragRoundTrip(t *testing.T) {
	f := DataFrag{
		Header:         Header{WriterGUID: mkGUID(1)},
		SN:             7,
		FragmentNumber: 3,
		FragmentSize:   1024,
		SampleSize:     10240,
		FragmentData:   make([]byte, 1024),
	}
	b1 := EncodeDataFrag(f)
	got, err := DecodeDataFrag(b1)
	require.NoError(t, err)
	assert.Equal(t, b1, EncodeDataFrag(got))
	assert.EqualValues(t, 3, got.FragmentNumber)
}

func TestGapRoundTrip(t *testing.T) {
	bm := seqnum.Bitmap{Base: 5}
	bm.Set(5)
	bm.Set(7)
	g := Gap{
		Header:   Header{WriterGUID: mkGUID(1), ReaderGUID: mkGUID(2)},
		GapStart: 5,
		GapList:  bm,
		Reason:   GapEvicted,
	}
	b1 := EncodeGap(g)
	got, err := DecodeGap(b1)
	require.NoError(t, err)
	assert.Equal(t, b1, EncodeGap(got))
	assert.Equal(t, GapEvicted, got.Reason)
	var hits []seqnum.SequenceNumber
	got.GapList.Each(func(sn seqnum.SequenceNumber) { hits = append(hits, sn) })
	assert.Equal(t, []seqnum.SequenceNumber{5, 7}, hits)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	hb := Heartbeat{
		Header:  Header{WriterGUID: mkGUID(1)},
		FirstSN: 1,
		LastSN:  9,
		Count:   3,
		Final:   true,
	}
	b1 := EncodeHeartbeat(hb)
	got, err := DecodeHeartbeat(b1)
	require.NoError(t, err)
	assert.Equal(t, b1, EncodeHeartbeat(got))
	assert.True(t, got.Final)
	assert.False(t, got.Liveliness)
}

func TestAckNackRoundTrip(t *testing.T) {
	bm := seqnum.Bitmap{Base: 3}
	bm.Set(3)
	bm.Set(4)
	an := AckNack{
		Header: Header{WriterGUID: mkGUID(1), ReaderGUID: mkGUID(2)},
		Base:   3,
		Bits:   bm,
		Count:  1,
	}
	b1 := EncodeAckNack(an)
	got, err := DecodeAckNack(b1)
	require.NoError(t, err)
	assert.Equal(t, b1, EncodeAckNack(got))
}

func TestNackFragRoundTrip(t *testing.T) {
	nf := NackFrag{
		Header:   Header{WriterGUID: mkGUID(1)},
		SN:       10,
		FragBase: 1,
		Bits:     []bool{true, false, true},
		Count:    2,
	}
	b1 := EncodeNackFrag(nf)
	got, err := DecodeNackFrag(b1)
	require.NoError(t, err)
	assert.Equal(t, b1, EncodeNackFrag(got))
	assert.Equal(t, nf.Bits, got.Bits)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	d := Data{Header: Header{WriterGUID: mkGUID(1)}, SN: 1}
	b := EncodeData(d)
	_, err := DecodeGap(b)
	assert.ErrorIs(t, err, ErrBadKind)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := DecodeData([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
}
