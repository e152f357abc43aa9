// Package wire turns CacheChanges and reader-proxy state into RTPS
// submessage bytes and back. Encoding is little-endian throughout,
// matching the common RTPS PL_CDR_LE convention; every Encode has a
// matching Decode and round-trips byte-identically.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
)

// Kind identifies a submessage type on the wire.
type Kind byte

const (
	KindData Kind = iota + 1
	KindDataFrag
	KindGap
	KindHeartbeat
	KindAckNack
	KindNackFrag
)

var ErrShortBuffer = errors.New("wire: buffer too short")
var ErrBadKind = errors.New("wire: unknown submessage kind")

// GapReason distinguishes why a range is missing from a reader's stream.
// The reason is encoded as its own byte in a GAP submessage and survives
// a round trip. The stateful engine sends GapIrrelevant for requested SNs
// the reader proxy no longer tracks and GapEvicted for pending SNs no
// longer held in the history cache.
type GapReason byte

const (
	GapIrrelevant GapReason = iota
	GapEvicted
)

// Header is common to every submessage: which writer it concerns and
// which reader it targets (Unknown GUID entity means "all readers", used
// by stateless/combined sends).
type Header struct {
	Kind       Kind
	WriterGUID guid.GUID
	ReaderGUID guid.GUID
}

func putGUID(b []byte, g guid.GUID) {
	gb := g.Bytes()
	copy(b, gb[:])
}

func getGUID(b []byte) guid.GUID {
	var raw [16]byte
	copy(raw[:], b)
	return guid.FromBytes(raw)
}

const headerLen = 1 + 16 + 16

func encodeHeader(h Header) []byte {
	b := make([]byte, headerLen)
	b[0] = byte(h.Kind)
	putGUID(b[1:17], h.WriterGUID)
	putGUID(b[17:33], h.ReaderGUID)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, ErrShortBuffer
	}
	return Header{
		Kind:       Kind(b[0]),
		WriterGUID: getGUID(b[1:17]),
		ReaderGUID: getGUID(b[17:33]),
	}, nil
}

// Data is the wire form of an unfragmented DATA submessage: a full
// CacheChange payload plus its identity.
type Data struct {
	Header
	SN         seqnum.SequenceNumber
	ChangeKind      change.Kind
	Instance   change.InstanceHandle
	InlineQoS  []byte
	Payload    []byte
}

// EncodeData serializes d. Layout: header, SN(8), change-kind(1),
// instance(16), inline-qos-len(4)+bytes, payload-len(4)+bytes.
func EncodeData(d Data) []byte {
	d.Header.Kind = KindData
	out := encodeHeader(d.Header)
	var sn [8]byte
	binary.LittleEndian.PutUint64(sn[:], uint64(d.SN))
	out = append(out, sn[:]...)
	out = append(out, byte(d.ChangeKind))
	out = append(out, d.Instance[:]...)
	out = append(out, lenPrefixed(d.InlineQoS)...)
	out = append(out, lenPrefixed(d.Payload)...)
	return out
}

func lenPrefixed(b []byte) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	return append(n[:], b...)
}

func readLenPrefixed(b []byte) (out, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, ErrShortBuffer
	}
	n := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, ErrShortBuffer
	}
	return b[:n], b[n:], nil
}

// DecodeData parses a DATA submessage produced by EncodeData.
func DecodeData(b []byte) (Data, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return Data{}, err
	}
	if h.Kind != KindData {
		return Data{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 8+1+16 {
		return Data{}, ErrShortBuffer
	}
	sn := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[:8]))
	b = b[8:]
	ck := change.Kind(b[0])
	b = b[1:]
	var inst change.InstanceHandle
	copy(inst[:], b[:16])
	b = b[16:]
	qos, b, err := readLenPrefixed(b)
	if err != nil {
		return Data{}, err
	}
	payload, _, err := readLenPrefixed(b)
	if err != nil {
		return Data{}, err
	}
	return Data{Header: h, SN: sn, ChangeKind: ck, Instance: inst, InlineQoS: qos, Payload: payload}, nil
}

// DataFrag is one fragment of a fragmented change.
type DataFrag struct {
	Header
	SN             seqnum.SequenceNumber
	FragmentNumber seqnum.FragmentNumber
	FragmentSize   uint32
	SampleSize     uint32
	FragmentData   []byte
}

// EncodeDataFrag serializes a single fragment.
func EncodeDataFrag(f DataFrag) []byte {
	f.Header.Kind = KindDataFrag
	out := encodeHeader(f.Header)
	var buf [8 + 4 + 4 + 4]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.SN))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(f.FragmentNumber))
	binary.LittleEndian.PutUint32(buf[12:16], f.FragmentSize)
	binary.LittleEndian.PutUint32(buf[16:20], f.SampleSize)
	out = append(out, buf[:]...)
	out = append(out, lenPrefixed(f.FragmentData)...)
	return out
}

// DecodeDataFrag parses a DATA_FRAG submessage.
func DecodeDataFrag(b []byte) (DataFrag, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return DataFrag{}, err
	}
	if h.Kind != KindDataFrag {
		return DataFrag{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 20 {
		return DataFrag{}, ErrShortBuffer
	}
	sn := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[0:8]))
	fn := seqnum.FragmentNumber(binary.LittleEndian.Uint32(b[8:12]))
	fsize := binary.LittleEndian.Uint32(b[12:16])
	ssize := binary.LittleEndian.Uint32(b[16:20])
	b = b[20:]
	data, _, err := readLenPrefixed(b)
	if err != nil {
		return DataFrag{}, err
	}
	return DataFrag{Header: h, SN: sn, FragmentNumber: fn, FragmentSize: fsize, SampleSize: ssize, FragmentData: data}, nil
}

// Gap announces that SNs in [Base, Base+len(Bits)) the bitmap marks are
// (or, if Base alone, the whole range below Base is) irrelevant or
// already evicted for the target reader.
type Gap struct {
	Header
	GapStart seqnum.SequenceNumber
	GapList  seqnum.Bitmap
	Reason   GapReason
}

// EncodeGap serializes a GAP submessage.
func EncodeGap(g Gap) []byte {
	g.Header.Kind = KindGap
	out := encodeHeader(g.Header)
	var buf [8 + 8 + 1]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(g.GapStart))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(g.GapList.Base))
	buf[16] = byte(g.Reason)
	out = append(out, buf[:]...)
	out = append(out, encodeBitmap(g.GapList)...)
	return out
}

// DecodeGap parses a GAP submessage.
func DecodeGap(b []byte) (Gap, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return Gap{}, err
	}
	if h.Kind != KindGap {
		return Gap{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 17 {
		return Gap{}, ErrShortBuffer
	}
	start := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[0:8]))
	base := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[8:16]))
	reason := GapReason(b[16])
	bits, err := decodeBitmap(b[17:], base)
	if err != nil {
		return Gap{}, err
	}
	return Gap{Header: h, GapStart: start, GapList: bits, Reason: reason}, nil
}

func encodeBitmap(bm seqnum.Bitmap) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(bm.Bits)))
	out := append([]byte{}, n[:]...)
	packed := make([]byte, (len(bm.Bits)+7)/8)
	for i, set := range bm.Bits {
		if set {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return append(out, packed...)
}

func decodeBitmap(b []byte, base seqnum.SequenceNumber) (seqnum.Bitmap, error) {
	if len(b) < 4 {
		return seqnum.Bitmap{}, ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(b[:4])
	b = b[4:]
	need := int((count + 7) / 8)
	if len(b) < need {
		return seqnum.Bitmap{}, ErrShortBuffer
	}
	bits := make([]bool, count)
	for i := range bits {
		bits[i] = b[i/8]&(1<<uint(i%8)) != 0
	}
	return seqnum.Bitmap{Base: base, Bits: bits}, nil
}

// Heartbeat summarizes a writer's currently held range to a reader.
type Heartbeat struct {
	Header
	FirstSN seqnum.SequenceNumber
	LastSN  seqnum.SequenceNumber
	Count   int32
	Final   bool
	Liveliness bool
}

// EncodeHeartbeat serializes a HEARTBEAT submessage.
func EncodeHeartbeat(hb Heartbeat) []byte {
	hb.Header.Kind = KindHeartbeat
	out := encodeHeader(hb.Header)
	var buf [8 + 8 + 4 + 1]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(hb.FirstSN))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(hb.LastSN))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(hb.Count))
	buf[20] = flagsByte(hb.Final, hb.Liveliness)
	return append(out, buf[:]...)
}

func flagsByte(a, b bool) byte {
	var f byte
	if a {
		f |= 1
	}
	if b {
		f |= 2
	}
	return f
}

// DecodeHeartbeat parses a HEARTBEAT submessage.
func DecodeHeartbeat(b []byte) (Heartbeat, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return Heartbeat{}, err
	}
	if h.Kind != KindHeartbeat {
		return Heartbeat{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 21 {
		return Heartbeat{}, ErrShortBuffer
	}
	first := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[0:8]))
	last := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[8:16]))
	count := int32(binary.LittleEndian.Uint32(b[16:20]))
	final := b[20]&1 != 0
	live := b[20]&2 != 0
	return Heartbeat{Header: h, FirstSN: first, LastSN: last, Count: count, Final: final, Liveliness: live}, nil
}

// AckNack is a reader's acknowledgment/request for retransmission.
type AckNack struct {
	Header
	Base  seqnum.SequenceNumber
	Bits  seqnum.Bitmap
	Count int32
}

// EncodeAckNack serializes an ACKNACK submessage.
func EncodeAckNack(an AckNack) []byte {
	an.Header.Kind = KindAckNack
	out := encodeHeader(an.Header)
	var buf [8 + 4]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(an.Base))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(an.Count))
	out = append(out, buf[:]...)
	out = append(out, encodeBitmap(an.Bits)...)
	return out
}

// DecodeAckNack parses an ACKNACK submessage.
func DecodeAckNack(b []byte) (AckNack, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return AckNack{}, err
	}
	if h.Kind != KindAckNack {
		return AckNack{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 12 {
		return AckNack{}, ErrShortBuffer
	}
	base := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[0:8]))
	count := int32(binary.LittleEndian.Uint32(b[8:12]))
	bits, err := decodeBitmap(b[12:], base)
	if err != nil {
		return AckNack{}, err
	}
	return AckNack{Header: h, Base: base, Count: count, Bits: bits}, nil
}

// NackFrag requests retransmission of specific fragments of one SN.
type NackFrag struct {
	Header
	SN         seqnum.SequenceNumber
	FragBase   seqnum.FragmentNumber
	Bits       []bool
	Count      int32
}

// EncodeNackFrag serializes a NACKFRAG submessage.
func EncodeNackFrag(nf NackFrag) []byte {
	nf.Header.Kind = KindNackFrag
	out := encodeHeader(nf.Header)
	var buf [8 + 4 + 4]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(nf.SN))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(nf.FragBase))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(nf.Count))
	out = append(out, buf[:]...)
	out = append(out, encodeBitmap(seqnum.Bitmap{Bits: nf.Bits})...)
	return out
}

// DecodeNackFrag parses a NACKFRAG submessage.
func DecodeNackFrag(b []byte) (NackFrag, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return NackFrag{}, err
	}
	if h.Kind != KindNackFrag {
		return NackFrag{}, ErrBadKind
	}
	b = b[headerLen:]
	if len(b) < 16 {
		return NackFrag{}, ErrShortBuffer
	}
	sn := seqnum.SequenceNumber(binary.LittleEndian.Uint64(b[0:8]))
	base := seqnum.FragmentNumber(binary.LittleEndian.Uint32(b[8:12]))
	count := int32(binary.LittleEndian.Uint32(b[12:16]))
	bm, err := decodeBitmap(b[16:], 0)
	if err != nil {
		return NackFrag{}, err
	}
	return NackFrag{Header: h, SN: sn, FragBase: base, Count: count, Bits: bm.Bits}, nil
}

// PeekKind reads the submessage kind without fully decoding, used by a
// transport dispatch loop to route to the right Decode* function.
func PeekKind(b []byte) (Kind, error) {
	if len(b) < 1 {
		return 0, ErrShortBuffer
	}
	return Kind(b[0]), nil
}
