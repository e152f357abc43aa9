// Package writer implements the stateless (best-effort) and stateful
// (reliable) delivery engines that sit behind a HistoryCache and drive
// submessages onto a Transport.
package writer

import (
	"context"
	"time"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/flowcontrol"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/history"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
	"github.com/odin-rtps/corewriter/pkg/rtps/wire"
)

// SendMode picks synchronous (send-on-submit) or asynchronous
// (enqueue-for-the-async-sender) delivery for a writer.
type SendMode int

const (
	Synchronous SendMode = iota
	Asynchronous
)

// SendingMode picks between one message group per send targeting every
// selected locator (Combined) or one group per matched reader (Separate,
// which allows per-reader inline QoS).
type SendingMode int

const (
	Combined SendingMode = iota
	Separate
)

// Listener is invoked once per change: for a stateless writer, once it
// has been dispatched; for a stateful writer, once every matched reader
// has acknowledged it.
type Listener interface {
	OnChangeReceivedByAll(writerGUID guid.GUID, sn seqnum.SequenceNumber)
}

// LivelinessAsserter is called by an engine on every successful
// synchronous send, matching the "a successful synchronous send asserts
// liveliness true for the writer" rule. Implemented by wlp.Protocol.
type LivelinessAsserter interface {
	AssertWriterLiveliness(w guid.GUID, now time.Time)
}

// Sender abstracts the transport's send call so engines don't import
// transport directly in their exported signatures beyond this.
type Sender interface {
	Send(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (sendOK bool, err error)
}

// transportAdapter narrows a full transport.Transport down to Sender,
// translating its three-way SendResult into the bool engines need.
type transportAdapter struct {
	send func(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (bool, error)
}

func (a transportAdapter) Send(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (bool, error) {
	return a.send(ctx, payload, l, deadline)
}

// NewSender adapts a transport-shaped Send function (as implemented by
// transport.Transport) to the Sender interface this package consumes.
func NewSender(send func(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (bool, error)) Sender {
	return transportAdapter{send: send}
}

// fragmentsOf returns every fragment number a change must be split into:
// {seqnum.FirstFragment} for an unfragmented change, or 1..FragmentCount
// otherwise.
func fragmentsOf(c *change.CacheChange) []seqnum.FragmentNumber {
	if !c.Fragmented() {
		return []seqnum.FragmentNumber{seqnum.FirstFragment}
	}
	out := make([]seqnum.FragmentNumber, c.FragmentCount)
	for i := range out {
		out[i] = seqnum.FragmentNumber(i + 1)
	}
	return out
}

// encodeItem turns one flowcontrol.Item into wire bytes addressed to
// reader (guid.Unknown for a combined send targeting every reader).
func encodeItem(writerGUID guid.GUID, reader guid.GUID, it flowcontrol.Item) []byte {
	c := it.Change
	if !c.Fragmented() {
		return wire.EncodeData(wire.Data{
			Header:     wire.Header{WriterGUID: writerGUID, ReaderGUID: reader},
			SN:         c.SN,
			ChangeKind: c.Kind,
			Instance:   c.Instance,
			InlineQoS:  c.InlineQoS,
			Payload:    c.Payload,
		})
	}
	return wire.EncodeDataFrag(wire.DataFrag{
		Header:         wire.Header{WriterGUID: writerGUID, ReaderGUID: reader},
		SN:             c.SN,
		FragmentNumber: it.Fragment,
		FragmentSize:   c.FragmentSize,
		SampleSize:     uint32(len(c.Payload)),
		FragmentData:   c.Fragment(it.Fragment),
	})
}

// history.Observer is satisfied by both engines via OnChangeAdded.
var _ history.Observer = (*StatelessEngine)(nil)
