package writer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/flowcontrol"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/history"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
	"github.com/odin-rtps/corewriter/pkg/rtps/reader"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
	"github.com/odin-rtps/corewriter/pkg/rtps/transport"
	"github.com/odin-rtps/corewriter/pkg/rtps/wire"
)

// loopbackSender adapts transport.Loopback to the writer.Sender interface.
type loopbackSender struct{ lb *transport.Loopback }

func (s loopbackSender) Send(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (bool, error) {
	res, err := s.lb.Send(ctx, payload, l, deadline)
	return res == transport.SendOK, err
}

type recordingListener struct{ fired []seqnum.SequenceNumber }

func (r *recordingListener) OnChangeReceivedByAll(_ guid.GUID, sn seqnum.SequenceNumber) {
	r.fired = append(r.fired, sn)
}

type noopLiveliness struct{}

func (noopLiveliness) AssertWriterLiveliness(guid.GUID, time.Time) {}

func mkGUID(b byte) guid.GUID {
	return guid.GUID{Prefix: guid.Prefix{b}, Entity: guid.EntityID{1}}
}

func TestStatelessSyncCombinedSendFiresListener(t *testing.T) {
	lb := transport.NewLoopback()
	writerGUID := mkGUID(1)
	readerGUID := mkGUID(2)

	var captured []byte
	readerEntity := readerGUID.Entity
	lb.RegisterReceiver(readerEntity, func(payload []byte, from locator.Locator) {
		captured = payload
	})

	mrr := reader.NewStatelessRegistry(reader.Attrs{Initial: 2}, nil)
	loc := locator.NewUDPv4(net.ParseIP("10.0.0.1"), 7400)
	copy(loc.Address[12:16], readerEntity[:])
	mrr.Add(reader.ProxyData{GUID: readerGUID, UnicastLocators: []locator.Locator{loc}})

	listener := &recordingListener{}
	hc := history.New(history.Attributes{History: history.KeepAll}, nil)
	engine := NewStatelessEngine(StatelessConfig{
		GUID:            writerGUID,
		HC:              hc,
		MRR:             mrr,
		Sender:          loopbackSender{lb: lb},
		Listener:        listener,
		Liveliness:      noopLiveliness{},
		Mode:            Synchronous,
		SendingMode:     Combined,
		MaxBlockingTime: 50 * time.Millisecond,
	})
	_ = engine

	hc.Add(&change.CacheChange{WriterGUID: writerGUID, Payload: []byte("hello")})

	require.Len(t, listener.fired, 1)
	assert.EqualValues(t, 1, listener.fired[0])
	require.NotNil(t, captured)
	d, err := wire.DecodeData(captured)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.Payload)
}

func TestStatelessNoDestinationsAcksImmediately(t *testing.T) {
	mrr := reader.NewStatelessRegistry(reader.Attrs{}, nil)
	listener := &recordingListener{}
	hc := history.New(history.Attributes{History: history.KeepAll}, nil)
	NewStatelessEngine(StatelessConfig{
		GUID:     mkGUID(1),
		HC:       hc,
		MRR:      mrr,
		Mode:     Synchronous,
		Listener: listener,
	})

	hc.Add(&change.CacheChange{Payload: []byte("x")})
	require.Len(t, listener.fired, 1)
}

func TestStatelessAsyncEnqueuesAndDrains(t *testing.T) {
	lb := transport.NewLoopback()
	writerGUID := mkGUID(1)
	readerGUID := mkGUID(2)
	readerEntity := readerGUID.Entity

	delivered := make(chan struct{}, 10)
	lb.RegisterReceiver(readerEntity, func(payload []byte, from locator.Locator) {
		delivered <- struct{}{}
	})

	mrr := reader.NewStatelessRegistry(reader.Attrs{Initial: 1}, nil)
	loc := locator.NewUDPv4(net.ParseIP("10.0.0.5"), 7400)
	copy(loc.Address[12:16], readerEntity[:])
	mrr.Add(reader.ProxyData{GUID: readerGUID, UnicastLocators: []locator.Locator{loc}})

	hc := history.New(history.Attributes{History: history.KeepAll}, nil)
	var wokenAt time.Time
	engine := NewStatelessEngine(StatelessConfig{
		GUID:            writerGUID,
		HC:              hc,
		MRR:             mrr,
		Sender:          loopbackSender{lb: lb},
		Mode:            Asynchronous,
		SendingMode:     Combined,
		MaxBlockingTime: 50 * time.Millisecond,
	})
	engine.SetWakeFunc(func(d time.Time) { wokenAt = d })

	hc.Add(&change.CacheChange{WriterGUID: writerGUID, Payload: []byte("async")})
	assert.False(t, wokenAt.IsZero(), "async enqueue should wake the sender")

	deadline, hasWork := engine.SendAnyUnsentChanges(context.Background(), time.Now())
	assert.False(t, hasWork)
	assert.True(t, deadline.IsZero())

	select {
	case <-delivered:
	default:
		t.Fatal("expected one delivery from the drain pass")
	}
}

func TestStatefulEngineReliableResendOnAckNack(t *testing.T) {
	lb := transport.NewLoopback()
	writerGUID := mkGUID(1)
	readerGUID := mkGUID(2)
	readerEntity := readerGUID.Entity

	var receivedPayloads [][]byte
	lb.RegisterReceiver(readerEntity, func(payload []byte, from locator.Locator) {
		receivedPayloads = append(receivedPayloads, payload)
	})

	mrr := reader.NewStatefulRegistry(reader.Attrs{Initial: 1}, nil, 0, 0)
	loc := locator.NewUDPv4(net.ParseIP("10.0.0.9"), 7400)
	copy(loc.Address[12:16], readerEntity[:])

	hc := history.New(history.Attributes{History: history.KeepAll}, nil)
	listener := &recordingListener{}
	engine := NewStatefulEngine(StatefulConfig{
		GUID:            writerGUID,
		HC:              hc,
		MRR:             mrr,
		Sender:          loopbackSender{lb: lb},
		Listener:        listener,
		Liveliness:      noopLiveliness{},
		Mode:            Synchronous,
		MaxBlockingTime: 50 * time.Millisecond,
		Controllers:     flowcontrol.Chain{},
	})

	px := engine.MatchReader(reader.ProxyData{GUID: readerGUID, UnicastLocators: []locator.Locator{loc}, Reliability: reader.Reliable})
	require.NotNil(t, px)

	for i := 0; i < 3; i++ {
		hc.Add(&change.CacheChange{WriterGUID: writerGUID, Payload: []byte("data")})
	}
	assert.Len(t, receivedPayloads, 3)

	bits := seqnum.Bitmap{Base: 1}
	bits.Set(3)
	engine.ProcessAckNack(readerGUID, 1, bits)

	assert.Len(t, receivedPayloads, 4, "requested SN 3 should have been resent")

	bits2 := seqnum.Bitmap{Base: 4}
	engine.ProcessAckNack(readerGUID, 4, bits2)
	assert.Len(t, listener.fired, 3, "all three changes should now be reported delivered")
}
