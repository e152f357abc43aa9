package writer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/flowcontrol"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/history"
	"github.com/odin-rtps/corewriter/pkg/rtps/reader"
	"github.com/odin-rtps/corewriter/pkg/rtps/seqnum"
	"github.com/odin-rtps/corewriter/pkg/rtps/wire"
)

// StatefulEngine implements reliable delivery: per-reader proxies track
// UNSENT/REQUESTED/ACKNOWLEDGED state, heartbeats solicit ACKNACKs, and a
// change is reported to the listener only once every matched reader has
// acknowledged it.
type StatefulEngine struct {
	guidv           guid.GUID
	hc              *history.Cache
	mrr             *reader.StatefulRegistry
	sender          Sender
	listener        Listener
	liveliness      LivelinessAsserter
	controllers     flowcontrol.Chain
	mode            SendMode
	maxBlockingTime time.Duration
	heartbeatPeriod time.Duration
	wake            func(deadline time.Time)
	log             *zap.Logger

	mu sync.Mutex
}

// StatefulConfig parameterizes a new StatefulEngine.
type StatefulConfig struct {
	GUID            guid.GUID
	HC              *history.Cache
	MRR             *reader.StatefulRegistry
	Sender          Sender
	Listener        Listener
	Liveliness      LivelinessAsserter
	Controllers     flowcontrol.Chain
	Mode            SendMode
	MaxBlockingTime time.Duration
	HeartbeatPeriod time.Duration
	Log             *zap.Logger
}

// NewStatefulEngine builds an engine and registers it as the HC's
// observer.
func NewStatefulEngine(cfg StatefulConfig) *StatefulEngine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	e := &StatefulEngine{
		guidv:           cfg.GUID,
		hc:              cfg.HC,
		mrr:             cfg.MRR,
		sender:          cfg.Sender,
		listener:        cfg.Listener,
		liveliness:      cfg.Liveliness,
		controllers:     cfg.Controllers,
		mode:            cfg.Mode,
		maxBlockingTime: cfg.MaxBlockingTime,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		log:             cfg.Log,
	}
	cfg.HC.SetObserver(e)
	return e
}

func (e *StatefulEngine) SetWakeFunc(fn func(deadline time.Time)) { e.wake = fn }
func (e *StatefulEngine) GUID() guid.GUID                         { return e.guidv }

// OnChangeAdded implements history.Observer: every matched reader gets a
// new UNSENT entry for this change.
func (e *StatefulEngine) OnChangeAdded(c *change.CacheChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mrr.Len() == 0 {
		if e.listener != nil {
			e.listener.OnChangeReceivedByAll(e.guidv, c.SN)
		}
		return
	}

	e.mrr.ForEach(func(px *reader.Proxy) {
		px.AddUnsent(c.SN, false)
	})

	if e.mode == Asynchronous {
		if e.wake != nil {
			e.wake(time.Now().Add(e.maxBlockingTime))
		}
		return
	}
	e.sendAllProxies(context.Background(), time.Now())
}

// MatchReader installs a newly matched reader. When its durability is
// TRANSIENT_LOCAL or higher, the entire current history is seeded as
// UNSENT and the async sender is woken.
func (e *StatefulEngine) MatchReader(data reader.ProxyData) *reader.Proxy {
	e.mu.Lock()
	defer e.mu.Unlock()

	px, _ := e.mrr.Add(data)
	if px == nil {
		return nil
	}
	if data.Durability.AtLeastTransientLocal() {
		for _, c := range e.hc.Iter() {
			px.AddUnsent(c.SN, false)
		}
		if e.wake != nil {
			e.wake(time.Now())
		}
	}
	return px
}

// UnmatchReader drains and removes a reader proxy. If it was the sole
// remaining unacknowledged holder of any change, those changes become
// eligible for removal (reported to the caller for HC.Remove).
func (e *StatefulEngine) UnmatchReader(g guid.GUID) (released []seqnum.SequenceNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	px, ok := e.mrr.Remove(g)
	if !ok {
		return nil
	}
	for _, c := range e.hc.Iter() {
		if st, tracked := px.Status(c.SN); tracked && st != reader.Acknowledged {
			if e.allOthersAcked(c.SN) {
				released = append(released, c.SN)
			}
		}
	}
	return released
}

func (e *StatefulEngine) allOthersAcked(sn seqnum.SequenceNumber) bool {
	allAcked := true
	e.mrr.ForEach(func(px *reader.Proxy) {
		if st, tracked := px.Status(sn); tracked && st != reader.Acknowledged {
			allAcked = false
		}
	})
	return allAcked
}

// ProcessAckNack applies an inbound ACKNACK from readerGUID, triggering
// resends/GAPs and, if every matched reader has now acknowledged sn,
// firing the listener.
func (e *StatefulEngine) ProcessAckNack(readerGUID guid.GUID, base seqnum.SequenceNumber, bits seqnum.Bitmap) {
	e.mu.Lock()
	defer e.mu.Unlock()

	px := e.proxyFor(readerGUID)
	if px == nil {
		return
	}
	if px.SuppressingNacks(time.Now()) {
		return
	}
	// Remember what this reader had already acknowledged so the listener
	// fires only for changes this ACKNACK newly completes.
	wasAcked := make(map[seqnum.SequenceNumber]bool)
	for _, c := range e.hc.Iter() {
		if st, tracked := px.Status(c.SN); tracked && st == reader.Acknowledged {
			wasAcked[c.SN] = true
		}
	}
	resend, gap := px.ProcessAckNack(base, bits)

	for _, sn := range gap {
		e.sendGap(readerGUID, sn, sn, wire.GapIrrelevant)
	}
	for _, sn := range resend {
		if c, ok := e.hc.Get(sn); ok {
			e.sendDataTo(readerGUID, c, seqnum.FirstFragment)
			px.MarkUnderway(sn)
		}
	}

	for _, c := range e.hc.Iter() {
		if st, tracked := px.Status(c.SN); tracked && st == reader.Acknowledged && !wasAcked[c.SN] {
			if e.allAcked(c.SN) {
				if e.listener != nil {
					e.listener.OnChangeReceivedByAll(e.guidv, c.SN)
				}
			}
		}
	}
}

func (e *StatefulEngine) allAcked(sn seqnum.SequenceNumber) bool {
	all := true
	e.mrr.ForEach(func(px *reader.Proxy) {
		if st, tracked := px.Status(sn); !tracked || st != reader.Acknowledged {
			all = false
		}
	})
	return all
}

// ProcessNackFrag applies an inbound NACKFRAG.
func (e *StatefulEngine) ProcessNackFrag(readerGUID guid.GUID, sn seqnum.SequenceNumber, fragBits []seqnum.FragmentNumber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if px := e.proxyFor(readerGUID); px != nil {
		px.ProcessNackFrag(sn, fragBits)
	}
}

func (e *StatefulEngine) proxyFor(g guid.GUID) *reader.Proxy {
	px, _ := e.mrr.Get(g)
	return px
}

// SendAnyUnsentChanges is the async-sender entry point. It sends pending
// DATA/DATA_FRAG for every proxy, emits due heartbeats, and returns the
// next wake deadline.
func (e *StatefulEngine) SendAnyUnsentChanges(ctx context.Context, now time.Time) (nextDeadline time.Time, hasWork bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sendAllProxies(ctx, now)
	e.emitHeartbeats(now)

	if e.mrr.Len() == 0 {
		return time.Time{}, false
	}
	if e.heartbeatPeriod <= 0 {
		return time.Time{}, false
	}
	return now.Add(e.heartbeatPeriod), true
}

func (e *StatefulEngine) sendAllProxies(ctx context.Context, now time.Time) {
	e.mrr.ForEach(func(px *reader.Proxy) {
		for _, sn := range px.Pending() {
			c, ok := e.hc.Get(sn)
			if !ok {
				e.sendGap(px.GUID, sn, sn, wire.GapEvicted)
				px.Drop(sn)
				continue
			}
			items := make([]flowcontrol.Item, 0, 1)
			r := px.GUID
			items = append(items, flowcontrol.Item{Change: c, Fragment: seqnum.FirstFragment, Reader: &r})
			coll := &flowcontrol.Collector{Items: items}
			e.controllers.Apply(coll, now)
			for _, it := range coll.Items {
				e.sendDataTo(px.GUID, it.Change, it.Fragment)
				e.controllers.NotifySent(it, now)
				px.MarkUnderway(sn)
			}
		}
	})
	if e.liveliness != nil {
		e.liveliness.AssertWriterLiveliness(e.guidv, now)
	}
}

func (e *StatefulEngine) emitHeartbeats(now time.Time) {
	if e.heartbeatPeriod <= 0 {
		return
	}
	e.mrr.ForEach(func(px *reader.Proxy) {
		hb := wire.Heartbeat{
			Header:  wire.Header{WriterGUID: e.guidv, ReaderGUID: px.GUID},
			FirstSN: e.hc.MinSN(),
			LastSN:  e.hc.MaxSN(),
			Count:   px.NextHeartbeatCount(),
			Final:   false,
		}
		payload := wire.EncodeHeartbeat(hb)
		e.sendBytesTo(px.GUID, payload)
		px.BeginNackSuppression(now)
	})
}

func (e *StatefulEngine) sendDataTo(readerGUID guid.GUID, c *change.CacheChange, frag seqnum.FragmentNumber) {
	it := flowcontrol.Item{Change: c, Fragment: frag}
	payload := encodeItem(e.guidv, readerGUID, it)
	e.sendBytesTo(readerGUID, payload)
}

func (e *StatefulEngine) sendGap(readerGUID guid.GUID, start, end seqnum.SequenceNumber, reason wire.GapReason) {
	payload := wire.EncodeGap(wire.Gap{
		Header:   wire.Header{WriterGUID: e.guidv, ReaderGUID: readerGUID},
		GapStart: start,
		GapList:  seqnum.Bitmap{Base: end + 1},
		Reason:   reason,
	})
	e.sendBytesTo(readerGUID, payload)
}

func (e *StatefulEngine) sendBytesTo(readerGUID guid.GUID, payload []byte) {
	deadline := time.Now().Add(e.maxBlockingTime)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	for _, loc := range e.mrr.Selector().Restrict([][16]byte{readerGUID.Bytes()}) {
		if _, err := e.sender.Send(ctx, payload, loc, deadline); err != nil {
			e.log.Warn("stateful send failed", zap.String("reader", readerGUID.String()), zap.Error(err))
		}
	}
}

// RemovalHorizon returns the HC-safe removal horizon: the minimum, over
// every matched reader, of its highest-acknowledged SN. Changes with
// SN <= horizon are eligible for removal subject to durability QoS.
func (e *StatefulEngine) RemovalHorizon() seqnum.SequenceNumber {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mrr.MinHighestAcked()
}
