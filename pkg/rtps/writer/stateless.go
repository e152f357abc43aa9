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
)

// StatelessEngine implements best-effort delivery: on change-added it
// sends immediately (synchronous writer) or enqueues for the async
// sender, with no per-reader acknowledgment tracking.
type StatelessEngine struct {
	guidv           guid.GUID
	hc              *history.Cache
	mrr             *reader.StatelessRegistry
	sender          Sender
	listener        Listener
	liveliness      LivelinessAsserter
	controllers     flowcontrol.Chain
	mode            SendMode
	sendingMode     SendingMode
	maxBlockingTime time.Duration
	wake            func(deadline time.Time)
	log             *zap.Logger

	mu     sync.Mutex
	unsent map[seqnum.SequenceNumber]map[seqnum.FragmentNumber]bool
	order  []seqnum.SequenceNumber
}

// StatelessConfig parameterizes a new StatelessEngine.
type StatelessConfig struct {
	GUID            guid.GUID
	HC              *history.Cache
	MRR             *reader.StatelessRegistry
	Sender          Sender
	Listener        Listener
	Liveliness      LivelinessAsserter
	Controllers     flowcontrol.Chain
	Mode            SendMode
	SendingMode     SendingMode
	MaxBlockingTime time.Duration
	Log             *zap.Logger
}

// NewStatelessEngine builds an engine and registers it as the HC's
// observer.
func NewStatelessEngine(cfg StatelessConfig) *StatelessEngine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	e := &StatelessEngine{
		guidv:           cfg.GUID,
		hc:              cfg.HC,
		mrr:             cfg.MRR,
		sender:          cfg.Sender,
		listener:        cfg.Listener,
		liveliness:      cfg.Liveliness,
		controllers:     cfg.Controllers,
		mode:            cfg.Mode,
		sendingMode:     cfg.SendingMode,
		maxBlockingTime: cfg.MaxBlockingTime,
		log:             cfg.Log,
		unsent:          make(map[seqnum.SequenceNumber]map[seqnum.FragmentNumber]bool),
	}
	cfg.HC.SetObserver(e)
	return e
}

// SetWakeFunc wires the async sender's wake_up hook; called once by
// whatever registers this engine with the async sender.
func (e *StatelessEngine) SetWakeFunc(fn func(deadline time.Time)) { e.wake = fn }

// GUID identifies the writer this engine belongs to.
func (e *StatelessEngine) GUID() guid.GUID { return e.guidv }

// OnChangeAdded implements history.Observer.
func (e *StatelessEngine) OnChangeAdded(c *change.CacheChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.mrr.HasDestinations() {
		e.fireListener(c.SN)
		return
	}

	if e.mode == Asynchronous {
		e.enqueue(c)
		if e.wake != nil {
			e.wake(time.Now().Add(e.maxBlockingTime))
		}
		return
	}

	e.sendSync(c)
}

func (e *StatelessEngine) fireListener(sn seqnum.SequenceNumber) {
	if e.listener != nil {
		e.listener.OnChangeReceivedByAll(e.guidv, sn)
	}
}

func (e *StatelessEngine) enqueue(c *change.CacheChange) {
	if _, exists := e.unsent[c.SN]; exists {
		return
	}
	frags := make(map[seqnum.FragmentNumber]bool)
	for _, fn := range fragmentsOf(c) {
		frags[fn] = true
	}
	e.unsent[c.SN] = frags
	e.order = append(e.order, c.SN)
}

func (e *StatelessEngine) sendSync(c *change.CacheChange) {
	items := make([]flowcontrol.Item, 0, len(fragmentsOf(c)))
	for _, fn := range fragmentsOf(c) {
		items = append(items, flowcontrol.Item{Change: c, Fragment: fn})
	}
	coll := &flowcontrol.Collector{Items: items}
	now := time.Now()
	e.controllers.Apply(coll, now)

	sentAny := false
	for _, it := range coll.Items {
		if e.dispatch(it) {
			sentAny = true
			e.controllers.NotifySent(it, now)
		}
	}
	if sentAny {
		if e.liveliness != nil {
			e.liveliness.AssertWriterLiveliness(e.guidv, now)
		}
		e.fireListener(c.SN)
	}
}

// dispatch sends one item to every currently selected locator (combined
// mode) or once per matched reader (separate mode). Returns whether at
// least one send succeeded.
func (e *StatelessEngine) dispatch(it flowcontrol.Item) bool {
	deadline := time.Now().Add(e.maxBlockingTime)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	ok := false
	if e.sendingMode == Combined {
		payload := encodeItem(e.guidv, guid.Unknown, it)
		for _, loc := range e.mrr.Selector().All() {
			sok, err := e.sender.Send(ctx, payload, loc, deadline)
			if err != nil {
				e.log.Warn("stateless send failed", zap.String("locator", loc.String()), zap.Error(err))
				continue
			}
			ok = ok || sok
		}
		return ok
	}

	var sendErr error
	e.mrr.ForEach(func(mr *reader.MatchedReader) {
		payload := encodeItem(e.guidv, mr.GUID, it)
		for _, loc := range e.mrr.Selector().Restrict([][16]byte{mr.GUID.Bytes()}) {
			sok, err := e.sender.Send(ctx, payload, loc, deadline)
			if err != nil {
				sendErr = err
				continue
			}
			ok = ok || sok
		}
	})
	if sendErr != nil {
		e.log.Warn("stateless separate send failed", zap.Error(sendErr))
	}
	return ok
}

// SendAnyUnsentChanges is the async-sender entry point: it drains
// whatever is in unsent subject to flow control, and reports whether
// there is more work plus when to be woken again.
func (e *StatelessEngine) SendAnyUnsentChanges(ctx context.Context, now time.Time) (nextDeadline time.Time, hasWork bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var items []flowcontrol.Item
	for _, sn := range e.order {
		frags, ok := e.unsent[sn]
		if !ok || len(frags) == 0 {
			continue
		}
		c, found := e.hc.Get(sn)
		if !found {
			delete(e.unsent, sn)
			continue
		}
		for fn := range frags {
			items = append(items, flowcontrol.Item{Change: c, Fragment: fn})
		}
	}
	coll := &flowcontrol.Collector{Items: items}
	deadline := e.controllers.Apply(coll, now)

	sentLiveliness := false
	for _, it := range coll.Items {
		if e.dispatch(it) {
			e.controllers.NotifySent(it, now)
			sentLiveliness = true
			frags := e.unsent[it.Change.SN]
			delete(frags, it.Fragment)
			if len(frags) == 0 {
				delete(e.unsent, it.Change.SN)
				e.fireListener(it.Change.SN)
			}
		}
	}
	if sentLiveliness && e.liveliness != nil {
		e.liveliness.AssertWriterLiveliness(e.guidv, now)
	}

	e.compactOrder()
	if len(e.order) == 0 {
		return time.Time{}, false
	}
	if deadline.IsZero() {
		return now, true
	}
	return deadline, true
}

func (e *StatelessEngine) compactOrder() {
	out := e.order[:0]
	for _, sn := range e.order {
		if frags, ok := e.unsent[sn]; ok && len(frags) > 0 {
			out = append(out, sn)
		}
	}
	e.order = out
}
