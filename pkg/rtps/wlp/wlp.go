// Package wlp implements the Writer Liveliness Protocol: periodic
// assertion of owned writers' liveliness over the built-in
// participant-message topic, and tracking of peers' asserted liveliness
// so matched-writer status can be kept current on the reader side.
//
// The periodic-assertion half follows the teacher's NATS client
// (go-server/pkg/nats/client.go): a thin wrapper owning subscriptions
// and a JSON publish/subscribe convention, reused here for the
// participant-message topic instead of price/trade messages.
package wlp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

// Kind is a writer's liveliness category.
type Kind int

const (
	Automatic Kind = iota
	ManualByParticipant
	ManualByTopic
)

func (k Kind) String() string {
	switch k {
	case Automatic:
		return "AUTOMATIC"
	case ManualByParticipant:
		return "MANUAL_BY_PARTICIPANT"
	case ManualByTopic:
		return "MANUAL_BY_TOPIC"
	default:
		return "UNKNOWN"
	}
}

// Bus is the narrow publish/subscribe capability the protocol needs
// from a message bus. Satisfied by NatsBus.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func([]byte)) error
	Close() error
}

// ParticipantMessageSubject names the built-in topic a participant
// publishes its writer liveliness assertions on.
func ParticipantMessageSubject(prefix guid.Prefix) string {
	return fmt.Sprintf("rtps.participant-message.%x", prefix[:])
}

// assertionMessage is the wire payload published on a tick: the
// asserting participant, the category being asserted, and the set of
// owned writer entities currently in that category.
type assertionMessage struct {
	ParticipantPrefix guid.Prefix    `json:"participant_prefix"`
	Kind              Kind           `json:"kind"`
	Writers           []guid.EntityID `json:"writers"`
}

type registration struct {
	kind          Kind
	lease         time.Duration
	lastAssertion time.Time
}

// Protocol is the per-participant WLP instance: it owns the set of
// locally registered writers, the two periodic assertion timers
// (AUTOMATIC and MANUAL_BY_PARTICIPANT each run at the minimum lease
// across their category; MANUAL_BY_TOPIC has no timer and is only
// driven by explicit AssertWriterLiveliness calls), and feeds peer
// assertions into a LivelinessManager.
type Protocol struct {
	prefix  guid.Prefix
	bus     Bus
	subject string
	manager *LivelinessManager
	log     *zap.Logger

	mu      sync.Mutex
	writers map[guid.EntityID]*registration

	automaticTicker *time.Ticker
	manualTicker    *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	started         bool
}

// NewProtocol builds a Protocol for the given participant prefix. bus
// may be nil for a purely local instance with no peer exchange (tests);
// manager may be nil if this participant does not need to track peer
// liveliness.
func NewProtocol(prefix guid.Prefix, bus Bus, manager *LivelinessManager, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	return &Protocol{
		prefix:  prefix,
		bus:     bus,
		subject: ParticipantMessageSubject(prefix),
		manager: manager,
		log:     log,
		writers: make(map[guid.EntityID]*registration),
		stopCh:  make(chan struct{}),
	}
}

// Start subscribes to the participant-message topic and begins the
// periodic assertion timers. Calling Start twice is a no-op.
func (p *Protocol) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if p.bus != nil {
		if err := p.bus.Subscribe(p.subject, p.onPeerMessage); err != nil {
			return fmt.Errorf("wlp: subscribe to %s: %w", p.subject, err)
		}
	}
	p.recomputeTimers()
	return nil
}

// Stop halts the periodic timers. It does not close the bus, which may
// be shared by other subsystems.
func (p *Protocol) Stop() {
	close(p.stopCh)
	p.mu.Lock()
	if p.automaticTicker != nil {
		p.automaticTicker.Stop()
	}
	if p.manualTicker != nil {
		p.manualTicker.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// RegisterWriter adds an owned writer to the protocol under the given
// category and lease, recomputing the periodic timers if this writer's
// lease is now the tightest in its category.
func (p *Protocol) RegisterWriter(entity guid.EntityID, kind Kind, lease time.Duration) {
	p.mu.Lock()
	p.writers[entity] = &registration{kind: kind, lease: lease, lastAssertion: time.Now()}
	p.mu.Unlock()
	p.recomputeTimers()
}

// UnregisterWriter removes a writer from the protocol.
func (p *Protocol) UnregisterWriter(entity guid.EntityID) {
	p.mu.Lock()
	delete(p.writers, entity)
	p.mu.Unlock()
	p.recomputeTimers()
}

// AssertWriterLiveliness implements writer.LivelinessAsserter: engines
// call this on every successful send (and on an explicit user
// assertion), resetting the writer's last-assertion timestamp.
func (p *Protocol) AssertWriterLiveliness(w guid.GUID, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.writers[w.Entity]; ok {
		r.lastAssertion = now
	}
}

func (p *Protocol) recomputeTimers() {
	p.mu.Lock()
	autoLease := minLease(p.writers, Automatic)
	manualLease := minLease(p.writers, ManualByParticipant)
	p.mu.Unlock()

	p.resetTicker(&p.automaticTicker, autoLease, Automatic)
	p.resetTicker(&p.manualTicker, manualLease, ManualByParticipant)
}

func minLease(writers map[guid.EntityID]*registration, kind Kind) time.Duration {
	var min time.Duration
	for _, r := range writers {
		if r.kind != kind {
			continue
		}
		if min == 0 || r.lease < min {
			min = r.lease
		}
	}
	return min
}

func (p *Protocol) resetTicker(slot **time.Ticker, lease time.Duration, kind Kind) {
	p.mu.Lock()
	old := *slot
	p.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	if lease <= 0 {
		p.mu.Lock()
		*slot = nil
		p.mu.Unlock()
		return
	}
	// fire at half the lease so an assertion lands comfortably inside the
	// peer's expiry window.
	period := lease / 2
	if period <= 0 {
		period = lease
	}
	t := time.NewTicker(period)
	p.mu.Lock()
	*slot = t
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runTicker(t, kind)
}

func (p *Protocol) runTicker(t *time.Ticker, kind Kind) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.publishAssertions(kind)
		}
	}
}

func (p *Protocol) publishAssertions(kind Kind) {
	p.mu.Lock()
	var entities []guid.EntityID
	now := time.Now()
	for e, r := range p.writers {
		if r.kind == kind {
			r.lastAssertion = now
			entities = append(entities, e)
		}
	}
	p.mu.Unlock()

	if len(entities) == 0 || p.bus == nil {
		return
	}
	msg := assertionMessage{ParticipantPrefix: p.prefix, Kind: kind, Writers: entities}
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("wlp: marshal assertion", zap.Error(err))
		return
	}
	if err := p.bus.Publish(p.subject, data); err != nil {
		p.log.Warn("wlp: publish assertion", zap.Error(err))
	}
}

func (p *Protocol) onPeerMessage(data []byte) {
	var msg assertionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.log.Warn("wlp: malformed peer assertion", zap.Error(err))
		return
	}
	if msg.ParticipantPrefix == p.prefix {
		return // our own publication looped back
	}
	if p.manager == nil {
		return
	}
	now := time.Now()
	for _, e := range msg.Writers {
		p.manager.OnAssertion(msg.ParticipantPrefix.WithEntity(e), now)
	}
}
