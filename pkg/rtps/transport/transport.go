// Package transport defines the sender/receiver contract the engines and
// WLP depend on, plus an in-process loopback implementation used by tests
// and the demo host when no real UDP/TCP transport is configured.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
)

// SendResult classifies the outcome of a Send call.
type SendResult int

const (
	SendOK SendResult = iota
	SendTimeout
	SendError
)

// Transport is the consumed interface: create a sender resource for a
// newly observed locator, send bytes to a locator within a deadline, and
// register a callback for inbound submessages keyed by destination
// entity id.
type Transport interface {
	CreateSenderResource(l locator.Locator) error
	Send(ctx context.Context, payload []byte, l locator.Locator, deadline time.Time) (SendResult, error)
	RegisterReceiver(entity guid.EntityID, fn ReceiveFunc)
}

// ReceiveFunc is invoked once per inbound submessage addressed to a
// registered entity id.
type ReceiveFunc func(payload []byte, from locator.Locator)

var ErrNoReceiver = errors.New("transport: no receiver registered for entity")

// Loopback is an in-process Transport: Send delivers synchronously, on the
// caller's goroutine, to the receiver registered for the entity id found
// in the last 4 bytes of the locator's address; the locator is otherwise
// only passed through as the delivered "from" address. This
// mirrors how the teacher's own tests exercise `hub.go` without a real
// websocket connection — a loopback double standing in for the socket.
type Loopback struct {
	mu        sync.Mutex
	receivers map[guid.EntityID]ReceiveFunc
	created   map[locator.Key]bool

	closed chan struct{}
	once   sync.Once
}

// NewLoopback creates a ready-to-use in-process transport.
func NewLoopback() *Loopback {
	return &Loopback{
		receivers: make(map[guid.EntityID]ReceiveFunc),
		created:   make(map[locator.Key]bool),
		closed:    make(chan struct{}),
	}
}

// CreateSenderResource records the locator; the loopback transport has no
// real socket to open, but still tracks which locators have been seen so
// tests can assert on it.
func (l *Loopback) CreateSenderResource(loc locator.Locator) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created[locator.Key{Kind: loc.Kind, Address: loc.Address, Port: loc.Port}] = true
	return nil
}

// Send delivers payload to the receiver registered for the last 4 bytes
// of loc.Address interpreted as an EntityID — the loopback's stand-in for
// "destination entity id", since loopback has no real wire framing.
// Deadline is honored only via ctx cancellation; Loopback never actually
// blocks.
func (l *Loopback) Send(ctx context.Context, payload []byte, loc locator.Locator, deadline time.Time) (SendResult, error) {
	select {
	case <-ctx.Done():
		return SendTimeout, ctx.Err()
	default:
	}
	var entity guid.EntityID
	copy(entity[:], loc.Address[12:16])

	l.mu.Lock()
	fn, ok := l.receivers[entity]
	l.mu.Unlock()
	if !ok {
		return SendError, ErrNoReceiver
	}
	fn(payload, loc)
	return SendOK, nil
}

// RegisterReceiver installs fn as the handler for inbound submessages
// addressed to entity. A second call for the same entity replaces the
// handler.
func (l *Loopback) RegisterReceiver(entity guid.EntityID, fn ReceiveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[entity] = fn
}

// Created reports whether CreateSenderResource was ever called for loc,
// used by tests asserting the "exactly once per new locator" contract.
func (l *Loopback) Created(loc locator.Locator) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created[locator.Key{Kind: loc.Kind, Address: loc.Address, Port: loc.Port}]
}

// Close is a no-op retained for interface symmetry with a real transport.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}
