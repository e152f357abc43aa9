package wlp

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

// fakeBus is an in-process Bus double: Publish on one instance delivers
// to every Subscribe handler registered on any instance sharing the
// same backing map, modeling a single NATS subject.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string][]func([]byte)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]func([]byte))}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	hs := append([]func([]byte){}, b.handlers[subject]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = append(b.handlers[subject], handler)
	return nil
}

func (b *fakeBus) Close() error { return nil }

func mkPrefix(b byte) guid.Prefix {
	var p guid.Prefix
	p[0] = b
	return p
}

func TestAssertionTickPublishesRegisteredAutomaticWriters(t *testing.T) {
	bus := newFakeBus()
	senderPrefix := mkPrefix(1)
	receiverPrefix := mkPrefix(2)

	recvManager := NewLivelinessManager(nil, nil)
	writerGUID := senderPrefix.WithEntity(guid.EntityID{9})
	recvManager.RegisterRemoteWriter(writerGUID, Automatic, 200*time.Millisecond)

	receiver := NewProtocol(receiverPrefix, bus, recvManager, nil)
	require.NoError(t, receiver.Start())
	defer receiver.Stop()
	// subscribe to the sender's topic explicitly: WLP peers share one
	// well-known subject per participant, so the receiver must listen on
	// the sender's subject too.
	require.NoError(t, bus.Subscribe(ParticipantMessageSubject(senderPrefix), func(data []byte) {
		receiver.onPeerMessage(data)
	}))

	sender := NewProtocol(senderPrefix, bus, nil, nil)
	sender.RegisterWriter(guid.EntityID{9}, Automatic, 50*time.Millisecond)
	require.NoError(t, sender.Start())
	defer sender.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recvManager.mu.Lock()
		st, ok := recvManager.writers[writerGUID.Bytes()]
		var last time.Time
		if ok {
			last = st.lastAssertion
		}
		recvManager.mu.Unlock()
		if ok && time.Since(last) < 100*time.Millisecond {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("receiver never observed a liveliness assertion")
}

type recordingListener struct {
	mu       sync.Mutex
	lost     []guid.GUID
	recovered []guid.GUID
}

func (r *recordingListener) OnLivelinessLost(w guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lost = append(r.lost, w)
}

func (r *recordingListener) OnLivelinessRecovered(w guid.GUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, w)
}

func TestLivelinessManagerFiresLostThenRecovered(t *testing.T) {
	listener := &recordingListener{}
	m := NewLivelinessManager(listener, nil)
	w := mkPrefix(3).WithEntity(guid.EntityID{1})
	m.RegisterRemoteWriter(w, Automatic, 10*time.Millisecond)

	m.CheckExpirations(time.Now().Add(time.Hour))
	listener.mu.Lock()
	lostCount := len(listener.lost)
	listener.mu.Unlock()
	assert.Equal(t, 1, lostCount)

	m.OnAssertion(w, time.Now())
	listener.mu.Lock()
	recoveredCount := len(listener.recovered)
	listener.mu.Unlock()
	assert.Equal(t, 1, recoveredCount)
}

func TestAssertWriterLivelinessResetsTimestamp(t *testing.T) {
	p := NewProtocol(mkPrefix(4), nil, nil, nil)
	entity := guid.EntityID{5}
	p.RegisterWriter(entity, ManualByTopic, 0)

	before := time.Now()
	p.AssertWriterLiveliness(mkPrefix(4).WithEntity(entity), before.Add(time.Minute))

	p.mu.Lock()
	got := p.writers[entity].lastAssertion
	p.mu.Unlock()
	assert.True(t, got.After(before))
}
