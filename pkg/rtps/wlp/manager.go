package wlp

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

// Listener receives liveliness-changed notifications for matched
// writers, for the engine layer to translate into DDS status updates.
type Listener interface {
	OnLivelinessLost(w guid.GUID)
	OnLivelinessRecovered(w guid.GUID)
}

type remoteWriterState struct {
	kind          Kind
	lease         time.Duration
	lastAssertion time.Time
	alive         bool
}

// LivelinessManager tracks per-remote-writer {kind, lease,
// last-assertion} and emits lost/recovered callbacks as assertions
// arrive or expire.
type LivelinessManager struct {
	mu       sync.Mutex
	writers  map[[16]byte]*remoteWriterState
	listener Listener
	log      *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewLivelinessManager builds a manager. listener may be nil if no
// callbacks are needed (e.g. in a pure sender participant).
func NewLivelinessManager(listener Listener, log *zap.Logger) *LivelinessManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &LivelinessManager{
		writers:  make(map[[16]byte]*remoteWriterState),
		listener: listener,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// RegisterRemoteWriter begins tracking a matched writer's liveliness,
// learned out of band via discovery.
func (m *LivelinessManager) RegisterRemoteWriter(w guid.GUID, kind Kind, lease time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers[w.Bytes()] = &remoteWriterState{
		kind:          kind,
		lease:         lease,
		lastAssertion: time.Now(),
		alive:         true,
	}
}

// UnregisterRemoteWriter stops tracking a writer, e.g. on unmatch.
func (m *LivelinessManager) UnregisterRemoteWriter(w guid.GUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.writers, w.Bytes())
}

// OnAssertion records a liveliness assertion received for w, firing a
// recovered callback if it had previously been declared lost.
func (m *LivelinessManager) OnAssertion(w guid.GUID, now time.Time) {
	m.mu.Lock()
	st, ok := m.writers[w.Bytes()]
	if !ok {
		m.mu.Unlock()
		return
	}
	st.lastAssertion = now
	wasAlive := st.alive
	st.alive = true
	m.mu.Unlock()

	if !wasAlive && m.listener != nil {
		m.listener.OnLivelinessRecovered(w)
	}
}

// CheckExpirations scans every tracked writer and fires a lost callback
// for any whose lease has elapsed since its last assertion.
func (m *LivelinessManager) CheckExpirations(now time.Time) {
	var lost []guid.GUID
	m.mu.Lock()
	for key, st := range m.writers {
		if st.alive && st.lease > 0 && now.Sub(st.lastAssertion) > st.lease {
			st.alive = false
			lost = append(lost, guid.FromBytes(key))
		}
	}
	m.mu.Unlock()

	if m.listener == nil {
		return
	}
	for _, w := range lost {
		m.listener.OnLivelinessLost(w)
	}
}

// RunExpiryLoop starts a background goroutine calling CheckExpirations
// every interval, until Stop is called.
func (m *LivelinessManager) RunExpiryLoop(interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CheckExpirations(time.Now())
			}
		}
	}()
}

// Stop halts the expiry loop, if running.
func (m *LivelinessManager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
