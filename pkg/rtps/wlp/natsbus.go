package wlp

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsBus is a thin Bus over a NATS connection, following the
// connect/subscribe/publish shape of go-server/pkg/nats/client.go:
// reconnect-tolerant options, a handler registry guarded by a mutex, and
// structured logging of connection events instead of that client's
// metrics hooks (metrics here are recorded by internal/metrics at the
// call site instead).
type NatsBus struct {
	conn *nats.Conn
	log  *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NatsBusConfig mirrors the teacher client's reconnection tuning.
type NatsBusConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

func DefaultNatsBusConfig(url string) NatsBusConfig {
	return NatsBusConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   time.Second,
		ReconnectJitter: 100 * time.Millisecond,
	}
}

// NewNatsBus connects to NATS and returns a ready Bus.
func NewNatsBus(cfg NatsBusConfig, log *zap.Logger) (*NatsBus, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &NatsBus{log: log, subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.log.Warn("wlp bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.log.Info("wlp bus reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			b.log.Error("wlp bus error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("wlp: connect to nats: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *NatsBus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("wlp: publish %s: %w", subject, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(subject string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("wlp: subscribe %s: %w", subject, err)
	}
	b.subs[subject] = sub
	return nil
}

func (b *NatsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.conn.Close()
	return nil
}
