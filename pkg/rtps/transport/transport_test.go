package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
	"github.com/odin-rtps/corewriter/pkg/rtps/locator"
)

func TestLoopbackDeliversToRegisteredReceiver(t *testing.T) {
	lb := NewLoopback()
	entity := guid.EntityID{1, 2, 3, 4}

	received := make(chan []byte, 1)
	lb.RegisterReceiver(entity, func(payload []byte, from locator.Locator) {
		received <- payload
	})

	loc := locator.NewUDPv4(net.ParseIP("10.0.0.1"), 7400)
	copy(loc.Address[12:16], entity[:])

	res, err := lb.Send(context.Background(), []byte("hello"), loc, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, SendOK, res)

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("receiver never invoked")
	}
}

func TestLoopbackSendErrorsWithoutReceiver(t *testing.T) {
	lb := NewLoopback()
	loc := locator.NewUDPv4(net.ParseIP("10.0.0.1"), 7400)
	res, err := lb.Send(context.Background(), []byte("x"), loc, time.Now().Add(time.Second))
	assert.Equal(t, SendError, res)
	assert.ErrorIs(t, err, ErrNoReceiver)
}

func TestLoopbackTracksCreatedLocators(t *testing.T) {
	lb := NewLoopback()
	loc := locator.NewUDPv4(net.ParseIP("10.0.0.2"), 7400)
	assert.False(t, lb.Created(loc))
	require.NoError(t, lb.CreateSenderResource(loc))
	assert.True(t, lb.Created(loc))
}
