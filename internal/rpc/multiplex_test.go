package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexerRoutesByInterfaceID(t *testing.T) {
	var gotPeer string
	m := NewMultiplexer()
	m.Register(1, DispatcherFunc(func(_ context.Context, peerID string, req Request) ([]byte, error) {
		gotPeer = peerID
		return []byte("from-iface-1"), nil
	}))
	m.Register(2, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return []byte("from-iface-2"), nil
	}))

	res, err := m.Dispatch(context.Background(), "peer-1", Request{InterfaceID: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-iface-2"), res)

	res, err = m.Dispatch(context.Background(), "peer-9", Request{InterfaceID: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("from-iface-1"), res)
	assert.Equal(t, "peer-9", gotPeer)
}

func TestMultiplexerRejectsUnregisteredInterface(t *testing.T) {
	m := NewMultiplexer()
	_, err := m.Dispatch(context.Background(), "peer-1", Request{InterfaceID: 99})
	assert.ErrorIs(t, err, ErrUnknownGrain)
}
