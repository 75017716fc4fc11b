package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/wire"
)

func testWireConfig() wire.Config {
	cfg := wire.DefaultConfig()
	cfg.PeerTimeout = 2 * time.Second
	return cfg
}

// echoManifest is a minimal manifest both sides exchange during the
// handshake; its contents don't matter to these tests beyond being present.
var echoManifest = ManifestSnapshot{Interfaces: []InterfaceDescriptor{
	{InterfaceID: 1, Name: "Echo", Methods: []MethodDescriptor{{MethodID: 1, Name: "Echo"}}},
}}

func startEchoServer(t *testing.T) (addr string, sm *SessionManager) {
	t.Helper()
	sm = NewSessionManager(echoManifest, DispatcherFunc(func(_ context.Context, _ string, req Request) ([]byte, error) {
		return req.Args, nil
	}), zap.NewNop())

	transport, err := wire.Listen("127.0.0.1:0", testWireConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	t.Cleanup(func() { transport.Close() })
	return transport.LocalAddr().String(), sm
}

func TestDialCompletesHandshakeAndReachesReady(t *testing.T) {
	addr, _ := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := Dial(ctx, addr, "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StateReady, session.State())
}

func TestCallRoundTripsThroughRealTransport(t *testing.T) {
	addr, _ := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := Dial(ctx, addr, "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)

	res, err := session.Call(ctx, 1, 1, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), res)
}

func TestCallTimesOutWhenServerNeverReplies(t *testing.T) {
	block := make(chan struct{})
	sm := NewSessionManager(echoManifest, DispatcherFunc(func(ctx context.Context, _ string, _ Request) ([]byte, error) {
		<-block // never responds inside the test's timeout window
		return nil, nil
	}), zap.NewNop())
	transport, err := wire.Listen("127.0.0.1:0", testWireConfig(), sm.Handlers())
	require.NoError(t, err)
	sm.AttachTransport(transport)
	defer transport.Close()
	defer close(block) // deferred after transport.Close, so it runs first and unblocks the dispatcher before Close waits on the read loop

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := Dial(ctx, transport.LocalAddr().String(), "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err = session.Call(shortCtx, 1, 1, []byte("ping"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCallReturnsDisconnectedAfterClose(t *testing.T) {
	addr, _ := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := Dial(ctx, addr, "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)

	session.Close(nil)
	_, err = session.Call(context.Background(), 1, 1, []byte("ping"))
	require.Error(t, err)
}

func TestSessionManagerTracksConnectedPeers(t *testing.T) {
	addr, sm := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, addr, "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		// The server's peer id is keyed by the client's observed UDP
		// address, which we don't know ahead of dialing, so just confirm
		// exactly one session was recorded.
		found := false
		sm.mu.Lock()
		found = len(sm.sessions) == 1
		sm.mu.Unlock()
		return found
	}, time.Second, 10*time.Millisecond)
}

func TestSubscribeDeliversObserverNotify(t *testing.T) {
	addr, sm := startEchoServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	session, err := Dial(ctx, addr, "test-client/1.0", echoManifest, DispatcherFunc(func(context.Context, string, Request) ([]byte, error) {
		return nil, ErrUnknownGrain
	}), zap.NewNop())
	require.NoError(t, err)

	sub := Subscription{ID: uuid.New(), InterfaceID: 1, MethodID: 1}
	received := make(chan ObserverNotify, 1)
	session.Subscribe(sub, func(n ObserverNotify) { received <- n })

	// Grab the server-side session for this peer and push a notify.
	var serverSession *Session
	require.Eventually(t, func() bool {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		for _, s := range sm.sessions {
			serverSession = s
			return true
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, serverSession.Notify(ObserverNotify{SubscriptionID: sub.ID, InterfaceID: 1, MethodID: 1, Args: []byte("tick")}, wire.Unreliable))

	select {
	case n := <-received:
		assert.Equal(t, []byte("tick"), n.Args)
	case <-time.After(time.Second):
		t.Fatal("observer notify never arrived")
	}
}
