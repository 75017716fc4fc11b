package wire

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PeerTimeout = 300 * time.Millisecond
	cfg.RetransmitBase = 20 * time.Millisecond
	cfg.RetransmitMax = 80 * time.Millisecond
	return cfg
}

func TestConnectDeliversReliableAndUnreliableData(t *testing.T) {
	var srvMu sync.Mutex
	var srvReliable, srvUnreliable [][]byte
	connected := make(chan string, 1)

	server, err := Listen("127.0.0.1:0", testConfig(), Handlers{
		OnConnect: func(peerID string) { connected <- peerID },
		OnData: func(_ string, _ MessageType, data []byte, ch Channel) {
			srvMu.Lock()
			defer srvMu.Unlock()
			if ch == Reliable {
				srvReliable = append(srvReliable, data)
			} else {
				srvUnreliable = append(srvUnreliable, data)
			}
		},
	})
	require.NoError(t, err)
	defer server.Close()

	client, peer, err := Connect(server.LocalAddr().String(), HandshakeKey, testConfig(), Handlers{})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, peer.Send(MsgRequest, []byte("reliable-payload"), Reliable))
	require.NoError(t, peer.Send(MsgRequest, []byte("unreliable-payload"), Unreliable))

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("server never observed a connect")
	}

	require.Eventually(t, func() bool {
		srvMu.Lock()
		defer srvMu.Unlock()
		return len(srvReliable) == 1 && len(srvUnreliable) == 1
	}, time.Second, 10*time.Millisecond)

	srvMu.Lock()
	assert.Equal(t, []byte("reliable-payload"), srvReliable[0])
	assert.Equal(t, []byte("unreliable-payload"), srvUnreliable[0])
	srvMu.Unlock()
}

func TestConnectRejectsBadHandshakeKey(t *testing.T) {
	_, _, err := Connect("127.0.0.1:9", "not-the-key", testConfig(), Handlers{})
	assert.Error(t, err)
}

func TestPeerTimeoutFiresOnDisconnect(t *testing.T) {
	disconnected := make(chan string, 1)
	server, err := Listen("127.0.0.1:0", testConfig(), Handlers{
		OnDisconnect: func(peerID string, _ error) { disconnected <- peerID },
	})
	require.NoError(t, err)
	defer server.Close()

	client, peer, err := Connect(server.LocalAddr().String(), HandshakeKey, testConfig(), Handlers{})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, peer.Send(MsgRequest, []byte("hi"), Unreliable))

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the idle peer to be evicted")
	}
}

func TestSendOnClosedPeerFails(t *testing.T) {
	server, err := Listen("127.0.0.1:0", testConfig(), Handlers{})
	require.NoError(t, err)
	defer server.Close()

	client, peer, err := Connect(server.LocalAddr().String(), HandshakeKey, testConfig(), Handlers{})
	require.NoError(t, err)
	defer client.Close()

	client.Disconnect(peer.ID, nil)
	assert.Error(t, peer.Send(MsgRequest, []byte("x"), Reliable))
}
