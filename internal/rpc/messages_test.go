package rpc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{ClientVersion: "1.2.3", HandshakeKey: "RpcConnection"}
	got, err := UnmarshalHandshake(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestManifestSnapshotRoundTrip(t *testing.T) {
	m := ManifestSnapshot{Interfaces: []InterfaceDescriptor{
		{InterfaceID: 1, Name: "Session", Methods: []MethodDescriptor{
			{MethodID: 1, Name: "CreateSession"},
			{MethodID: 2, Name: "Authenticate"},
		}},
		{InterfaceID: 2, Name: "Directory"},
	}}
	got, err := UnmarshalManifestSnapshot(m.Marshal())
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestManifestSnapshotRejectsImplausibleInterfaceCount(t *testing.T) {
	data := NewEncoder().I32(1 << 20).Bytes()
	_, err := UnmarshalManifestSnapshot(data)
	assert.ErrorIs(t, err, ErrArgumentDecode)
}

func TestRequestRoundTrip(t *testing.T) {
	r := Request{CorrelationID: uuid.New(), InterfaceID: 3, MethodID: 7, Args: []byte("args-blob")}
	got, err := UnmarshalRequest(r.Marshal())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestResponseRoundTripOK(t *testing.T) {
	r := Response{CorrelationID: uuid.New(), OK: true, Result: []byte("result-blob")}
	got, err := UnmarshalResponse(r.Marshal())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestResponseRoundTripError(t *testing.T) {
	r := Response{CorrelationID: uuid.New(), OK: false, ErrorKind: KindNotAuthorized, ErrorMessage: "nope"}
	got, err := UnmarshalResponse(r.Marshal())
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.ErrorIs(t, got.ToError(), ErrNotAuthorized)
}

func TestObserverNotifyRoundTrip(t *testing.T) {
	n := ObserverNotify{SubscriptionID: uuid.New(), InterfaceID: 4, MethodID: 9, Args: []byte("push")}
	got, err := UnmarshalObserverNotify(n.Marshal())
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	h := Heartbeat{SentAtMonotonicNanos: 1234567890123}
	got, err := UnmarshalHeartbeat(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}
