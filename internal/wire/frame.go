// Package wire implements the UDP transport: framing, the handshake, and
// the two logical channels (Reliable-Ordered and Unreliable) described in
// spec §4.1 and the wire format in §6.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the one-byte frame discriminator from §6.
type MessageType uint8

const (
	MsgHandshake       MessageType = 0x01
	MsgManifestSnapshot MessageType = 0x02
	MsgRequest         MessageType = 0x03
	MsgResponse        MessageType = 0x04
	MsgObserverNotify  MessageType = 0x05
	MsgHeartbeat       MessageType = 0x06
	// msgAck is a transport-internal extension, not one of the RPC session
	// kinds in §4.2 — it never reaches the session layer. It carries the
	// highest contiguous sequence number the receiver has delivered on the
	// Reliable-Ordered channel, letting the sender stop retransmitting.
	msgAck MessageType = 0x07
)

// MaxFramePayload is the floor spec §4.1 guarantees a single packet holds.
const MaxFramePayload = 1200

// MaxUDPDatagram is the practical ceiling for one UDP write on this transport.
const MaxUDPDatagram = 1472

// Frame is one decoded on-wire unit: a message type plus its payload.
// Reliable frames additionally carry a sequence number, tracked outside the
// wire payload by the transport layer (see Channel below) so ordinary
// Request/Response/ObserverNotify/Heartbeat payloads are unaffected by the
// channel they happen to ride.
type Frame struct {
	Type    MessageType
	Seq     uint32 // meaningful only on the Reliable-Ordered channel
	Payload []byte
}

// headerLen is type(1) + seq(4) + payloadLen(2).
const headerLen = 1 + 4 + 2

// Encode serializes a frame to bytes: [u8 type][u32 seq LE][u16 len LE][payload].
// Seq is always present (zero for unreliable frames) so the receiver can
// demultiplex without per-type special casing.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > 0xFFFF {
		return nil, fmt.Errorf("wire: payload too large (%d bytes)", len(f.Payload))
	}
	buf := make([]byte, headerLen+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(buf[1:5], f.Seq)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(f.Payload)))
	copy(buf[7:], f.Payload)
	return buf, nil
}

// Decode parses bytes produced by Encode.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, fmt.Errorf("wire: frame too short (%d bytes)", len(data))
	}
	f := Frame{
		Type: MessageType(data[0]),
		Seq:  binary.LittleEndian.Uint32(data[1:5]),
	}
	n := binary.LittleEndian.Uint16(data[5:7])
	if int(n) != len(data)-headerLen {
		return Frame{}, fmt.Errorf("wire: length mismatch: header says %d, have %d", n, len(data)-headerLen)
	}
	f.Payload = append([]byte(nil), data[headerLen:]...)
	return f, nil
}

// HandshakeKey is the application-level connection key compared as UTF-8
// bytes by the listener (§4.1, §6). An empty key is also accepted for
// backward compatibility.
const HandshakeKey = "RpcConnection"

// AcceptsKey reports whether a listener should accept a connection attempt
// offering the given key.
func AcceptsKey(offered string) bool {
	return offered == "" || offered == HandshakeKey
}
