package rpc

import (
	"fmt"

	"github.com/google/uuid"
)

// Handshake is the first frame either side sends after the UDP transport
// reports OnConnect (§4.1, §4.2). The receiving session checks the offered
// key with wire.AcceptsKey; on a rejected key it closes the session and sends
// no manifest.
type Handshake struct {
	ClientVersion string
	HandshakeKey  string
}

func (h Handshake) Marshal() []byte {
	return NewEncoder().String(h.ClientVersion).String(h.HandshakeKey).Bytes()
}

func UnmarshalHandshake(data []byte) (Handshake, error) {
	d := NewDecoder(data)
	ver, err := d.String()
	if err != nil {
		return Handshake{}, err
	}
	key, err := d.String()
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{ClientVersion: ver, HandshakeKey: key}, nil
}

// MethodDescriptor names one callable method on an interface, for the
// manifest exchange (§4.2) that tells a fresh client which methodIds are
// valid before it issues its first Request.
type MethodDescriptor struct {
	MethodID int32
	Name     string
}

// InterfaceDescriptor names one grain-like interface exposed over this
// session (ActionServer's player-facing grain, Silo's directory grain, ...).
type InterfaceDescriptor struct {
	InterfaceID int32
	Name        string
	Methods     []MethodDescriptor
}

// ManifestSnapshot is sent once per session, right after a successful
// Handshake, so the isolated codec on each side agrees on interface/method
// ids without any persistent shared registry (§4.2).
type ManifestSnapshot struct {
	Interfaces []InterfaceDescriptor
}

func (m ManifestSnapshot) Marshal() []byte {
	e := NewEncoder().I32(int32(len(m.Interfaces)))
	for _, iface := range m.Interfaces {
		e.I32(iface.InterfaceID).String(iface.Name).I32(int32(len(iface.Methods)))
		for _, meth := range iface.Methods {
			e.I32(meth.MethodID).String(meth.Name)
		}
	}
	return e.Bytes()
}

func UnmarshalManifestSnapshot(data []byte) (ManifestSnapshot, error) {
	d := NewDecoder(data)
	ifaceCount, err := d.I32()
	if err != nil {
		return ManifestSnapshot{}, err
	}
	const maxManifestEntries = 4096
	if ifaceCount < 0 || ifaceCount > maxManifestEntries {
		return ManifestSnapshot{}, fmt.Errorf("%w: implausible interface count %d", ErrArgumentDecode, ifaceCount)
	}
	m := ManifestSnapshot{Interfaces: make([]InterfaceDescriptor, 0, ifaceCount)}
	for i := int32(0); i < ifaceCount; i++ {
		ifaceID, err := d.I32()
		if err != nil {
			return ManifestSnapshot{}, err
		}
		name, err := d.String()
		if err != nil {
			return ManifestSnapshot{}, err
		}
		methodCount, err := d.I32()
		if err != nil {
			return ManifestSnapshot{}, err
		}
		if methodCount < 0 || methodCount > maxManifestEntries {
			return ManifestSnapshot{}, fmt.Errorf("%w: implausible method count %d", ErrArgumentDecode, methodCount)
		}
		methods := make([]MethodDescriptor, 0, methodCount)
		for j := int32(0); j < methodCount; j++ {
			mid, err := d.I32()
			if err != nil {
				return ManifestSnapshot{}, err
			}
			mname, err := d.String()
			if err != nil {
				return ManifestSnapshot{}, err
			}
			methods = append(methods, MethodDescriptor{MethodID: mid, Name: mname})
		}
		m.Interfaces = append(m.Interfaces, InterfaceDescriptor{InterfaceID: ifaceID, Name: name, Methods: methods})
	}
	return m, nil
}

// Request invokes one method on one interface. Args is the raw isolated
// codec byte string the method's own argument Encoder produced — the
// session layer never inspects it, only the grain dispatcher does.
type Request struct {
	CorrelationID uuid.UUID
	InterfaceID   int32
	MethodID      int32
	Args          []byte
}

func (r Request) Marshal() []byte {
	return NewEncoder().GUID(r.CorrelationID).I32(r.InterfaceID).I32(r.MethodID).
		I32(int32(len(r.Args))).Raw(r.Args).Bytes()
}

// Raw appends pre-encoded bytes without a marker; used for the Args blob,
// which is itself a marker-tagged value stream produced by a separate Encoder,
// and by the grain packages to embed values they encoded themselves.
func (e *Encoder) Raw(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

func UnmarshalRequest(data []byte) (Request, error) {
	d := NewDecoder(data)
	id, err := d.GUID()
	if err != nil {
		return Request{}, err
	}
	ifaceID, err := d.I32()
	if err != nil {
		return Request{}, err
	}
	methodID, err := d.I32()
	if err != nil {
		return Request{}, err
	}
	argsLen, err := d.I32()
	if err != nil {
		return Request{}, err
	}
	if argsLen < 0 {
		return Request{}, fmt.Errorf("%w: negative args length", ErrArgumentDecode)
	}
	args, err := d.take(int(argsLen))
	if err != nil {
		return Request{}, err
	}
	return Request{CorrelationID: id, InterfaceID: ifaceID, MethodID: methodID, Args: append([]byte(nil), args...)}, nil
}

// Response completes a Request. On failure ErrorKind/ErrorMessage carry the
// rpc.Error taxonomy across the wire; Result is empty in that case.
type Response struct {
	CorrelationID uuid.UUID
	OK            bool
	ErrorKind     Kind
	ErrorMessage  string
	Result        []byte
}

func (r Response) Marshal() []byte {
	e := NewEncoder().GUID(r.CorrelationID).Bool(r.OK)
	if r.OK {
		return e.I32(int32(len(r.Result))).Raw(r.Result).Bytes()
	}
	return e.I32(int32(r.ErrorKind)).String(r.ErrorMessage).Bytes()
}

func UnmarshalResponse(data []byte) (Response, error) {
	d := NewDecoder(data)
	id, err := d.GUID()
	if err != nil {
		return Response{}, err
	}
	ok, err := d.Bool()
	if err != nil {
		return Response{}, err
	}
	resp := Response{CorrelationID: id, OK: ok}
	if ok {
		n, err := d.I32()
		if err != nil {
			return Response{}, err
		}
		if n < 0 {
			return Response{}, fmt.Errorf("%w: negative result length", ErrArgumentDecode)
		}
		b, err := d.take(int(n))
		if err != nil {
			return Response{}, err
		}
		resp.Result = append([]byte(nil), b...)
		return resp, nil
	}
	kind, err := d.I32()
	if err != nil {
		return Response{}, err
	}
	msg, err := d.String()
	if err != nil {
		return Response{}, err
	}
	resp.ErrorKind = Kind(kind)
	resp.ErrorMessage = msg
	return resp, nil
}

// ToError converts a failed Response into an *Error for the caller.
func (r Response) ToError() error {
	if r.OK {
		return nil
	}
	return NewError(r.ErrorKind, r.ErrorMessage)
}

// ObserverNotify carries a fire-and-forget event to a subscribed observer
// (§4.2 observer/subscription streams). These ride the Unreliable channel by
// default — a missed tick is superseded by the next one — except where a
// caller explicitly opts into Reliable for one-shot events like game-over.
type ObserverNotify struct {
	SubscriptionID uuid.UUID
	InterfaceID    int32
	MethodID       int32
	Args           []byte
}

func (o ObserverNotify) Marshal() []byte {
	return NewEncoder().GUID(o.SubscriptionID).I32(o.InterfaceID).I32(o.MethodID).
		I32(int32(len(o.Args))).Raw(o.Args).Bytes()
}

func UnmarshalObserverNotify(data []byte) (ObserverNotify, error) {
	d := NewDecoder(data)
	subID, err := d.GUID()
	if err != nil {
		return ObserverNotify{}, err
	}
	ifaceID, err := d.I32()
	if err != nil {
		return ObserverNotify{}, err
	}
	methodID, err := d.I32()
	if err != nil {
		return ObserverNotify{}, err
	}
	n, err := d.I32()
	if err != nil {
		return ObserverNotify{}, err
	}
	if n < 0 {
		return ObserverNotify{}, fmt.Errorf("%w: negative args length", ErrArgumentDecode)
	}
	args, err := d.take(int(n))
	if err != nil {
		return ObserverNotify{}, err
	}
	return ObserverNotify{SubscriptionID: subID, InterfaceID: ifaceID, MethodID: methodID, Args: append([]byte(nil), args...)}, nil
}

// Heartbeat is a tiny liveness ping sent on the Unreliable channel. It
// carries the sender's monotonic clock reading so the receiver can log
// round-trip skew without depending on wall-clock synchronization.
type Heartbeat struct {
	SentAtMonotonicNanos int64
}

func (h Heartbeat) Marshal() []byte {
	return NewEncoder().I32(int32(h.SentAtMonotonicNanos >> 32)).I32(int32(h.SentAtMonotonicNanos)).Bytes()
}

func UnmarshalHeartbeat(data []byte) (Heartbeat, error) {
	d := NewDecoder(data)
	hi, err := d.I32()
	if err != nil {
		return Heartbeat{}, err
	}
	lo, err := d.I32()
	if err != nil {
		return Heartbeat{}, err
	}
	return Heartbeat{SentAtMonotonicNanos: int64(uint64(uint32(hi))<<32 | uint64(uint32(lo)))}, nil
}
