package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Channel selects one of the two logical channels described in §4.1.
// Reliable-Ordered is used for all RPC request/response traffic; Unreliable
// may be used for high-rate world snapshots where a dropped frame is
// acceptable game-state loss.
type Channel int

const (
	Reliable Channel = iota
	Unreliable
)

// Config tunes the transport's retransmission and liveness behavior.
type Config struct {
	// PeerTimeout is how long a peer may go without any traffic before
	// OnDisconnect fires (§4.1 default 5s).
	PeerTimeout time.Duration
	// RetransmitBase is the first retry delay for an unacked reliable
	// frame; it doubles on each retry (exponential backoff) up to RetransmitMax.
	RetransmitBase time.Duration
	RetransmitMax  time.Duration
	// ReadBufferBytes/WriteBufferBytes size the kernel socket buffers, as
	// the teacher's server does for low-latency bursts.
	ReadBufferBytes  int
	WriteBufferBytes int
}

// DefaultConfig matches spec defaults.
func DefaultConfig() Config {
	return Config{
		PeerTimeout:      5 * time.Second,
		RetransmitBase:   100 * time.Millisecond,
		RetransmitMax:    1600 * time.Millisecond,
		ReadBufferBytes:  4 * 1024 * 1024,
		WriteBufferBytes: 4 * 1024 * 1024,
	}
}

// Handlers are the transport's event callbacks (§4.1).
type Handlers struct {
	OnConnect    func(peerID string)
	OnDisconnect func(peerID string, reason error)
	OnData       func(peerID string, msgType MessageType, data []byte, ch Channel)
}

type pendingReliable struct {
	data     []byte
	sentAt   time.Time
	interval time.Duration
}

// Peer is one UDP correspondent — either a client's single connection to a
// server, or one of a server's many per-client connections. Unexported
// fields are only ever mutated by the owning connection's retransmit
// goroutine and the transport's single read-dispatch goroutine, so no
// broader lock is needed beyond the two maps below.
type Peer struct {
	ID   string
	Addr *net.UDPAddr

	mu            sync.Mutex
	sendSeq       uint32
	recvNext      uint32
	reorderBuf    map[uint32]Frame
	pendingAcks   map[uint32]*pendingReliable
	lastActivity  time.Time
	closed        bool

	write func([]byte, *net.UDPAddr) (int, error)
}

func newPeer(id string, addr *net.UDPAddr, write func([]byte, *net.UDPAddr) (int, error)) *Peer {
	return &Peer{
		ID:           id,
		Addr:         addr,
		reorderBuf:   make(map[uint32]Frame),
		pendingAcks:  make(map[uint32]*pendingReliable),
		lastActivity: time.Now(),
		write:        write,
	}
}

// Send writes a payload of the given RPC message type over the requested
// channel. Reliable sends are retransmitted by the owning Transport's
// retransmit loop until acked or the peer times out.
func (p *Peer) Send(msgType MessageType, payload []byte, ch Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("wire: peer %s is disconnected", p.ID)
	}

	var seq uint32
	if ch == Reliable {
		p.sendSeq++
		seq = p.sendSeq
	}

	data, err := Encode(Frame{Type: msgType, Seq: seq, Payload: payload})
	if err != nil {
		return err
	}
	if _, err := p.write(data, p.Addr); err != nil {
		return err
	}
	if ch == Reliable {
		p.pendingAcks[seq] = &pendingReliable{data: data, sentAt: time.Now(), interval: 0}
	}
	return nil
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *Peer) idleFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastActivity)
}

// Transport is a UDP listener (server side) or a single outbound connection
// (client side) sharing the same framing and retransmission machinery.
type Transport struct {
	cfg      Config
	handlers Handlers
	conn     *net.UDPConn

	mu    sync.RWMutex
	peers map[string]*Peer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen opens a UDP socket and starts accepting peers. The transport does
// not inspect handshake keys; the rpc session layer rejects a Handshake
// whose key is not "" or "RpcConnection" (§4.1).
func Listen(localAddr string, cfg Config, h Handlers) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %q: %w", localAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %q: %w", localAddr, err)
	}
	return newTransport(conn, nil, cfg, h), nil
}

// Connect dials a remote endpoint and performs the application-level
// handshake key check client-side (the server enforces its own copy).
func Connect(remoteAddr string, handshakeKey string, cfg Config, h Handlers) (*Transport, *Peer, error) {
	if !AcceptsKey(handshakeKey) {
		return nil, nil, fmt.Errorf("wire: invalid handshake key")
	}
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: resolve %q: %w", remoteAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: dial %q: %w", remoteAddr, err)
	}
	t := newTransport(conn, addr, cfg, h)
	peer := t.getOrCreatePeer(addr.String(), addr)
	return t, peer, nil
}

func newTransport(conn *net.UDPConn, fixedPeer *net.UDPAddr, cfg Config, h Handlers) *Transport {
	if cfg.ReadBufferBytes > 0 {
		conn.SetReadBuffer(cfg.ReadBufferBytes)
	}
	if cfg.WriteBufferBytes > 0 {
		conn.SetWriteBuffer(cfg.WriteBufferBytes)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:      cfg,
		handlers: h,
		conn:     conn,
		peers:    make(map[string]*Peer),
		ctx:      ctx,
		cancel:   cancel,
	}
	t.wg.Add(2)
	go t.readLoop()
	go t.maintenanceLoop()
	_ = fixedPeer
	return t
}

func (t *Transport) writeTo(data []byte, addr *net.UDPAddr) (int, error) {
	return t.conn.WriteToUDP(data, addr)
}

func (t *Transport) getOrCreatePeer(key string, addr *net.UDPAddr) *Peer {
	t.mu.RLock()
	p, ok := t.peers[key]
	t.mu.RUnlock()
	if ok {
		return p
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok = t.peers[key]; ok {
		return p
	}
	p = newPeer(key, addr, t.writeTo)
	t.peers[key] = p
	if t.handlers.OnConnect != nil {
		t.handlers.OnConnect(key)
	}
	return p
}

// LocalAddr returns the transport's bound UDP address, useful when the
// caller listened on port 0 and needs to learn the port the OS picked.
func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Peer returns the peer for a given id, if known.
func (t *Transport) Peer(id string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, MaxUDPDatagram)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if t.ctx.Err() != nil {
				return
			}
			continue
		}
		if n < headerLen {
			continue
		}
		frame, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		key := addr.String()
		peer := t.getOrCreatePeer(key, addr)
		peer.touch()

		if frame.Type == msgAck {
			t.handleAck(peer, frame)
			continue
		}

		if frame.Seq == 0 {
			// Unreliable frame: deliver immediately, no ordering guarantee.
			if t.handlers.OnData != nil {
				t.handlers.OnData(key, frame.Type, frame.Payload, Unreliable)
			}
			continue
		}

		t.deliverReliable(peer, frame)
	}
}

func (t *Transport) deliverReliable(peer *Peer, frame Frame) {
	peer.mu.Lock()
	if peer.recvNext == 0 {
		peer.recvNext = 1
	}
	ready := []Frame{}
	if frame.Seq < peer.recvNext {
		// Duplicate of an already-delivered frame; ack again and drop.
	} else if frame.Seq == peer.recvNext {
		ready = append(ready, frame)
		peer.recvNext++
		for {
			next, ok := peer.reorderBuf[peer.recvNext]
			if !ok {
				break
			}
			delete(peer.reorderBuf, peer.recvNext)
			ready = append(ready, next)
			peer.recvNext++
		}
	} else {
		const maxReorder = 256
		if len(peer.reorderBuf) < maxReorder {
			peer.reorderBuf[frame.Seq] = frame
		}
	}
	acked := peer.recvNext - 1
	peer.mu.Unlock()

	ackPayload := make([]byte, 4)
	ackPayload[0] = byte(acked)
	ackPayload[1] = byte(acked >> 8)
	ackPayload[2] = byte(acked >> 16)
	ackPayload[3] = byte(acked >> 24)
	if data, err := Encode(Frame{Type: msgAck, Payload: ackPayload}); err == nil {
		t.writeTo(data, peer.Addr)
	}

	for _, f := range ready {
		if t.handlers.OnData != nil {
			t.handlers.OnData(peer.ID, f.Type, f.Payload, Reliable)
		}
	}
}

func (t *Transport) handleAck(peer *Peer, frame Frame) {
	if len(frame.Payload) < 4 {
		return
	}
	acked := uint32(frame.Payload[0]) | uint32(frame.Payload[1])<<8 | uint32(frame.Payload[2])<<16 | uint32(frame.Payload[3])<<24
	peer.mu.Lock()
	for seq := range peer.pendingAcks {
		if seq <= acked {
			delete(peer.pendingAcks, seq)
		}
	}
	peer.mu.Unlock()
}

func (t *Transport) maintenanceLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.retransmitAndEvict()
		}
	}
}

func (t *Transport) retransmitAndEvict() {
	t.mu.Lock()
	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		if p.idleFor() > t.cfg.PeerTimeout {
			t.disconnectPeer(p, fmt.Errorf("peer timeout after %s", t.cfg.PeerTimeout))
			continue
		}

		now := time.Now()
		p.mu.Lock()
		for seq, pr := range p.pendingAcks {
			due := pr.sentAt.Add(pr.interval)
			if pr.interval == 0 {
				due = pr.sentAt.Add(t.cfg.RetransmitBase)
			}
			if now.Before(due) {
				continue
			}
			p.write(pr.data, p.Addr)
			pr.sentAt = now
			if pr.interval == 0 {
				pr.interval = t.cfg.RetransmitBase
			}
			pr.interval *= 2
			if pr.interval > t.cfg.RetransmitMax {
				pr.interval = t.cfg.RetransmitMax
			}
			p.pendingAcks[seq] = pr
		}
		p.mu.Unlock()
	}
}

// Disconnect closes a specific peer. Idempotent (§4.1).
func (t *Transport) Disconnect(peerID string, reason error) {
	t.mu.RLock()
	p, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	t.disconnectPeer(p, reason)
}

func (t *Transport) disconnectPeer(p *Peer, reason error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	t.mu.Lock()
	delete(t.peers, p.ID)
	t.mu.Unlock()

	if t.handlers.OnDisconnect != nil {
		t.handlers.OnDisconnect(p.ID, reason)
	}
}

// Close shuts the transport down, disconnecting every peer.
func (t *Transport) Close() error {
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
