// Package peer holds the per-connected-peer authoritative record and the
// session-manager registry that owns it.
package peer

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Reserved peer IDs.
const (
	ServerID    byte = 1
	BroadcastID byte = 0
	MinPeerID   byte = 2
)

// ChunkKey addresses a single slice of a chunked reliable send, keyed by
// the logical (reliable) sequence and the slice index within it.
type ChunkKey struct {
	Sequence   uint16
	SliceIndex uint16
}

// Peer is the authoritative per-connected-peer record: network endpoint,
// display attributes, the four sequence counters, and the four buffers
// (send-packets, send-chunks, receive-packets, receive-chunks).
type Peer struct {
	ID       byte
	Addr     *net.UDPAddr
	Username string
	Color    wire.Color
	// CorrelationID identifies this peer's session for log correlation
	// (see logging.Logger.WithPeer); unlike ID it is never reused across
	// sessions. No metric carries it as a label.
	CorrelationID xid.ID

	mu                 sync.RWMutex
	lastHeard          time.Time
	reliableLocalOut   uint16
	reliableRemoteIn   uint16
	unreliableLocalOut uint16
	unreliableRemoteIn uint16

	sendPackets map[uint16][]byte
	sendChunks  map[ChunkKey][]byte
	recvPackets map[uint16]any
	recvChunks  map[uint16]map[uint16][]byte
}

// New creates a Peer ready for an accepted session.
func New(id byte, addr *net.UDPAddr, username string, color wire.Color) *Peer {
	return &Peer{
		ID:            id,
		Addr:          addr,
		Username:      username,
		Color:         color,
		CorrelationID: xid.New(),
		lastHeard:     time.Now(),
		sendPackets:   make(map[uint16][]byte),
		sendChunks:    make(map[ChunkKey][]byte),
		recvPackets:   make(map[uint16]any),
		recvChunks:    make(map[uint16]map[uint16][]byte),
	}
}

func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastHeard = time.Now()
	p.mu.Unlock()
}

func (p *Peer) LastHeard() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastHeard
}

// NextReliableSeq assigns and advances the reliable outgoing sequence.
// Only the sender goroutine may call this; each counter has a single
// writer. The first sequence assigned is 1, because a fresh receiver's
// remote-in starts at 0 ("nothing delivered yet"); after 65535 the
// counter wraps and 0 is assigned like any other value.
func (p *Peer) NextReliableSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reliableLocalOut++
	return p.reliableLocalOut
}

// NextUnreliableSeq assigns and advances the unreliable outgoing sequence.
func (p *Peer) NextUnreliableSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unreliableLocalOut++
	return p.unreliableLocalOut
}

// ReliableRemoteIn / UnreliableRemoteIn / their setters are only ever
// called from the listener goroutine that owns the remote-in counters,
// but are guarded anyway since the session manager may read them
// concurrently for diagnostics.
func (p *Peer) ReliableRemoteIn() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reliableRemoteIn
}

func (p *Peer) SetReliableRemoteIn(v uint16) {
	p.mu.Lock()
	p.reliableRemoteIn = v
	p.mu.Unlock()
}

func (p *Peer) UnreliableRemoteIn() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.unreliableRemoteIn
}

func (p *Peer) SetUnreliableRemoteIn(v uint16) {
	p.mu.Lock()
	p.unreliableRemoteIn = v
	p.mu.Unlock()
}

// StoreSendPacket records a reliable frame awaiting ACK.
func (p *Peer) StoreSendPacket(seq uint16, frame []byte) {
	p.mu.Lock()
	p.sendPackets[seq] = frame
	p.mu.Unlock()
}

// GetSendPacket reports whether a reliable frame is still outstanding.
func (p *Peer) GetSendPacket(seq uint16) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.sendPackets[seq]
	return f, ok
}

// RemoveSendPacket is the "remove-if-present" ACK-processing step; the
// next armed retransmit task for this sequence observes the absence and
// exits quietly.
func (p *Peer) RemoveSendPacket(seq uint16) {
	p.mu.Lock()
	delete(p.sendPackets, seq)
	p.mu.Unlock()
}

func (p *Peer) StoreSendChunk(key ChunkKey, frame []byte) {
	p.mu.Lock()
	p.sendChunks[key] = frame
	p.mu.Unlock()
}

func (p *Peer) GetSendChunk(key ChunkKey) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.sendChunks[key]
	return f, ok
}

func (p *Peer) RemoveSendChunk(key ChunkKey) {
	p.mu.Lock()
	delete(p.sendChunks, key)
	p.mu.Unlock()
}

// StorePendingPacket buffers an out-of-order reliable-ordered packet until
// the sequencer's contiguous probe reaches it.
func (p *Peer) StorePendingPacket(seq uint16, packet any) {
	p.mu.Lock()
	p.recvPackets[seq] = packet
	p.mu.Unlock()
}

func (p *Peer) TakePendingPacket(seq uint16) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.recvPackets[seq]
	if ok {
		delete(p.recvPackets, seq)
	}
	return v, ok
}

func (p *Peer) HasPendingPacket(seq uint16) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.recvPackets[seq]
	return ok
}

// StoreRecvChunk records one arrived slice of a chunked message and
// reports the current number of collected slices for that sequence.
func (p *Peer) StoreRecvChunk(seq uint16, sliceIndex uint16, payload []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.recvChunks[seq]
	if !ok {
		set = make(map[uint16][]byte)
		p.recvChunks[seq] = set
	}
	set[sliceIndex] = payload
	return len(set)
}

// TakeRecvChunks removes and returns the slice set collected for seq, for
// concatenation once the declared slice count has been reached.
func (p *Peer) TakeRecvChunks(seq uint16) map[uint16][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.recvChunks[seq]
	delete(p.recvChunks, seq)
	return set
}
