// Package handshake implements the server-side connection-request /
// challenge / answer / accept state machine and its symmetric client-side
// counterpart.
package handshake

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"

	"github.com/rs/xid"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Outbound is the transport-layer sink handshake writes through. Control
// frames (challenge/denied/accepted) are stateless and go straight to the
// socket; ClientInfo rides the reliable-ordered channel and must go
// through the per-peer sender so it gets a sequence number and a
// retransmit timer, hence the split interface.
type Outbound interface {
	SendControl(addr *net.UDPAddr, kind wire.Kind, body []byte)
	SendReliable(p *peer.Peer, kind wire.Kind, body []byte)
}

type pendingConnection struct {
	challengeHash [32]byte
	correlationID xid.ID
}

// Server is the server-side handshake state machine. State per address is
// derived rather than stored explicitly: NONE means neither pending nor
// registered, CHALLENGED means present in pending, CONNECTED means
// present in the peer registry.
type Server struct {
	mu       sync.Mutex
	pending  map[string]*pendingConnection
	registry *peer.Registry
	out      Outbound
	queue    *upcall.Queue
	serverID byte
	identity wire.ClientInfoBody
}

// NewServer builds a handshake state machine bound to registry for peer
// bookkeeping and out for transmitting responses. identity is the
// server's own ClientInfo, sent to every newly accepted peer.
func NewServer(registry *peer.Registry, out Outbound, queue *upcall.Queue, identity wire.ClientInfoBody) *Server {
	return &Server{
		pending:  make(map[string]*pendingConnection),
		registry: registry,
		out:      out,
		queue:    queue,
		serverID: peer.ServerID,
		identity: identity,
	}
}

// HandleConnectionRequest processes a ConnectionRequest frame from addr.
func (s *Server) HandleConnectionRequest(addr *net.UDPAddr) {
	if p, connected := s.registry.ByAddr(addr); connected {
		// Idempotent recovery: resend ConnectionAccepted rather than
		// re-challenging an already-connected address.
		s.out.SendControl(addr, wire.ConnectionAccepted, wire.ConnectionAcceptedBody{PeerID: p.ID}.Encode())
		return
	}

	if s.registry.AtCapacity() {
		s.out.SendControl(addr, wire.ConnectionDenied, wire.ConnectionDeniedBody{Reason: wire.ReasonGraceful}.Encode())
		return
	}

	nonce, hash, err := newChallenge()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.pending[addr.String()] = &pendingConnection{challengeHash: hash, correlationID: xid.New()}
	s.mu.Unlock()

	s.out.SendControl(addr, wire.ConnectionChallenge, wire.ConnectionChallengeBody{Nonce: nonce}.Encode())
}

func newChallenge() (nonce uint64, hash [32]byte, err error) {
	var buf [8]byte
	if _, err = rand.Read(buf[:]); err != nil {
		return 0, hash, err
	}
	nonce = binary.BigEndian.Uint64(buf[:])
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	hash = sha256.Sum256(nonceBuf[:])
	return nonce, hash, nil
}

// HandleChallengeAnswer processes a ChallengeAnswer frame from addr.
func (s *Server) HandleChallengeAnswer(addr *net.UDPAddr, body wire.ChallengeAnswerBody) {
	s.mu.Lock()
	pc, ok := s.pending[addr.String()]
	s.mu.Unlock()
	if !ok {
		return // no outstanding challenge for this address; ignore
	}

	if !bytes.Equal(pc.challengeHash[:], body.Hash[:]) || s.registry.AtCapacity() {
		s.out.SendControl(addr, wire.ConnectionDenied, wire.ConnectionDeniedBody{Reason: wire.ReasonGraceful}.Encode())
		return
	}

	p, ok := s.registry.Add(addr, body.Username, body.Color)
	if !ok {
		s.out.SendControl(addr, wire.ConnectionDenied, wire.ConnectionDeniedBody{Reason: wire.ReasonGraceful}.Encode())
		return
	}

	s.mu.Lock()
	delete(s.pending, addr.String())
	s.mu.Unlock()

	s.out.SendControl(addr, wire.ConnectionAccepted, wire.ConnectionAcceptedBody{PeerID: p.ID}.Encode())
	s.out.SendReliable(p, wire.ClientInfo, s.identity.Encode())

	newPeerInfo := wire.ClientInfoBody{PeerID: p.ID, Username: p.Username, Color: p.Color}
	s.registry.RangeExcept(p.ID, func(existing *peer.Peer) {
		existingInfo := wire.ClientInfoBody{PeerID: existing.ID, Username: existing.Username, Color: existing.Color}
		s.out.SendReliable(p, wire.ClientInfo, existingInfo.Encode())
		s.out.SendReliable(existing, wire.ClientInfo, newPeerInfo.Encode())
	})

	s.queue.Push(upcall.Event{Kind: upcall.OnPeerConnected, PeerID: p.ID})
	s.queue.Push(upcall.Event{Kind: upcall.OnPeerListChanged})
}

// HandleConnectionClosed processes a ConnectionClosed frame from addr.
func (s *Server) HandleConnectionClosed(addr *net.UDPAddr) {
	p, ok := s.registry.ByAddr(addr)
	if !ok {
		return
	}
	s.evict(p, wire.ReasonGraceful)
}

// Evict removes p from the registry and notifies remaining peers and the
// host, for any cause (graceful close, retransmit exhaustion, admin kick).
func (s *Server) Evict(p *peer.Peer, reason wire.ClosedReason) {
	s.evict(p, reason)
}

func (s *Server) evict(p *peer.Peer, reason wire.ClosedReason) {
	if _, ok := s.registry.Remove(p.ID); !ok {
		return
	}
	body := wire.ClientDisconnectedBody{PeerID: p.ID, Reason: reason}.Encode()
	s.registry.Range(func(other *peer.Peer) {
		s.out.SendControl(other.Addr, wire.ClientDisconnected, body)
	})
	s.queue.Push(upcall.Event{Kind: upcall.OnPeerDisconnected, PeerID: p.ID})
	s.queue.Push(upcall.Event{Kind: upcall.OnPeerListChanged})
}
