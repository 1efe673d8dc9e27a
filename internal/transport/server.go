// Package transport implements the multi-threaded I/O pipeline: listener,
// sender, and heartbeat workers, plus the session-manager relay rules
// between connected peers.
package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/ventosilenzioso/moduled-net-go/internal/config"
	"github.com/ventosilenzioso/moduled-net-go/internal/handshake"
	"github.com/ventosilenzioso/moduled-net-go/internal/logging"
	"github.com/ventosilenzioso/moduled-net-go/internal/metrics"
	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/reassembly"
	"github.com/ventosilenzioso/moduled-net-go/internal/retransmit"
	"github.com/ventosilenzioso/moduled-net-go/internal/sequencer"
	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Server is the server-role transport: it owns the data socket, the
// broadcast heartbeat socket, the peer registry, and the handshake state
// machine, and relays addressed and broadcast data between peers.
type Server struct {
	cfg  config.Config
	conn *net.UDPConn

	registry *peer.Registry
	hs       *handshake.Server
	queue    *upcall.Queue
	log      *logging.Logger
	metrics  *metrics.Metrics
	sched    *retransmit.Scheduler
	sender   *sender
}

// NewServer binds the data socket and wires the registry, handshake state
// machine, retransmit scheduler, and sender worker together.
func NewServer(cfg config.Config, queue *upcall.Queue, log *logging.Logger, m *metrics.Metrics) (*Server, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: binding data socket on port %d: %w", cfg.Port, err)
	}

	s := &Server{
		cfg:      cfg,
		conn:     conn,
		registry: peer.NewRegistry(cfg.MaxClients),
		queue:    queue,
		log:      log,
		metrics:  m,
	}
	s.sender = newSender(conn, cfg, m)
	resend := func(addr *net.UDPAddr, frame []byte) error {
		if m != nil {
			m.Retransmits.Inc()
		}
		return s.sender.writeRaw(addr, frame)
	}
	s.sched = retransmit.NewScheduler(cfg.RTT(), cfg.MaxResendReliablePackets, resend, s.handleEviction)
	s.hs = handshake.NewServer(s.registry, s, queue, wire.ClientInfoBody{PeerID: peer.ServerID, Username: cfg.ServerName})
	return s, nil
}

// LocalAddr reports the bound data-socket address (used by the loopback
// guard and by tests).
func (s *Server) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

// Run starts the listener, sender, and heartbeat workers as one
// cancelable group: the first worker to return an error cancels the
// others via ctx, and closing the socket unblocks a listener parked in
// ReadFromUDP.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error { return s.sender.run(ctx) })
	g.Go(func() error { return s.listen(ctx) })
	if s.cfg.ServerHeartbeatDelayMS > 0 {
		hb := newHeartbeat(s.cfg, s.registry, s.metrics)
		g.Go(func() error { return hb.run(ctx) })
	}

	err := g.Wait()
	s.queue.Push(upcall.Event{Kind: upcall.OnDisconnected})
	return err
}

// handleEviction satisfies retransmit.EvictFunc: a peer whose retransmit
// budget is exhausted is removed and ClientDisconnected is broadcast.
func (s *Server) handleEviction(p *peer.Peer, reason wire.ClosedReason) {
	s.hs.Evict(p, reason)
	s.syncPeerGauge()
}

func (s *Server) syncPeerGauge() {
	if s.metrics != nil {
		s.metrics.ConnectedPeers.Set(float64(s.registry.Len()))
	}
}

// --- handshake.Outbound ---

// SendControl writes a stateless control frame (challenge/accepted/denied)
// directly to addr; it carries no sequence number and is never retried.
func (s *Server) SendControl(addr *net.UDPAddr, kind wire.Kind, body []byte) {
	s.sender.writeControl(addr, kind, body)
	if s.metrics != nil {
		s.metrics.PacketsSent.WithLabelValues(kind.String()).Inc()
	}
}

// SendReliable assigns the peer's next reliable sequence to a ClientInfo
// frame, arms its retransmit timer, and transmits it. ClientInfo is the
// only kind the handshake routes through the reliable channel; anything
// else is a control frame and goes through SendControl.
func (s *Server) SendReliable(p *peer.Peer, kind wire.Kind, body []byte) {
	if kind != wire.ClientInfo {
		s.SendControl(p.Addr, kind, body)
		return
	}
	info, err := wire.DecodeClientInfoBody(body)
	if err != nil {
		s.log.Error("transport: encoding ClientInfo for peer %d: %v", p.ID, err)
		return
	}
	s.sender.sendClientInfo(p, info, s.sched)
	if s.metrics != nil {
		s.metrics.PacketsSent.WithLabelValues(kind.String()).Inc()
	}
}

// --- application send API ---

// CompletionFunc reports whether a send reached the socket (true) or was
// rejected before transmission (false); it never reflects ACK status.
type CompletionFunc func(bool)

// SendReliableData sends module_id/payload to receiver (nil = broadcast)
// via the reliable-ordered discipline, chunking automatically if the
// payload exceeds the configured MTU.
func (s *Server) SendReliableData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	s.sendData(wire.ReliableData, moduleID, payload, receiver, done)
}

// SendReliableUnorderedData is the reliable-unordered counterpart.
func (s *Server) SendReliableUnorderedData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	s.sendData(wire.ReliableUnorderedData, moduleID, payload, receiver, done)
}

// SendUnreliableData is the unreliable-ordered counterpart; oversized
// payloads are rejected (unreliable kinds are never chunked).
func (s *Server) SendUnreliableData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	s.sendData(wire.UnreliableData, moduleID, payload, receiver, done)
}

// SendUnreliableUnorderedData is the unreliable-unordered counterpart.
func (s *Server) SendUnreliableUnorderedData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	s.sendData(wire.UnreliableUnorderedData, moduleID, payload, receiver, done)
}

func (s *Server) sendData(kind wire.Kind, moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	destID := peer.BroadcastID
	if receiver != nil {
		destID = *receiver
	}

	if !kind.IsReliableKind() && len(payload) > s.sender.maxSlicePayload(s.cfg.MTU) {
		s.log.Warn("transport: rejecting oversized %s payload (%d bytes)", kind, len(payload))
		if done != nil {
			done(false)
		}
		return
	}

	targets := s.relayTargets(destID)
	if destID == peer.ServerID || destID == peer.BroadcastID {
		s.queue.Push(upcall.Event{Kind: upcall.DataReceived, PeerID: peer.ServerID, ModuleID: moduleID, Payload: payload})
	}
	if len(targets) == 0 && destID != peer.ServerID && destID != peer.BroadcastID {
		s.notifyUnknownTarget(destID, nil)
		if done != nil {
			done(false)
		}
		return
	}

	for _, target := range targets {
		s.sender.sendSequenced(target, kind, moduleID, payload, peer.ServerID, destID, s.sched)
	}
	if done != nil {
		done(true)
	}
}

func (s *Server) relayTargets(destID byte) []*peer.Peer {
	var targets []*peer.Peer
	switch {
	case destID == peer.BroadcastID:
		s.registry.Range(func(p *peer.Peer) { targets = append(targets, p) })
	case destID == peer.ServerID:
		// local-only; nothing forwarded
	default:
		if p, ok := s.registry.Lookup(destID); ok {
			targets = append(targets, p)
		}
	}
	return targets
}

// notifyUnknownTarget replies to requester (if non-nil) with
// ClientDisconnected(destID) so it can prune a stale peer list entry.
func (s *Server) notifyUnknownTarget(destID byte, requester *peer.Peer) {
	if requester == nil {
		return
	}
	body := wire.ClientDisconnectedBody{PeerID: destID, Reason: wire.ReasonGraceful}.Encode()
	s.sender.writeControl(requester.Addr, wire.ClientDisconnected, body)
}

// OnFrame is the classifier dispatch entry point invoked by the listener
// for every frame received from addr.
func (s *Server) OnFrame(addr *net.UDPAddr, raw []byte) {
	kind, chunked, body, err := wire.Classify(raw)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PacketsDropped.WithLabelValues("malformed").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.PacketsReceived.WithLabelValues(kind.String()).Inc()
	}

	switch kind {
	case wire.ConnectionRequest:
		s.hs.HandleConnectionRequest(addr)
	case wire.ChallengeAnswer:
		ans, err := wire.DecodeChallengeAnswerBody(body)
		if err == nil {
			s.hs.HandleChallengeAnswer(addr, ans)
			s.syncPeerGauge()
		}
	case wire.ConnectionClosed:
		s.hs.HandleConnectionClosed(addr)
		s.syncPeerGauge()
	case wire.ACK:
		s.handleACK(addr, body)
	default:
		if !kind.IsDataKind() {
			return // ClientInfo and beacons are never inbound on the server's data socket
		}
		p, ok := s.registry.ByAddr(addr)
		if !ok {
			return // data from an unknown/unconnected address is ignored
		}
		p.Touch()
		s.handleData(p, kind, chunked, body)
	}
}

func (s *Server) handleACK(addr *net.UDPAddr, body []byte) {
	p, ok := s.registry.ByAddr(addr)
	if !ok {
		return
	}
	ack, err := wire.DecodeACKBody(body)
	if err != nil {
		return
	}
	if ack.HasSlice {
		retransmit.AcknowledgeChunk(p, peer.ChunkKey{Sequence: ack.Sequence, SliceIndex: ack.SliceIdx})
	} else {
		retransmit.AcknowledgePacket(p, ack.Sequence)
	}
}

func (s *Server) handleData(p *peer.Peer, kind wire.Kind, chunked bool, rawBody []byte) {
	body, err := wire.DecodeDataBody(rawBody, chunked)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PacketsDropped.WithLabelValues("malformed").Inc()
		}
		return
	}

	var payload []byte
	if chunked {
		ackSeq, ackSlice := body.Sequence, body.SliceIndex
		if kind.IsReliableKind() {
			s.ackData(p, ackSeq, true, ackSlice)
		}
		reassembled, complete, _ := reassembly.HandleSlice(p, kind, body)
		if !complete {
			return
		}
		payload = reassembled
		if s.metrics != nil {
			s.metrics.ChunksReassembled.Inc()
		}
	} else {
		payload = body.Payload
	}

	result := sequencer.Process(p, kind, body.Sequence, body.ModuleID, payload, body.SenderID, body.DestID)
	if result.ShouldACK && !chunked {
		s.ackData(p, body.Sequence, false, 0)
	}
	for _, d := range result.Delivered {
		s.relayIncoming(p, kind, d)
	}
}

func (s *Server) ackData(p *peer.Peer, seq uint16, hasSlice bool, sliceIdx uint16) {
	body := wire.ACKBody{Sequence: seq, HasSlice: hasSlice, SliceIdx: sliceIdx}.Encode()
	s.sender.writeControl(p.Addr, wire.ACK, body)
}

// relayIncoming applies the relay rules to a delivered application data
// packet originated by p: dest 1 is local, dest 0 fans out to everyone
// else, any other dest forwards to that peer alone.
func (s *Server) relayIncoming(p *peer.Peer, kind wire.Kind, d sequencer.Delivery) {
	switch {
	case d.DestID == peer.ServerID:
		s.queue.Push(upcall.Event{Kind: upcall.DataReceived, PeerID: p.ID, ModuleID: d.ModuleID, Payload: d.Payload})
	case d.DestID == peer.BroadcastID:
		s.queue.Push(upcall.Event{Kind: upcall.DataReceived, PeerID: p.ID, ModuleID: d.ModuleID, Payload: d.Payload})
		s.registry.RangeExcept(p.ID, func(other *peer.Peer) {
			s.sender.sendSequenced(other, kind, d.ModuleID, d.Payload, p.ID, peer.BroadcastID, s.sched)
		})
	default:
		target, ok := s.registry.Lookup(d.DestID)
		if !ok {
			s.notifyUnknownTarget(d.DestID, p)
			return
		}
		s.sender.sendSequenced(target, kind, d.ModuleID, d.Payload, p.ID, d.DestID, s.sched)
	}
}

func (s *Server) listen(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: listener read: %w", err)
			}
		}
		if addr.IP.Equal(s.LocalAddr().IP) && addr.Port == s.LocalAddr().Port {
			continue // loopback echo guard
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.OnFrame(addr, frame)
	}
}
