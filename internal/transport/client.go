package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

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

// Client is the client-role transport. A client holds exactly one
// session, with the server, so all sequence counters and buffers live on
// a single *peer.Peer; other connected peers are tracked only as a
// roster of (id, username, color) built from ClientInfo frames, never as
// separate sequencing sessions.
type Client struct {
	cfg    config.Config
	conn   *net.UDPConn
	server *peer.Peer

	hc      *handshake.Client
	queue   *upcall.Queue
	log     *logging.Logger
	metrics *metrics.Metrics
	sched   *retransmit.Scheduler
	sender  *sender

	mu     sync.RWMutex
	roster map[byte]wire.ClientInfoBody
}

// NewClient binds an ephemeral local UDP port and wires the handshake
// driver, retransmit scheduler, and sender worker.
func NewClient(cfg config.Config, username string, color wire.Color, queue *upcall.Queue, log *logging.Logger, m *metrics.Metrics) (*Client, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("transport: binding client socket: %w", err)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		queue:   queue,
		log:     log,
		metrics: m,
		roster:  make(map[byte]wire.ClientInfoBody),
	}
	c.sender = newSender(conn, cfg, m)
	resend := func(addr *net.UDPAddr, frame []byte) error {
		if m != nil {
			m.Retransmits.Inc()
		}
		return c.sender.writeRaw(addr, frame)
	}
	c.sched = retransmit.NewScheduler(cfg.RTT(), cfg.MaxResendReliablePackets, resend, c.handleEviction)
	c.hc = handshake.NewClient(username, color, c, queue)
	return c, nil
}

// LocalAddr reports the bound socket address (used by the loopback guard
// and by tests).
func (c *Client) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

// Connect begins the handshake with the server at addr.
func (c *Client) Connect(addr *net.UDPAddr) {
	c.hc.Connect(addr)
}

// Disconnect sends ConnectionClosed to the server.
func (c *Client) Disconnect() { c.hc.Disconnect() }

// Run starts the sender and listener workers.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return c.conn.Close()
	})
	g.Go(func() error { return c.sender.run(ctx) })
	g.Go(func() error { return c.listen(ctx) })
	return g.Wait()
}

func (c *Client) handleEviction(p *peer.Peer, reason wire.ClosedReason) {
	c.hc.HandleConnectionClosed(wire.ConnectionClosedBody{Reason: reason})
}

// --- handshake.ClientOutbound ---

func (c *Client) SendTo(addr *net.UDPAddr, kind wire.Kind, body []byte) {
	c.sender.writeControl(addr, kind, body)
}

// --- application send API ---

func (c *Client) sessionPeer(addr *net.UDPAddr) *peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		c.server = peer.New(peer.ServerID, addr, "", wire.Color{})
	}
	return c.server
}

// SendReliableData sends a reliable-ordered message to the server,
// optionally addressed (via receiver) for it to relay further.
func (c *Client) SendReliableData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	c.sendData(wire.ReliableData, moduleID, payload, receiver, done)
}

func (c *Client) SendReliableUnorderedData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	c.sendData(wire.ReliableUnorderedData, moduleID, payload, receiver, done)
}

func (c *Client) SendUnreliableData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	c.sendData(wire.UnreliableData, moduleID, payload, receiver, done)
}

func (c *Client) SendUnreliableUnorderedData(moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	c.sendData(wire.UnreliableUnorderedData, moduleID, payload, receiver, done)
}

func (c *Client) sendData(kind wire.Kind, moduleID, payload []byte, receiver *byte, done CompletionFunc) {
	c.mu.RLock()
	p := c.server
	c.mu.RUnlock()
	if p == nil {
		if done != nil {
			done(false) // not connected
		}
		return
	}

	destID := peer.BroadcastID
	if receiver != nil {
		destID = *receiver
	}
	if !kind.IsReliableKind() && len(payload) > c.sender.maxSlicePayload(c.cfg.MTU) {
		c.log.Warn("transport: rejecting oversized %s payload (%d bytes)", kind, len(payload))
		if done != nil {
			done(false)
		}
		return
	}

	c.sender.sendSequenced(p, kind, moduleID, payload, c.hc.LocalID(), destID, c.sched)
	if done != nil {
		done(true)
	}
}

func (c *Client) listen(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: client listener read: %w", err)
			}
		}
		if addr.IP.Equal(c.LocalAddr().IP) && addr.Port == c.LocalAddr().Port {
			continue // loopback echo guard
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		c.onFrame(addr, frame)
	}
}

func (c *Client) onFrame(addr *net.UDPAddr, raw []byte) {
	kind, chunked, body, err := wire.Classify(raw)
	if err != nil {
		if c.metrics != nil {
			c.metrics.PacketsDropped.WithLabelValues("malformed").Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.PacketsReceived.WithLabelValues(kind.String()).Inc()
	}

	switch kind {
	case wire.ConnectionChallenge:
		ch, err := wire.DecodeConnectionChallengeBody(body)
		if err == nil {
			c.hc.HandleConnectionChallenge(ch)
		}
	case wire.ConnectionAccepted:
		acc, err := wire.DecodeConnectionAcceptedBody(body)
		if err == nil {
			c.sessionPeer(addr)
			c.hc.HandleConnectionAccepted(acc)
		}
	case wire.ConnectionDenied:
		den, err := wire.DecodeConnectionDeniedBody(body)
		if err == nil {
			c.hc.HandleConnectionDenied(den)
		}
	case wire.ConnectionClosed:
		cl, err := wire.DecodeConnectionClosedBody(body)
		if err == nil {
			c.hc.HandleConnectionClosed(cl)
		}
	case wire.ClientDisconnected:
		dc, err := wire.DecodeClientDisconnectedBody(body)
		if err == nil {
			c.removeFromRoster(dc.PeerID)
			c.queue.Push(upcall.Event{Kind: upcall.OnPeerDisconnected, PeerID: dc.PeerID})
			c.queue.Push(upcall.Event{Kind: upcall.OnPeerListChanged})
		}
	case wire.ACK:
		c.handleACK(body)
	case wire.ClientInfo:
		c.handleClientInfoFrame(body)
	default:
		if !kind.IsDataKind() {
			return
		}
		p := c.sessionPeer(addr)
		p.Touch()
		c.handleData(p, kind, chunked, body)
	}
}

func (c *Client) handleACK(body []byte) {
	c.mu.RLock()
	p := c.server
	c.mu.RUnlock()
	if p == nil {
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

func (c *Client) handleClientInfoFrame(raw []byte) {
	c.mu.RLock()
	p := c.server
	c.mu.RUnlock()
	if p == nil {
		return
	}
	seq, _, err := wire.DecodeClientInfoFrame(raw)
	if err != nil {
		return
	}
	result := sequencer.Process(p, wire.ClientInfo, seq, nil, raw, peer.ServerID, peer.ServerID)
	if result.ShouldACK {
		c.ackData(p, seq, false, 0)
	}
	for _, d := range result.Delivered {
		_, deliveredInfo, err := wire.DecodeClientInfoFrame(d.Payload)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.roster[deliveredInfo.PeerID] = deliveredInfo
		c.mu.Unlock()
		c.queue.Push(upcall.Event{Kind: upcall.OnPeerListChanged})
	}
}

func (c *Client) removeFromRoster(id byte) {
	c.mu.Lock()
	delete(c.roster, id)
	c.mu.Unlock()
}

func (c *Client) handleData(p *peer.Peer, kind wire.Kind, chunked bool, rawBody []byte) {
	body, err := wire.DecodeDataBody(rawBody, chunked)
	if err != nil {
		if c.metrics != nil {
			c.metrics.PacketsDropped.WithLabelValues("malformed").Inc()
		}
		return
	}

	var payload []byte
	if chunked {
		if kind.IsReliableKind() {
			c.ackData(p, body.Sequence, true, body.SliceIndex)
		}
		reassembled, complete, _ := reassembly.HandleSlice(p, kind, body)
		if !complete {
			return
		}
		payload = reassembled
		if c.metrics != nil {
			c.metrics.ChunksReassembled.Inc()
		}
	} else {
		payload = body.Payload
	}

	result := sequencer.Process(p, kind, body.Sequence, body.ModuleID, payload, body.SenderID, body.DestID)
	if result.ShouldACK && !chunked {
		c.ackData(p, body.Sequence, false, 0)
	}
	for _, d := range result.Delivered {
		c.queue.Push(upcall.Event{Kind: upcall.DataReceived, PeerID: d.SenderID, ModuleID: d.ModuleID, Payload: d.Payload})
	}
}

func (c *Client) ackData(p *peer.Peer, seq uint16, hasSlice bool, sliceIdx uint16) {
	body := wire.ACKBody{Sequence: seq, HasSlice: hasSlice, SliceIdx: sliceIdx}.Encode()
	c.sender.writeControl(p.Addr, wire.ACK, body)
}

// Roster returns a snapshot of every peer currently known via ClientInfo.
func (c *Client) Roster() map[byte]wire.ClientInfoBody {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[byte]wire.ClientInfoBody, len(c.roster))
	for k, v := range c.roster {
		out[k] = v
	}
	return out
}
