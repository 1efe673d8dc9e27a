package handshake

import (
	"crypto/sha256"
	"encoding/binary"
	"net"
	"sync"

	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// ClientOutbound is the symmetric client-side sink: a client never has
// peers to address (it only ever talks to the server), so it writes
// directly to its one remote address.
type ClientOutbound interface {
	SendTo(addr *net.UDPAddr, kind wire.Kind, body []byte)
}

// State is the connection lifecycle state a client observes locally.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Client drives the client side of the handshake: send
// ConnectionRequest, answer the server's nonce challenge, and finalize
// once ConnectionAccepted arrives.
type Client struct {
	mu         sync.Mutex
	state      State
	serverAddr *net.UDPAddr
	username   string
	color      wire.Color
	localID    byte
	out        ClientOutbound
	queue      *upcall.Queue
}

// NewClient builds a client-side handshake driver for the given identity.
func NewClient(username string, color wire.Color, out ClientOutbound, queue *upcall.Queue) *Client {
	return &Client{username: username, color: color, out: out, queue: queue}
}

// Connect begins a connection attempt to addr by sending ConnectionRequest
// and moving to StateConnecting.
func (c *Client) Connect(addr *net.UDPAddr) {
	c.mu.Lock()
	c.serverAddr = addr
	c.state = StateConnecting
	c.mu.Unlock()

	c.queue.Push(upcall.Event{Kind: upcall.OnConnecting})
	c.out.SendTo(addr, wire.ConnectionRequest, nil)
}

// HandleConnectionChallenge answers the server's nonce with its SHA-256
// and this client's identity.
func (c *Client) HandleConnectionChallenge(body wire.ConnectionChallengeBody) {
	c.mu.Lock()
	addr := c.serverAddr
	c.mu.Unlock()
	if addr == nil {
		return
	}

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], body.Nonce)
	hash := sha256.Sum256(nonceBuf[:])

	answer := wire.ChallengeAnswerBody{Username: c.username, Color: c.color, Hash: hash}
	c.out.SendTo(addr, wire.ChallengeAnswer, answer.Encode())
}

// HandleConnectionAccepted finalizes the connection: the server has
// assigned this client a peer ID.
func (c *Client) HandleConnectionAccepted(body wire.ConnectionAcceptedBody) {
	c.mu.Lock()
	c.state = StateConnected
	c.localID = body.PeerID
	c.mu.Unlock()

	c.queue.Push(upcall.Event{Kind: upcall.OnConnected, PeerID: body.PeerID})
}

// HandleConnectionDenied reverts to StateDisconnected and pushes
// OnDisconnected; body.Reason is not passed on to the host application.
func (c *Client) HandleConnectionDenied(body wire.ConnectionDeniedBody) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.serverAddr = nil
	c.mu.Unlock()

	c.queue.Push(upcall.Event{Kind: upcall.OnDisconnected})
}

// HandleConnectionClosed reacts to the server tearing down the session
// (administrative kick, shutdown, or loss-of-liveness eviction).
func (c *Client) HandleConnectionClosed(body wire.ConnectionClosedBody) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.serverAddr = nil
	c.mu.Unlock()

	c.queue.Push(upcall.Event{Kind: upcall.OnDisconnected})
}

// Disconnect sends ConnectionClosed and locally resets to
// StateDisconnected without waiting for any server acknowledgement.
func (c *Client) Disconnect() {
	c.mu.Lock()
	addr := c.serverAddr
	c.state = StateDisconnected
	c.serverAddr = nil
	c.mu.Unlock()

	if addr != nil {
		c.out.SendTo(addr, wire.ConnectionClosed, wire.ConnectionClosedBody{Reason: wire.ReasonGraceful}.Encode())
	}
}

// State reports the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalID reports the peer ID assigned by the server once connected.
func (c *Client) LocalID() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}
