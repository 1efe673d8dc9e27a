package transport

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/moduled-net-go/internal/config"
	"github.com/ventosilenzioso/moduled-net-go/internal/logging"
	"github.com/ventosilenzioso/moduled-net-go/internal/upcall"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// testClient is a bare-bones stand-in for a connecting peer, driving the
// wire protocol directly rather than through internal/transport.Client,
// so these tests exercise the server's handshake/relay logic in
// isolation.
type testClient struct {
	t    *testing.T
	conn *net.UDPConn
	seq  uint16
}

func dial(t *testing.T, server *net.UDPAddr) *testClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, server)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(kind wire.Kind, chunked bool, body []byte) {
	_, err := c.conn.Write(wire.Encode(kind, chunked, body))
	require.NoError(c.t, err)
}

func (c *testClient) recv() (wire.Kind, bool, []byte) {
	c.t.Helper()
	buf := make([]byte, 65535)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err)
	kind, chunked, body, err := wire.Classify(buf[:n])
	require.NoError(c.t, err)
	return kind, chunked, body
}

func (c *testClient) recvKind(want wire.Kind) []byte {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		kind, _, body := c.recv()
		if kind == want {
			return body
		}
	}
	c.t.Fatalf("never received frame of kind %s", want)
	return nil
}

// handshakeAs performs the full ConnectionRequest/Challenge/Answer/Accept
// exchange and returns the assigned peer ID.
func (c *testClient) handshakeAs(username string) byte {
	c.send(wire.ConnectionRequest, false, nil)
	challenge, err := wire.DecodeConnectionChallengeBody(c.recvKind(wire.ConnectionChallenge))
	require.NoError(c.t, err)

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], challenge.Nonce)
	hash := sha256.Sum256(nonceBuf[:])

	c.send(wire.ChallengeAnswer, false, wire.ChallengeAnswerBody{Username: username, Hash: hash}.Encode())
	accepted, err := wire.DecodeConnectionAcceptedBody(c.recvKind(wire.ConnectionAccepted))
	require.NoError(c.t, err)
	return accepted.PeerID
}

func (c *testClient) nextSeq() uint16 {
	c.seq++
	return c.seq
}

func (c *testClient) sendReliableData(destID byte, moduleID, payload []byte) {
	body := wire.DataBody{Sequence: c.nextSeq(), SenderID: 0, DestID: destID, ModuleID: moduleID, Payload: payload}
	c.send(wire.ReliableData, false, body.Encode())
}

func newTestServer(t *testing.T) (*Server, *net.UDPAddr) {
	t.Helper()
	cfg := config.Config{
		Port: 0, MaxClients: 4, MTU: 512, RTTMillis: 50,
		MaxResendReliablePackets: 3, ServerHeartbeatDelayMS: 0,
	}
	queue := upcall.NewQueue()
	log := logging.New(queue, false)
	srv, err := NewServer(cfg, queue, log, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx) }()

	return srv, srv.LocalAddr()
}

// Client A (assigned ID 2) sends reliable data with destination set to
// broadcast, and client B (assigned ID 3) observes it stamped with
// sender 2.
func TestHandshakeThenRelayBroadcast(t *testing.T) {
	_, addr := newTestServer(t)

	a := dial(t, addr)
	aID := a.handshakeAs("a")
	require.Equal(t, byte(2), aID)

	b := dial(t, addr)
	bID := b.handshakeAs("b")
	require.Equal(t, byte(3), bID)

	// Both sides exchange ClientInfo on connect; drain what's pending.
	a.recvKind(wire.ClientInfo) // server identity
	b.recvKind(wire.ClientInfo) // server identity
	b.recvKind(wire.ClientInfo) // a's info, fanned out when b connected

	a.sendReliableData(0, []byte{0x01}, []byte{0xDE, 0xAD})

	relayed := b.recvKind(wire.ReliableData)
	body, err := wire.DecodeDataBody(relayed, false)
	require.NoError(t, err)
	require.Equal(t, aID, body.SenderID)
	require.Equal(t, []byte{0x01}, body.ModuleID)
	require.Equal(t, []byte{0xDE, 0xAD}, body.Payload)
}

// A frame whose source address equals the server's own bound address is
// ignored.
func TestLoopbackGuardDropsSelfSourcedFrames(t *testing.T) {
	srv, addr := newTestServer(t)

	selfAddr := &net.UDPAddr{IP: addr.IP, Port: addr.Port}
	conn, err := net.DialUDP("udp", selfAddr, addr)
	if err != nil {
		t.Skipf("cannot bind a socket claiming the server's own address in this sandbox: %v", err)
	}
	defer conn.Close()

	_, err = conn.Write(wire.Encode(wire.ConnectionRequest, false, nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.registry.Len() == 0
	}, 200*time.Millisecond, 10*time.Millisecond)
}

// A frame whose source address equals the client's own bound address is
// ignored, same as on the server side.
func TestClientLoopbackGuardDropsSelfSourcedFrames(t *testing.T) {
	cfg := config.Config{
		MaxClients: 4, MTU: 512, RTTMillis: 50,
		MaxResendReliablePackets: 3,
	}
	queue := upcall.NewQueue()
	log := logging.New(queue, false)
	c, err := NewClient(cfg, "a", wire.Color{}, queue, log, nil)
	require.NoError(t, err)

	connected := make(chan byte, 1)
	queue.On(upcall.OnConnected, func(e upcall.Event) { connected <- e.PeerID })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()

	selfAddr := c.LocalAddr()
	conn, err := net.DialUDP("udp", &net.UDPAddr{IP: selfAddr.IP, Port: selfAddr.Port}, selfAddr)
	if err != nil {
		t.Skipf("cannot bind a socket claiming the client's own address in this sandbox: %v", err)
	}
	defer conn.Close()

	_, err = conn.Write(wire.Encode(wire.ConnectionAccepted, false, wire.ConnectionAcceptedBody{PeerID: 2}.Encode()))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	queue.Tick()
	select {
	case <-connected:
		t.Fatal("spoofed self-sourced frame must not complete the handshake")
	default:
	}
}
