package retransmit

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// With zero ACKs ever returning, a reliable send triggers exactly
// max_resend_reliable_packets retransmissions, after which the peer is
// evicted with reason unreachable.
func TestRetransmitCapEvictsAfterMaxRetries(t *testing.T) {
	const maxRetries = 3
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	require.NoError(t, err)
	p := peer.New(2, addr, "a", wire.Color{})

	var mu sync.Mutex
	sendCount := 0
	evicted := make(chan wire.ClosedReason, 1)

	sched := NewScheduler(4*time.Millisecond, maxRetries,
		func(addr *net.UDPAddr, frame []byte) error {
			mu.Lock()
			sendCount++
			mu.Unlock()
			return nil
		},
		func(p *peer.Peer, reason wire.ClosedReason) {
			evicted <- reason
		},
	)

	sched.ArmPacket(p, 1, []byte{0xAA})

	select {
	case reason := <-evicted:
		require.Equal(t, wire.ReasonUnreachable, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("peer was never evicted")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, maxRetries, sendCount, "expected exactly max_resend_reliable_packets retransmissions")
}

func TestAcknowledgeStopsFurtherRetransmission(t *testing.T) {
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	p := peer.New(2, addr, "a", wire.Color{})

	var mu sync.Mutex
	sendCount := 0
	evicted := make(chan struct{}, 1)

	sched := NewScheduler(4*time.Millisecond, 100,
		func(addr *net.UDPAddr, frame []byte) error {
			mu.Lock()
			sendCount++
			mu.Unlock()
			return nil
		},
		func(p *peer.Peer, reason wire.ClosedReason) { evicted <- struct{}{} },
	)

	sched.ArmPacket(p, 1, []byte{0xAA})
	time.Sleep(15 * time.Millisecond)
	AcknowledgePacket(p, 1)

	countAfterAck := func() int {
		mu.Lock()
		defer mu.Unlock()
		return sendCount
	}()

	time.Sleep(30 * time.Millisecond)

	select {
	case <-evicted:
		t.Fatal("peer should not be evicted once the sequence is acknowledged")
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, sendCount, countAfterAck+1, "no further retransmission should occur after ACK")
}
