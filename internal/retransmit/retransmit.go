// Package retransmit implements the time-based resend of unacknowledged
// reliable frames: for every reliable frame emitted, a delayed task is
// armed with wait = 1.25 * RTT; if the frame is still unacknowledged when
// it fires, it is retransmitted and the task re-armed with retries+1,
// until the configured maximum is reached, at which point the peer is
// evicted as unreachable. The send buffer is the source of truth: an
// entry is present iff the frame is still owed.
package retransmit

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// SendFunc transmits a raw frame to addr, e.g. the sender's socket write.
type SendFunc func(addr *net.UDPAddr, frame []byte) error

// EvictFunc is invoked once retries are exhausted for some sequence on p;
// the caller must remove p from the registry and broadcast
// ClientDisconnected with the given reason.
type EvictFunc func(p *peer.Peer, reason wire.ClosedReason)

// Scheduler arms and re-arms retransmit timers for outstanding reliable
// sends, one per (peer, sequence) or (peer, sequence, slice).
type Scheduler struct {
	delay      time.Duration
	maxRetries int
	send       SendFunc
	evict      EvictFunc
	// limiter smooths bursts of simultaneously-expiring timers, e.g. many
	// sequences to the same peer timing out in the same tick, rather than
	// writing them to the socket all at once.
	limiter *rate.Limiter
}

// NewScheduler builds a Scheduler. rtt is the configured round-trip-time
// estimate; the resend delay is 1.25 * rtt.
func NewScheduler(rtt time.Duration, maxRetries int, send SendFunc, evict EvictFunc) *Scheduler {
	delay := time.Duration(float64(rtt) * 1.25)
	return &Scheduler{
		delay:      delay,
		maxRetries: maxRetries,
		send:       send,
		evict:      evict,
		limiter:    rate.NewLimiter(rate.Limit(200), 50),
	}
}

// ArmPacket stores frame as the outstanding send for (p, seq) and arms the
// first retransmit timer for it.
func (s *Scheduler) ArmPacket(p *peer.Peer, seq uint16, frame []byte) {
	p.StoreSendPacket(seq, frame)
	s.armPacket(p, seq, 0)
}

func (s *Scheduler) armPacket(p *peer.Peer, seq uint16, retries int) {
	time.AfterFunc(s.delay, func() {
		frame, outstanding := p.GetSendPacket(seq)
		if !outstanding {
			return // ACKed since the timer was armed; quietly exit
		}
		if retries >= s.maxRetries {
			p.RemoveSendPacket(seq)
			s.evict(p, wire.ReasonUnreachable)
			return
		}
		s.resend(p, frame)
		s.armPacket(p, seq, retries+1)
	})
}

// ArmChunk stores frame as the outstanding send for one slice of a
// chunked message and arms its retransmit timer.
func (s *Scheduler) ArmChunk(p *peer.Peer, key peer.ChunkKey, frame []byte) {
	p.StoreSendChunk(key, frame)
	s.armChunk(p, key, 0)
}

func (s *Scheduler) armChunk(p *peer.Peer, key peer.ChunkKey, retries int) {
	time.AfterFunc(s.delay, func() {
		frame, outstanding := p.GetSendChunk(key)
		if !outstanding {
			return
		}
		if retries >= s.maxRetries {
			p.RemoveSendChunk(key)
			s.evict(p, wire.ReasonUnreachable)
			return
		}
		s.resend(p, frame)
		s.armChunk(p, key, retries+1)
	})
}

func (s *Scheduler) resend(p *peer.Peer, frame []byte) {
	if s.limiter != nil {
		_ = s.limiter.Wait(context.Background())
	}
	_ = s.send(p.Addr, frame)
}

// AcknowledgePacket removes the outstanding send for (p, seq); the next
// armed task for it observes the absence and exits quietly.
func AcknowledgePacket(p *peer.Peer, seq uint16) {
	p.RemoveSendPacket(seq)
}

// AcknowledgeChunk removes the outstanding send for one slice.
func AcknowledgeChunk(p *peer.Peer, key peer.ChunkKey) {
	p.RemoveSendChunk(key)
}
