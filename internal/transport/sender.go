package transport

import (
	"context"
	"net"

	"github.com/ventosilenzioso/moduled-net-go/internal/config"
	"github.com/ventosilenzioso/moduled-net-go/internal/metrics"
	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/retransmit"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// sliceOverhead approximates the fixed per-slice body header cost
// (sequence, slice index, slice count, sender, dest, a zero-length
// module_id, and the payload-length prefix), which is subtracted from the
// configured MTU to size slices. The 5-byte CRC/type frame header and any
// module_id bytes are not counted.
const sliceOverhead = 2 + 2 + 2 + 1 + 1 + 1 + 2

// sender is the single serialized writer: every sequenced send, server
// or client, is enqueued here so per-peer sequence assignment stays
// ordered rather than racing across goroutines that might call Send
// concurrently.
type sender struct {
	conn    *net.UDPConn
	cfg     config.Config
	metrics *metrics.Metrics
	jobs    chan func()
}

func newSender(conn *net.UDPConn, cfg config.Config, m *metrics.Metrics) *sender {
	return &sender{conn: conn, cfg: cfg, metrics: m, jobs: make(chan func(), 256)}
}

func (s *sender) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.jobs:
			job()
		}
	}
}

func (s *sender) enqueue(job func()) {
	select {
	case s.jobs <- job:
	default:
		job() // queue full: run inline rather than drop a send
	}
}

// writeRaw satisfies retransmit.SendFunc.
func (s *sender) writeRaw(addr *net.UDPAddr, frame []byte) error {
	_, err := s.conn.WriteToUDP(frame, addr)
	return err
}

func (s *sender) writeControl(addr *net.UDPAddr, kind wire.Kind, body []byte) {
	s.enqueue(func() {
		_ = s.writeRaw(addr, wire.Encode(kind, false, body))
	})
}

func (s *sender) maxSlicePayload(mtu int) int {
	n := mtu - sliceOverhead
	if n < 1 {
		n = 1
	}
	return n
}

// sendClientInfo assigns the next reliable sequence to a ClientInfo frame
// and arms its retransmit timer.
func (s *sender) sendClientInfo(target *peer.Peer, info wire.ClientInfoBody, sched *retransmit.Scheduler) {
	s.enqueue(func() {
		seq := target.NextReliableSeq()
		frame := wire.Encode(wire.ClientInfo, false, wire.EncodeClientInfoFrame(seq, info))
		sched.ArmPacket(target, seq, frame)
		_ = s.writeRaw(target.Addr, frame)
	})
}

// sendSequenced assigns the appropriate sequence counter for kind,
// chunks the payload if it is a reliable kind exceeding the MTU, arms
// retransmit timers for reliable sends, and transmits to target.
func (s *sender) sendSequenced(target *peer.Peer, kind wire.Kind, moduleID, payload []byte, senderID, destID byte, sched *retransmit.Scheduler) {
	s.enqueue(func() {
		reliable := kind.IsReliableKind()
		var seq uint16
		if reliable {
			seq = target.NextReliableSeq()
		} else {
			seq = target.NextUnreliableSeq()
		}

		maxPayload := s.maxSlicePayload(s.cfg.MTU)
		if !reliable || len(payload) <= maxPayload {
			body := wire.DataBody{Sequence: seq, SenderID: senderID, DestID: destID, ModuleID: moduleID, Payload: payload}
			frame := wire.Encode(kind, false, body.Encode())
			if reliable {
				sched.ArmPacket(target, seq, frame)
			}
			_ = s.writeRaw(target.Addr, frame)
			if s.metrics != nil {
				s.metrics.PacketsSent.WithLabelValues(kind.String()).Inc()
			}
			return
		}

		slices := chunkPayload(payload, maxPayload)
		for i, slice := range slices {
			body := wire.DataBody{
				Sequence:   seq,
				Chunked:    true,
				SliceIndex: uint16(i),
				SliceCount: uint16(len(slices)),
				SenderID:   senderID,
				DestID:     destID,
				ModuleID:   moduleID,
				Payload:    slice,
			}
			frame := wire.Encode(kind, true, body.Encode())
			key := peer.ChunkKey{Sequence: seq, SliceIndex: uint16(i)}
			sched.ArmChunk(target, key, frame)
			_ = s.writeRaw(target.Addr, frame)
			if s.metrics != nil {
				s.metrics.PacketsSent.WithLabelValues(kind.String()).Inc()
			}
		}
	})
}

func chunkPayload(payload []byte, maxPayload int) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var slices [][]byte
	for off := 0; off < len(payload); off += maxPayload {
		end := off + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		slices = append(slices, payload[off:end])
	}
	return slices
}
