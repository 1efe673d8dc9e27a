// Package sequencer implements the per-peer receive pipeline for the four
// delivery disciplines: reliable-ordered, reliable-unordered,
// unreliable-ordered, and unreliable-unordered. It consumes either an
// ordinary data frame or a reassembler-synthesized complete packet and
// produces the in-order delivery sequence plus whatever ACK is owed.
package sequencer

import (
	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/seqnum"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// Delivery is one packet handed to the in-order delivery queue / upcall.
type Delivery struct {
	Sequence uint16
	ModuleID []byte
	Payload  []byte
	SenderID byte
	DestID   byte
}

// Result is the outcome of processing one arrival.
type Result struct {
	Delivered []Delivery
	ShouldACK bool
	Duplicate bool
}

type pendingEntry struct {
	delivery Delivery
}

// Process runs one arrival through the discipline selected by kind.
// moduleID/payload/senderID/destID are the already-decoded (and, for a
// chunked message, already-reassembled) data-packet fields.
func Process(p *peer.Peer, kind wire.Kind, seq uint16, moduleID, payload []byte, senderID, destID byte) Result {
	d := Delivery{Sequence: seq, ModuleID: moduleID, Payload: payload, SenderID: senderID, DestID: destID}

	switch kind {
	case wire.ReliableData, wire.ClientInfo:
		return processReliableOrdered(p, seq, d)
	case wire.ReliableUnorderedData:
		return Result{Delivered: []Delivery{d}, ShouldACK: true}
	case wire.UnreliableData:
		return processUnreliableOrdered(p, seq, d)
	case wire.UnreliableUnorderedData:
		return Result{Delivered: []Delivery{d}}
	default:
		return Result{}
	}
}

func processReliableOrdered(p *peer.Peer, seq uint16, d Delivery) Result {
	remoteIn := p.ReliableRemoteIn()

	if !seqnum.IsNew(seq, remoteIn) {
		return Result{ShouldACK: true, Duplicate: true}
	}

	if !seqnum.IsNext(seq, remoteIn) {
		p.StorePendingPacket(seq, pendingEntry{delivery: d})
		return Result{ShouldACK: true}
	}

	delivered := []Delivery{d}
	remoteIn = seq
	next := remoteIn + 1
	for {
		raw, ok := p.TakePendingPacket(next)
		if !ok {
			break
		}
		entry := raw.(pendingEntry)
		delivered = append(delivered, entry.delivery)
		remoteIn = next
		next = remoteIn + 1
	}
	p.SetReliableRemoteIn(remoteIn)

	return Result{Delivered: delivered, ShouldACK: true}
}

func processUnreliableOrdered(p *peer.Peer, seq uint16, d Delivery) Result {
	remoteIn := p.UnreliableRemoteIn()
	if !seqnum.IsNew(seq, remoteIn) {
		return Result{}
	}
	p.SetUnreliableRemoteIn(seq)
	return Result{Delivered: []Delivery{d}}
}
