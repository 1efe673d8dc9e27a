// Package reassembly implements chunk bookkeeping for oversized reliable
// payloads: a chunked data frame carries (sequence, slice index, slice
// count, slice bytes); delivery happens exactly once, only once every
// slice in the set has arrived.
package reassembly

import (
	"bytes"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/seqnum"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

// HandleSlice records one arrived slice of a chunked message under p and
// reports whether the logical packet is now complete. Slices are keyed by
// the logical sequence and concatenated in ascending index order once the
// collected count matches the declared count.
//
// duplicate reports whether the slice was dropped because its sequence is
// not new on an ordered (ReliableData) channel; it does not apply to
// ReliableUnorderedData, which is never deduped. Partially collected
// sequences persist in p until completion or peer removal.
func HandleSlice(p *peer.Peer, kind wire.Kind, body wire.DataBody) (payload []byte, complete bool, duplicate bool) {
	if kind == wire.ReliableData {
		if !seqnum.IsNew(body.Sequence, p.ReliableRemoteIn()) {
			return nil, false, true
		}
	}

	collected := p.StoreRecvChunk(body.Sequence, body.SliceIndex, body.Payload)
	if uint16(collected) != body.SliceCount {
		return nil, false, false
	}

	slices := p.TakeRecvChunks(body.Sequence)
	var buf bytes.Buffer
	for i := uint16(0); i < body.SliceCount; i++ {
		buf.Write(slices[i])
	}
	return buf.Bytes(), true, false
}
