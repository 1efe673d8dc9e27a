package reassembly

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

func slice(seq, idx, count uint16, payload []byte) wire.DataBody {
	return wire.DataBody{
		Sequence:   seq,
		Chunked:    true,
		SliceIndex: idx,
		SliceCount: count,
		Payload:    payload,
	}
}

// A 3-slice message with slices arriving out of order [2,0,1] is
// delivered exactly once, after the third slice, with the payload equal
// to the concatenation of slice 0, 1, 2's bytes.
func TestChunkReassembly(t *testing.T) {
	p := peer.New(2, nil, "a", wire.Color{})

	_, complete, dup := HandleSlice(p, wire.ReliableData, slice(5, 2, 3, []byte("ghi")))
	require.False(t, complete)
	require.False(t, dup)

	_, complete, dup = HandleSlice(p, wire.ReliableData, slice(5, 0, 3, []byte("abc")))
	require.False(t, complete)
	require.False(t, dup)

	payload, complete, dup := HandleSlice(p, wire.ReliableData, slice(5, 1, 3, []byte("def")))
	require.True(t, complete)
	require.False(t, dup)
	require.Equal(t, []byte("abcdefghi"), payload)
}

func TestChunkReassemblyDropsOldSequenceOnOrderedChannel(t *testing.T) {
	p := peer.New(2, nil, "a", wire.Color{})
	p.SetReliableRemoteIn(10)

	_, complete, dup := HandleSlice(p, wire.ReliableData, slice(3, 0, 1, []byte("x")))
	require.False(t, complete)
	require.True(t, dup)
}

func TestChunkReassemblyUnorderedNeverDeduped(t *testing.T) {
	p := peer.New(2, nil, "a", wire.Color{})
	p.SetReliableRemoteIn(10)

	payload, complete, dup := HandleSlice(p, wire.ReliableUnorderedData, slice(3, 0, 1, []byte("x")))
	require.True(t, complete)
	require.False(t, dup)
	require.Equal(t, []byte("x"), payload)
}
