package sequencer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/moduled-net-go/internal/peer"
	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

func newPeer() *peer.Peer {
	return peer.New(2, nil, "a", wire.Color{})
}

// Feeding sequences [3,1,4,2,5] to a receiver whose last-delivered is 0
// must yield delivery order [1,2,3,4,5] and remote-in = 5.
func TestReliableOrderedDeliversInOrderUnderReordering(t *testing.T) {
	p := newPeer()
	var delivered []uint16

	for _, seq := range []uint16{3, 1, 4, 2, 5} {
		res := Process(p, wire.ReliableData, seq, nil, nil, 2, 1)
		require.True(t, res.ShouldACK)
		for _, d := range res.Delivered {
			delivered = append(delivered, d.Sequence)
		}
	}

	require.Equal(t, []uint16{1, 2, 3, 4, 5}, delivered)
	require.Equal(t, uint16(5), p.ReliableRemoteIn())
}

// Replay of an already-delivered sequence is not re-delivered, but is
// ACKed so the sender stops resending.
func TestReliableOrderedDuplicateSuppressed(t *testing.T) {
	p := newPeer()

	res := Process(p, wire.ReliableData, 1, nil, nil, 2, 1)
	require.Len(t, res.Delivered, 1)

	res = Process(p, wire.ReliableData, 1, nil, nil, 2, 1)
	require.Empty(t, res.Delivered)
	require.True(t, res.ShouldACK)
	require.True(t, res.Duplicate)
}

// Reliable-unordered frames with sequences [5,2,9,2] are each delivered
// in arrival order (including the duplicate), each one ACKed.
func TestReliableUnorderedBypassesOrdering(t *testing.T) {
	p := newPeer()
	var delivered []uint16

	for _, seq := range []uint16{5, 2, 9, 2} {
		res := Process(p, wire.ReliableUnorderedData, seq, nil, nil, 2, 1)
		require.True(t, res.ShouldACK)
		require.Len(t, res.Delivered, 1)
		delivered = append(delivered, res.Delivered[0].Sequence)
	}

	require.Equal(t, []uint16{5, 2, 9, 2}, delivered)
}

func TestUnreliableOrderedDiscardsOld(t *testing.T) {
	p := newPeer()

	res := Process(p, wire.UnreliableData, 5, nil, nil, 2, 1)
	require.Len(t, res.Delivered, 1)
	require.False(t, res.ShouldACK)

	res = Process(p, wire.UnreliableData, 3, nil, nil, 2, 1)
	require.Empty(t, res.Delivered, "older unreliable-ordered frame must be discarded silently")

	res = Process(p, wire.UnreliableData, 6, nil, nil, 2, 1)
	require.Len(t, res.Delivered, 1)
	require.Equal(t, uint16(6), p.UnreliableRemoteIn())
}

func TestUnreliableUnorderedAlwaysDelivers(t *testing.T) {
	p := newPeer()

	for _, seq := range []uint16{5, 2, 9, 2} {
		res := Process(p, wire.UnreliableUnorderedData, seq, nil, nil, 2, 1)
		require.Len(t, res.Delivered, 1)
		require.False(t, res.ShouldACK)
	}
}

func TestClientInfoRidesReliableOrderedChannel(t *testing.T) {
	p := newPeer()
	res := Process(p, wire.ClientInfo, 1, nil, nil, 1, 1)
	require.Len(t, res.Delivered, 1)
	require.True(t, res.ShouldACK)
}
