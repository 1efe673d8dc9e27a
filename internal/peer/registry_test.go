package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/moduled-net-go/internal/wire"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestRegistryAllocatesLowestFreeID(t *testing.T) {
	r := NewRegistry(4)

	a, ok := r.Add(udpAddr(t, "127.0.0.1:1"), "a", wire.Color{})
	require.True(t, ok)
	require.Equal(t, MinPeerID, a.ID)

	b, ok := r.Add(udpAddr(t, "127.0.0.1:2"), "b", wire.Color{})
	require.True(t, ok)
	require.Equal(t, MinPeerID+1, b.ID)

	_, ok = r.Remove(a.ID)
	require.True(t, ok)

	c, ok := r.Add(udpAddr(t, "127.0.0.1:3"), "c", wire.Color{})
	require.True(t, ok)
	require.Equal(t, MinPeerID, c.ID, "freed ID should be reused before allocating a new one")
}

func TestRegistryDeniesAtCapacity(t *testing.T) {
	r := NewRegistry(1)

	_, ok := r.Add(udpAddr(t, "127.0.0.1:1"), "a", wire.Color{})
	require.True(t, ok)
	require.True(t, r.AtCapacity())

	_, ok = r.Add(udpAddr(t, "127.0.0.1:2"), "b", wire.Color{})
	require.False(t, ok, "second Add should be denied at capacity 1")
}

func TestRegistryRemoveIsAtomicWithLookup(t *testing.T) {
	r := NewRegistry(4)
	p, ok := r.Add(udpAddr(t, "127.0.0.1:1"), "a", wire.Color{})
	require.True(t, ok)

	r.Remove(p.ID)

	_, found := r.Lookup(p.ID)
	require.False(t, found, "removed peer must not be found by ID")

	_, found = r.ByAddr(p.Addr)
	require.False(t, found, "removed peer must not be found by address")
}

func TestRegistryRangeExceptSkipsGivenPeer(t *testing.T) {
	r := NewRegistry(4)
	a, _ := r.Add(udpAddr(t, "127.0.0.1:1"), "a", wire.Color{})
	b, _ := r.Add(udpAddr(t, "127.0.0.1:2"), "b", wire.Color{})

	var seen []byte
	r.RangeExcept(a.ID, func(p *Peer) { seen = append(seen, p.ID) })

	require.Equal(t, []byte{b.ID}, seen)
}
