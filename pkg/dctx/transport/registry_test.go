package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arjunv/dctx/pkg/dctx/types"
	"github.com/arjunv/dctx/pkg/dctx/wire"
)

func noopConn() net.Conn {
	c1, c2 := net.Pipe()
	c2.Close()
	return c1
}

func newTestConn() *Connection {
	return NewConnection(noopConn(), func(wire.Message) error { return nil })
}

func TestRegistry_PromoteValidatesRange(t *testing.T) {
	r := NewRegistry(4)
	c := newTestConn()
	r.AddPreinit(c)
	require.Equal(t, 1, r.PreinitCount())

	err := r.Promote(c, 4)
	require.Error(t, err)
	err = r.Promote(c, -1)
	require.Error(t, err)
}

func TestRegistry_PromoteRejectsRankZero(t *testing.T) {
	r := NewRegistry(4)
	c := newTestConn()
	r.AddPreinit(c)
	require.Error(t, r.Promote(c, 0))
}

func TestRegistry_PromoteRejectsDuplicateRank(t *testing.T) {
	r := NewRegistry(4)
	c1 := newTestConn()
	c2 := newTestConn()
	r.AddPreinit(c1)
	r.AddPreinit(c2)

	require.NoError(t, r.Promote(c1, 2))
	require.Equal(t, 1, r.PreinitCount())
	require.Equal(t, 1, r.PeerCount())
	require.Equal(t, c1, r.Peer(2))

	err := r.Promote(c2, 2)
	require.Error(t, err)
}

func TestRegistry_RemovePeerDecrementsCount(t *testing.T) {
	r := NewRegistry(4)
	c := newTestConn()
	r.AddPreinit(c)
	require.NoError(t, r.Promote(c, 1))
	require.Equal(t, 1, r.PeerCount())

	r.RemovePeer(1)
	require.Equal(t, 0, r.PeerCount())
	require.Nil(t, r.Peer(1))
}

func TestRegistry_EachPeerVisitsInRankOrder(t *testing.T) {
	r := NewRegistry(4)
	c3 := newTestConn()
	c1 := newTestConn()
	r.AddPreinit(c3)
	r.AddPreinit(c1)
	require.NoError(t, r.Promote(c3, 3))
	require.NoError(t, r.Promote(c1, 1))

	var ranks []types.Rank
	r.EachPeer(func(rank types.Rank, c *Connection) { ranks = append(ranks, rank) })
	require.Equal(t, []types.Rank{1, 3}, ranks)
}
