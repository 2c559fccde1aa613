package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphEdges(t *testing.T) {
	g := newGraph(20)
	g.addEdge(16, 17)
	g.addEdge(16, 3)
	g.addEdge(16, 16) // self edges are ignored

	require.True(t, g.hasEdge(16, 17))
	require.True(t, g.hasEdge(17, 16))
	require.True(t, g.hasEdge(3, 16))
	require.False(t, g.hasEdge(17, 3))
	require.False(t, g.hasEdge(16, 16))
	require.Equal(t, 2, g.numEdges(16))
	require.Equal(t, 1, g.numEdges(17))
	require.True(t, g.hasNode(16))
	require.True(t, g.hasNode(3))
}

func TestGraphRemoveNode(t *testing.T) {
	g := newGraph(20)
	g.addEdge(16, 17)
	g.addEdge(16, 18)
	g.removeNode(16)

	require.False(t, g.hasNode(16))
	require.False(t, g.hasEdge(17, 16))
	require.False(t, g.hasEdge(18, 16))
	require.Equal(t, 0, g.numEdges(17))
	require.Equal(t, 0, g.numEdges(16))
}

func TestGraphCopyEdges(t *testing.T) {
	g := newGraph(20)
	g.addEdge(16, 17)
	g.addEdge(16, 18)
	g.addEdge(16, 19)
	g.copyEdges(16, 19)

	// 19 inherits 16's neighbours, minus the would-be self edge.
	require.True(t, g.hasEdge(19, 17))
	require.True(t, g.hasEdge(19, 18))
	require.False(t, g.hasEdge(19, 19))
	require.True(t, g.hasEdge(19, 16))
}

func TestGraphClone(t *testing.T) {
	g := newGraph(20)
	g.addEdge(16, 17)
	c := g.clone()
	c.removeNode(16)

	require.True(t, g.hasEdge(16, 17))
	require.True(t, g.hasNode(16))
	require.False(t, c.hasEdge(16, 17))
}

func TestRegSet(t *testing.T) {
	s := newRegSet(80)
	s.set(3)
	s.set(70)
	require.True(t, s.has(3))
	require.True(t, s.has(70))
	require.False(t, s.has(4))
	require.Equal(t, 2, s.count())

	var got []Reg
	s.forEach(func(r Reg) { got = append(got, r) })
	require.Equal(t, []Reg{3, 70}, got)

	s.clearPhys()
	require.False(t, s.has(3))
	require.True(t, s.has(70))

	other := newRegSet(80)
	other.set(5)
	require.True(t, s.union(other))
	require.False(t, s.union(other))
	require.True(t, s.has(5))
}
