package trendfilter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/statlearn/busflow/internal/routegraph"
)

func makeGraph(t *testing.T, ids []string, edges [][2]string) *routegraph.Graph {
	t.Helper()
	g := routegraph.New()
	for _, id := range ids {
		g.AddStop(routegraph.Stop{ID: id, Name: id})
	}
	for _, e := range edges {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}
	return g
}

func pathGraph(t *testing.T, ids ...string) *routegraph.Graph {
	t.Helper()
	var edges [][2]string
	for i := 1; i < len(ids); i++ {
		edges = append(edges, [2]string{ids[i-1], ids[i]})
	}
	return makeGraph(t, ids, edges)
}
