// Package routegraph models the bus network as an undirected graph of stops.
package routegraph

import (
	"errors"
	"fmt"
)

// ErrUnknownStop is returned when an edge references a stop that is not a vertex.
var ErrUnknownStop = errors.New("routegraph: unknown stop")

// Stop is a graph vertex.
type Stop struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
}

// Edge joins two stops. From and To keep the order in which the edge was first added.
type Edge struct {
	From string
	To   string
}

type edgeKey struct{ a, b string }

func keyOf(u, v string) edgeKey {
	if u > v {
		u, v = v, u
	}
	return edgeKey{u, v}
}

// Graph is an undirected simple graph. Vertices and edges iterate in insertion order.
type Graph struct {
	stops  []Stop
	index  map[string]int
	edges  []Edge
	edgeIx map[edgeKey]struct{}
	degree map[string]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		index:  make(map[string]int),
		edgeIx: make(map[edgeKey]struct{}),
		degree: make(map[string]int),
	}
}

// AddStop inserts s, or updates the attributes of an existing stop with the same ID
// without changing its position.
func (g *Graph) AddStop(s Stop) {
	if i, ok := g.index[s.ID]; ok {
		g.stops[i] = s
		return
	}
	g.index[s.ID] = len(g.stops)
	g.stops = append(g.stops, s)
}

// AddEdge joins u and v. Self loops and duplicates are ignored and report false.
func (g *Graph) AddEdge(u, v string) (bool, error) {
	if _, ok := g.index[u]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownStop, u)
	}
	if _, ok := g.index[v]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownStop, v)
	}
	if u == v {
		return false, nil
	}
	k := keyOf(u, v)
	if _, ok := g.edgeIx[k]; ok {
		return false, nil
	}
	g.edgeIx[k] = struct{}{}
	g.edges = append(g.edges, Edge{From: u, To: v})
	g.degree[u]++
	g.degree[v]++
	return true, nil
}

// HasStop reports whether id is a vertex.
func (g *Graph) HasStop(id string) bool {
	_, ok := g.index[id]
	return ok
}

// HasEdge reports whether u and v are adjacent, in either orientation.
func (g *Graph) HasEdge(u, v string) bool {
	_, ok := g.edgeIx[keyOf(u, v)]
	return ok
}

// Stop returns the vertex with the given ID.
func (g *Graph) Stop(id string) (Stop, bool) {
	i, ok := g.index[id]
	if !ok {
		return Stop{}, false
	}
	return g.stops[i], true
}

// Index returns the position of id in vertex order.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Coordinates returns the position of a stop.
func (g *Graph) Coordinates(id string) (lat, lon float64, ok bool) {
	s, ok := g.Stop(id)
	return s.Lat, s.Lon, ok
}

func (g *Graph) NumStops() int { return len(g.stops) }
func (g *Graph) NumEdges() int { return len(g.edges) }

// Degree returns the number of neighbours of id.
func (g *Graph) Degree(id string) int { return g.degree[id] }

// Stops returns a copy of the vertices in order.
func (g *Graph) Stops() []Stop {
	out := make([]Stop, len(g.stops))
	copy(out, g.stops)
	return out
}

// VertexIDs returns the vertex IDs in order.
func (g *Graph) VertexIDs() []string {
	out := make([]string, len(g.stops))
	for i, s := range g.stops {
		out[i] = s.ID
	}
	return out
}

// Edges returns a copy of the edges in order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Clone returns an independent copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		stops:  make([]Stop, len(g.stops)),
		index:  make(map[string]int, len(g.index)),
		edges:  make([]Edge, len(g.edges)),
		edgeIx: make(map[edgeKey]struct{}, len(g.edgeIx)),
		degree: make(map[string]int, len(g.degree)),
	}
	copy(c.stops, g.stops)
	copy(c.edges, g.edges)
	for k, v := range g.index {
		c.index[k] = v
	}
	for k := range g.edgeIx {
		c.edgeIx[k] = struct{}{}
	}
	for k, v := range g.degree {
		c.degree[k] = v
	}
	return c
}

// RemoveVertices deletes the given stops and their incident edges, keeping the
// relative order of what remains. It returns the number of stops removed.
func (g *Graph) RemoveVertices(ids ...string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := g.index[id]; ok {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	stops := g.stops[:0]
	for _, s := range g.stops {
		if _, gone := drop[s.ID]; !gone {
			stops = append(stops, s)
		}
	}
	g.stops = stops
	g.index = make(map[string]int, len(stops))
	for i, s := range stops {
		g.index[s.ID] = i
	}

	edges := g.edges[:0]
	for _, e := range g.edges {
		_, fromGone := drop[e.From]
		_, toGone := drop[e.To]
		if fromGone || toGone {
			delete(g.edgeIx, keyOf(e.From, e.To))
			g.degree[e.From]--
			g.degree[e.To]--
			continue
		}
		edges = append(edges, e)
	}
	g.edges = edges
	for id := range drop {
		delete(g.degree, id)
	}
	return len(drop)
}

// Isolates returns the stops without neighbours, in vertex order.
func (g *Graph) Isolates() []string {
	var out []string
	for _, s := range g.stops {
		if g.degree[s.ID] == 0 {
			out = append(out, s.ID)
		}
	}
	return out
}

// RemoveIsolates deletes every stop without neighbours.
func (g *Graph) RemoveIsolates() int {
	return g.RemoveVertices(g.Isolates()...)
}

// Induced returns the subgraph on the stops for which keep returns true.
func (g *Graph) Induced(keep func(Stop) bool) *Graph {
	out := New()
	for _, s := range g.stops {
		if keep(s) {
			out.AddStop(s)
		}
	}
	for _, e := range g.edges {
		if out.HasStop(e.From) && out.HasStop(e.To) {
			_, _ = out.AddEdge(e.From, e.To)
		}
	}
	return out
}
