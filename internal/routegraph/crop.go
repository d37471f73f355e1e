package routegraph

import (
	"github.com/tidwall/rtree"

	"github.com/statlearn/busflow/internal/geo"
)

// SpatialIndex answers bounding-box queries over stop positions.
type SpatialIndex struct {
	tree rtree.RTreeG[string]
}

// NewSpatialIndex indexes every stop of g. Points are stored as (lon, lat).
func NewSpatialIndex(g *Graph) *SpatialIndex {
	idx := &SpatialIndex{}
	for _, s := range g.stops {
		p := [2]float64{s.Lon, s.Lat}
		idx.tree.Insert(p, p, s.ID)
	}
	return idx
}

// Within returns the IDs of the stops inside b.
func (idx *SpatialIndex) Within(b geo.Bounds) map[string]struct{} {
	min, max := b.Rect()
	out := make(map[string]struct{})
	idx.tree.Search(min, max, func(_, _ [2]float64, id string) bool {
		out[id] = struct{}{}
		return true
	})
	return out
}

// Len returns the number of indexed stops.
func (idx *SpatialIndex) Len() int { return idx.tree.Len() }

// Crop returns the subgraph of stops inside b, without isolates.
// A zero b returns a clone.
func (g *Graph) Crop(b geo.Bounds) *Graph {
	if b.IsZero() {
		return g.Clone()
	}
	inside := NewSpatialIndex(g).Within(b)
	out := g.Induced(func(s Stop) bool {
		_, ok := inside[s.ID]
		return ok
	})
	out.RemoveIsolates()
	return out
}
