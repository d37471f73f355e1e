package trendfilter

import (
	"fmt"

	"github.com/statlearn/busflow/internal/routegraph"
	"github.com/statlearn/busflow/internal/sparse"
)

// Incidence returns the oriented edge-vertex incidence matrix of g: one row per edge,
// -1 at the column of its first endpoint and +1 at the second. Columns follow g.VertexIDs().
func Incidence(g *routegraph.Graph) (*sparse.CSR, error) {
	b, err := sparse.NewBuilder(g.NumEdges(), g.NumStops())
	if err != nil {
		return nil, err
	}
	for row, e := range g.Edges() {
		from, _ := g.Index(e.From)
		to, _ := g.Index(e.To)
		if err := b.Add(row, from, -1); err != nil {
			return nil, err
		}
		if err := b.Add(row, to, 1); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Laplacian returns the combinatorial Laplacian D - A of g.
func Laplacian(g *routegraph.Graph) (*sparse.CSR, error) {
	n := g.NumStops()
	b, err := sparse.NewBuilder(n, n)
	if err != nil {
		return nil, err
	}
	for _, e := range g.Edges() {
		u, _ := g.Index(e.From)
		v, _ := g.Index(e.To)
		for _, entry := range [][3]int{{u, u, 1}, {v, v, 1}, {u, v, -1}, {v, u, -1}} {
			if err := b.Add(entry[0], entry[1], float64(entry[2])); err != nil {
				return nil, err
			}
		}
	}
	return b.Build(), nil
}

// DifferenceOperator returns the graph difference operator of the given order:
// the incidence matrix B for 1, the Laplacian L for 2, L^(k/2) for even k and
// B·L^((k-1)/2) for odd k.
func DifferenceOperator(g *routegraph.Graph, order int) (*sparse.CSR, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: difference operator order must be >= 1, got %d", ErrConfiguration, order)
	}
	if order == 1 {
		return Incidence(g)
	}

	l, err := Laplacian(g)
	if err != nil {
		return nil, err
	}
	if order%2 == 0 {
		return l.Pow(order / 2)
	}

	b, err := Incidence(g)
	if err != nil {
		return nil, err
	}
	lp, err := l.Pow((order - 1) / 2)
	if err != nil {
		return nil, err
	}
	return sparse.Mul(b, lp)
}
