package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"github.com/statlearn/busflow/internal/observations"
	"github.com/statlearn/busflow/internal/routegraph"
)

func testGraph(t *testing.T) *routegraph.Graph {
	t.Helper()
	g := routegraph.New()
	g.AddStop(routegraph.Stop{ID: "termini", Name: "Termini", Lat: 41.9009, Lon: 12.5016})
	g.AddStop(routegraph.Stop{ID: "colosseo", Name: "Colosseo", Lat: 41.8902, Lon: 12.4922})
	g.AddStop(routegraph.Stop{ID: "venezia", Name: "Venezia", Lat: 41.8960, Lon: 12.4823})
	for _, e := range [][2]string{{"termini", "colosseo"}, {"colosseo", "venezia"}} {
		_, err := g.AddEdge(e[0], e[1])
		require.NoError(t, err)
	}
	return g
}

func TestBuild(t *testing.T) {
	g := testGraph(t)
	fitted := map[string]float64{"termini": 0.2, "colosseo": 0.4}

	m := Build(g, fitted, observations.ByDay(0), 8)

	assert.Equal(t, "day=0", m.Filter)
	assert.Equal(t, 8.0, m.Lambda)
	require.Len(t, m.Stops, 2)
	assert.Equal(t, "Termini", m.Stops[0].Name)
	require.Len(t, m.Edges, 1)
	assert.InDelta(t, 0.3, m.Edges[0].Pace, 1e-12)

	coords, rest, err := polyline.DecodeCoords([]byte(m.Edges[0].Polyline))
	require.NoError(t, err)
	assert.Empty(t, rest)
	require.Len(t, coords, 2)
	assert.InDelta(t, 41.9009, coords[0][0], 1e-5)
	assert.InDelta(t, 12.4922, coords[1][1], 1e-5)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "map.json")
	m := Build(testGraph(t), map[string]float64{}, observations.ByWeather("Rain"), 1)
	m.RunID = "run-1"

	require.NoError(t, WriteFile(path, m))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded CongestionMap
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, m, decoded)
	assert.NotNil(t, decoded.Stops)
}
