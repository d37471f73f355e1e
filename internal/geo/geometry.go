// Package geo has the small amount of spherical geometry the pipeline needs:
// stop-to-stop distances and study-area bounding boxes.
package geo

import "math"

// RadiusOfEarthInMeters is the mean Earth radius used for all distances.
const RadiusOfEarthInMeters = 6371010.0

// Bounds is a latitude/longitude box.
type Bounds struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// IsZero reports whether b is the unset box.
func (b Bounds) IsZero() bool {
	return b == Bounds{}
}

// Contains reports whether the point lies inside b, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Rect returns b as (min, max) corners in (lon, lat) order, the layout used by the stop R-tree.
func (b Bounds) Rect() (min, max [2]float64) {
	return [2]float64{b.MinLon, b.MinLat}, [2]float64{b.MaxLon, b.MaxLat}
}

// Distance returns the distance in meters between two points.
// Short hops between consecutive stops take the equirectangular fast path;
// anything wider than ~0.2 degrees uses the exact great-circle formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if math.Abs(lat2-lat1) < 0.2 && math.Abs(lon2-lon1) < 0.2 {
		lat1Rad := lat1 * (math.Pi / 180)
		lat2Rad := lat2 * (math.Pi / 180)
		dLatRad := (lat2 - lat1) * (math.Pi / 180)
		dLonRad := (lon2 - lon1) * (math.Pi / 180)

		x := dLonRad * math.Cos((lat1Rad+lat2Rad)/2)
		y := dLatRad
		return RadiusOfEarthInMeters * math.Sqrt(x*x+y*y)
	}

	lat1Rad := lat1 * (math.Pi / 180)
	lon1Rad := lon1 * (math.Pi / 180)
	lat2Rad := lat2 * (math.Pi / 180)
	lon2Rad := lon2 * (math.Pi / 180)

	deltaLon := lon2Rad - lon1Rad

	y := math.Sqrt(math.Pow(math.Cos(lat2Rad)*math.Sin(deltaLon), 2) +
		math.Pow(math.Cos(lat1Rad)*math.Sin(lat2Rad)-math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon), 2))
	x := math.Sin(lat1Rad)*math.Sin(lat2Rad) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	return RadiusOfEarthInMeters * math.Atan2(y, x)
}

// CalculateBounds returns the box spanning radius meters around (lat, lon).
func CalculateBounds(lat, lon, radius float64) Bounds {
	latRadians := lat * math.Pi / 180
	lonRadians := lon * math.Pi / 180

	latOffset := radius / RadiusOfEarthInMeters
	lonOffset := radius / (math.Cos(latRadians) * RadiusOfEarthInMeters)

	return Bounds{
		MinLat: (latRadians - latOffset) * 180 / math.Pi,
		MaxLat: (latRadians + latOffset) * 180 / math.Pi,
		MinLon: (lonRadians - lonOffset) * 180 / math.Pi,
		MaxLon: (lonRadians + lonOffset) * 180 / math.Pi,
	}
}
