package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(minX, minY, maxX, maxY float64) orb.Ring {
	return orb.Ring{{minX, minY}, {minX, maxY}, {maxX, maxY}, {maxX, minY}, {minX, minY}}
}

func TestPointInZone_Square(t *testing.T) {
	t.Parallel()

	zone := Zone{Polygons: orb.MultiPolygon{{square(0, 0, 10, 10)}}}

	tests := []struct {
		name  string
		point orb.Point
		want  bool
	}{
		{"center", orb.Point{5, 5}, true},
		{"far outside", orb.Point{20, 20}, false},
		{"left of zone", orb.Point{-0.001, 5}, false},
		{"above zone", orb.Point{5, 10.001}, false},
		{"on edge", orb.Point{0, 5}, true},
		{"on top edge", orb.Point{5, 10}, true},
		{"on vertex", orb.Point{10, 10}, true},
		{"same y as vertex outside", orb.Point{15, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PointInZone(tt.point, zone))
		})
	}
}

func TestPointInZone_Hole(t *testing.T) {
	t.Parallel()

	zone := Zone{Polygons: orb.MultiPolygon{{square(0, 0, 10, 10), square(4, 4, 6, 6)}}}

	assert.False(t, PointInZone(orb.Point{5, 5}, zone), "point inside the hole is outside the zone")
	assert.True(t, PointInZone(orb.Point{2, 2}, zone), "point between outer ring and hole is inside")
	assert.True(t, PointInZone(orb.Point{4, 5}, zone), "hole boundary belongs to the zone")
	assert.False(t, PointInZone(orb.Point{11, 5}, zone))
}

func TestPointInZone_MultiPolygon(t *testing.T) {
	t.Parallel()

	zone := Zone{Polygons: orb.MultiPolygon{
		{square(0, 0, 1, 1)},
		{square(10, 10, 11, 11)},
	}}

	assert.True(t, PointInZone(orb.Point{0.5, 0.5}, zone))
	assert.True(t, PointInZone(orb.Point{10.5, 10.5}, zone))
	assert.False(t, PointInZone(orb.Point{5, 5}, zone))
}

func TestPointInZone_Concave(t *testing.T) {
	t.Parallel()

	// U shape opening upwards; the notch spans x 4..6, y 4..10.
	u := orb.Ring{{0, 0}, {0, 10}, {4, 10}, {4, 4}, {6, 4}, {6, 10}, {10, 10}, {10, 0}, {0, 0}}
	zone := Zone{Polygons: orb.MultiPolygon{{u}}}

	assert.True(t, PointInZone(orb.Point{2, 8}, zone))
	assert.True(t, PointInZone(orb.Point{8, 8}, zone))
	assert.False(t, PointInZone(orb.Point{5, 8}, zone), "notch is outside")
	assert.True(t, PointInZone(orb.Point{5, 2}, zone))
}

func TestPointInZone_RealCoordinates(t *testing.T) {
	t.Parallel()

	// Rough depot yard, lon/lat order.
	raw := []byte(`{"type":"Polygon","coordinates":[[[-70.6512,-33.4372],[-70.6498,-33.4372],[-70.6498,-33.4361],[-70.6512,-33.4361],[-70.6512,-33.4372]]]}`)
	zone, err := ParseGeoJSON(raw)
	require.NoError(t, err)

	assert.True(t, PointInZone(orb.Point{-70.6505, -33.4366}, zone))
	assert.False(t, PointInZone(orb.Point{-70.6520, -33.4366}, zone))
}
