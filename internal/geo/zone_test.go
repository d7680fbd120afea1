package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/zonewatch/internal/errors"
)

func TestParseGeoJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		polygons int
		wantErr  bool
	}{
		{
			name:     "polygon",
			input:    `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0],[0,0]]]}`,
			polygons: 1,
		},
		{
			name:     "polygon with hole",
			input:    `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0],[0,0]],[[4,4],[4,6],[6,6],[6,4],[4,4]]]}`,
			polygons: 1,
		},
		{
			name:     "multipolygon",
			input:    `{"type":"MultiPolygon","coordinates":[[[[0,0],[0,1],[1,1],[0,0]]],[[[5,5],[5,6],[6,6],[5,5]]]]}`,
			polygons: 2,
		},
		{name: "open ring", input: `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0]]]}`, wantErr: true},
		{name: "two vertices", input: `{"type":"Polygon","coordinates":[[[0,0],[1,1],[0,0]]]}`, wantErr: true},
		{name: "degenerate repeated vertex", input: `{"type":"Polygon","coordinates":[[[0,0],[1,1],[1,1],[0,0]]]}`, wantErr: true},
		{name: "point", input: `{"type":"Point","coordinates":[1,2]}`, wantErr: true},
		{name: "empty polygon", input: `{"type":"Polygon","coordinates":[]}`, wantErr: true},
		{name: "not json", input: `[[0,0],[1,1]]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			zone, err := ParseGeoJSON([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidZone)
				assert.Equal(t, errors.CategoryGeometry, errors.CategoryOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, zone.Polygons, tt.polygons)
		})
	}
}

func TestValidate_NonFinite(t *testing.T) {
	t.Parallel()

	z := Zone{Polygons: orb.MultiPolygon{{orb.Ring{{0, 0}, {0, math.NaN()}, {1, 1}, {0, 0}}}}}
	require.ErrorIs(t, z.Validate(), ErrInvalidZone)
}

func TestMarshalGeoJSON_ParsesBack(t *testing.T) {
	t.Parallel()

	z := Zone{Polygons: orb.MultiPolygon{{square(0, 0, 2, 2), square(0.5, 0.5, 1, 1)}}}
	data, err := z.MarshalGeoJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Polygon"`)

	back, err := ParseGeoJSON(data)
	require.NoError(t, err)
	assert.Equal(t, z.Polygons, back.Polygons)
}
