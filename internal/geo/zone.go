// Package geo holds alert zone geometry: GeoJSON decoding, validation and
// point-in-zone testing on planar lon/lat coordinates.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tphakala/zonewatch/internal/errors"
)

// Zone is one or more polygons. In each polygon the first ring is the outer
// boundary and any following rings are holes.
type Zone struct {
	Polygons orb.MultiPolygon
}

// ErrInvalidZone is wrapped by every validation failure.
var ErrInvalidZone = errors.NewStd("invalid zone geometry")

// ParseGeoJSON decodes a GeoJSON Polygon or MultiPolygon geometry and
// validates it.
func ParseGeoJSON(data []byte) (Zone, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return Zone{}, invalid("failed to decode zone geometry: %v", err)
	}

	var z Zone
	switch geom := g.Geometry().(type) {
	case orb.Polygon:
		z.Polygons = orb.MultiPolygon{geom}
	case orb.MultiPolygon:
		z.Polygons = geom
	default:
		return Zone{}, invalid("unsupported zone geometry type %q", g.Type)
	}

	if err := z.Validate(); err != nil {
		return Zone{}, err
	}
	return z, nil
}

// MarshalGeoJSON encodes the zone as a Polygon when it has a single polygon,
// as a MultiPolygon otherwise.
func (z Zone) MarshalGeoJSON() ([]byte, error) {
	if len(z.Polygons) == 1 {
		return geojson.NewGeometry(z.Polygons[0]).MarshalJSON()
	}
	return geojson.NewGeometry(z.Polygons).MarshalJSON()
}

// Validate rejects geometries the ray-casting test cannot evaluate reliably:
// empty zones, open rings, rings with fewer than three distinct vertices and
// non-finite coordinates.
func (z Zone) Validate() error {
	if len(z.Polygons) == 0 {
		return invalid("zone has no polygons")
	}
	for pi, poly := range z.Polygons {
		if len(poly) == 0 {
			return invalid("polygon %d has no rings", pi)
		}
		for ri, ring := range poly {
			if err := validateRing(ring); err != nil {
				return invalid("polygon %d ring %d: %v", pi, ri, err)
			}
		}
	}
	return nil
}

func validateRing(ring orb.Ring) error {
	if len(ring) < 4 {
		return fmt.Errorf("ring has %d points, need at least 4 including closure", len(ring))
	}
	for _, p := range ring {
		if !finite(p[0]) || !finite(p[1]) {
			return fmt.Errorf("non-finite coordinate %v", p)
		}
	}
	if !ring.Closed() {
		return fmt.Errorf("ring is not closed")
	}

	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring[:len(ring)-1] {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("ring has %d distinct vertices, need at least 3", len(distinct))
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func invalid(format string, args ...any) error {
	return errors.Newf("%w: %s", ErrInvalidZone, fmt.Sprintf(format, args...)).
		Component("geo").
		Category(errors.CategoryGeometry).
		Build()
}
