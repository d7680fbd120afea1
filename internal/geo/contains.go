package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// edgeTolerance is the cross-product magnitude below which a point counts as
// lying on an edge. Coordinates are degrees, so this is well below GPS precision.
const edgeTolerance = 1e-12

// PointInZone reports whether p is inside the zone.
//
// Boundary convention: a point on an outer ring edge or vertex is inside. A
// point on a hole edge is also inside, since the hole boundary belongs to the
// zone; only the open interior of a hole is excluded.
func PointInZone(p orb.Point, z Zone) bool {
	for _, poly := range z.Polygons {
		if pointInPolygon(p, poly) {
			return true
		}
	}
	return false
}

func pointInPolygon(p orb.Point, poly orb.Polygon) bool {
	if len(poly) == 0 {
		return false
	}
	if !poly[0].Bound().Contains(p) {
		return false
	}
	inside, onEdge := ringContains(poly[0], p)
	if !inside && !onEdge {
		return false
	}
	for _, hole := range poly[1:] {
		if inHole, onHoleEdge := ringContains(hole, p); inHole && !onHoleEdge {
			return false
		}
	}
	return true
}

// ringContains runs the crossing-number test on a closed ring. onEdge is set
// when p lies on an edge, in which case inside is meaningless.
func ringContains(ring orb.Ring, p orb.Point) (inside, onEdge bool) {
	x, y := p[0], p[1]
	for i := 0; i+1 < len(ring); i++ {
		a, b := ring[i], ring[i+1]
		if onSegment(a, b, p) {
			return false, true
		}
		// Half-open rule on y avoids counting a vertex crossing twice.
		if (a[1] > y) != (b[1] > y) {
			xCross := a[0] + (y-a[1])*(b[0]-a[0])/(b[1]-a[1])
			if x < xCross {
				inside = !inside
			}
		}
	}
	return inside, false
}

func onSegment(a, b, p orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if math.Abs(cross) > edgeTolerance {
		return false
	}
	return p[0] >= math.Min(a[0], b[0]) && p[0] <= math.Max(a[0], b[0]) &&
		p[1] >= math.Min(a[1], b[1]) && p[1] <= math.Max(a[1], b[1])
}
