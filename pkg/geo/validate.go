package geo

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Validate checks that mp is usable for containment and area computations:
// at least one part, closed rings of four or more finite coordinates, and
// a positive area. Self-intersections are not detected.
func Validate(mp *geom.MultiPolygon) error {
	if mp == nil || mp.Empty() || mp.NumPolygons() == 0 {
		return eris.Wrap(ErrInvalidGeometry, "geo: empty multipolygon")
	}
	stride := mp.Stride()
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			return eris.Wrapf(ErrInvalidGeometry, "geo: part %d has no rings", i)
		}
		for j := 0; j < poly.NumLinearRings(); j++ {
			flat := poly.LinearRing(j).FlatCoords()
			n := len(flat) / stride
			if n < 4 {
				return eris.Wrapf(ErrInvalidGeometry, "geo: ring %d of part %d has %d coordinates", j, i, n)
			}
			for _, v := range flat {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return eris.Wrapf(ErrInvalidGeometry, "geo: ring %d of part %d has a non-finite coordinate", j, i)
				}
			}
			last := flat[len(flat)-stride:]
			if flat[0] != last[0] || flat[1] != last[1] {
				return eris.Wrapf(ErrInvalidGeometry, "geo: ring %d of part %d is not closed", j, i)
			}
		}
	}
	if !(planarArea(mp) > 0) {
		return eris.Wrap(ErrInvalidGeometry, "geo: zero area")
	}
	return nil
}

// planarArea is the shell areas minus the hole areas, whatever the ring
// orientation
func planarArea(mp *geom.MultiPolygon) float64 {
	var area float64
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			a := math.Abs(xy.SignedArea(poly.Layout(), poly.LinearRing(j).FlatCoords()))
			if j == 0 {
				area += a
			} else {
				area -= a
			}
		}
	}
	return area
}

// CheckProjection rejects a .prj definition that describes a geographic
// (longitude/latitude) coordinate system. An empty definition is accepted.
func CheckProjection(wkt string) error {
	s := strings.ToUpper(strings.TrimSpace(wkt))
	if strings.HasPrefix(s, "GEOGCS") || strings.HasPrefix(s, "GEOGCRS") {
		return eris.Wrap(ErrNonPlanar, "geo: layer uses a geographic CRS")
	}
	return nil
}
