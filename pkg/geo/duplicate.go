package geo

import (
	"math"
	"reflect"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// DefaultDecimal is the rounding precision used when comparing geometries
const DefaultDecimal = 1

// Keyed is a geometry with its feature id
type Keyed struct {
	ID       string
	Geometry geom.T
}

type roundedGeometry struct {
	kind   reflect.Type
	layout geom.Layout
	ends   []int
	endss  [][]int
	coords []float64
}

func roundGeometry(g geom.T, scale float64) roundedGeometry {
	flat := g.FlatCoords()
	coords := make([]float64, len(flat))
	for i, v := range flat {
		coords[i] = math.Round(v * scale)
	}
	return roundedGeometry{
		kind:   reflect.TypeOf(g),
		layout: g.Layout(),
		ends:   g.Ends(),
		endss:  g.Endss(),
		coords: coords,
	}
}

func (r roundedGeometry) equal(o roundedGeometry) bool {
	if r.kind != o.kind || r.layout != o.layout || len(r.coords) != len(o.coords) {
		return false
	}
	if !reflect.DeepEqual(r.ends, o.ends) || !reflect.DeepEqual(r.endss, o.endss) {
		return false
	}
	for i := range r.coords {
		if r.coords[i] != o.coords[i] {
			return false
		}
	}
	return true
}

// AlmostEqual reports whether a and b have the same type and part structure
// and equal coordinates after rounding to decimal places
func AlmostEqual(a, b geom.T, decimal int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	scale := math.Pow(10, float64(decimal))
	return roundGeometry(a, scale).equal(roundGeometry(b, scale))
}

// FindDuplicates returns, in input order, the ids of geometries that are
// almost equal to an earlier geometry. First occurrences are never reported.
// Every geometry is compared against all accepted uniques, so this is meant
// for layers of at most a few thousand features.
func FindDuplicates(items []Keyed, decimal int) ([]string, error) {
	if decimal < 0 {
		return nil, eris.Errorf("geo: decimal must be non-negative, got %d", decimal)
	}
	scale := math.Pow(10, float64(decimal))
	uniques := make([]roundedGeometry, 0, len(items))
	var dups []string
	for i, item := range items {
		if item.Geometry == nil {
			return nil, eris.Wrapf(ErrInvalidGeometry, "geo: item %d (%q) has no geometry", i, item.ID)
		}
		r := roundGeometry(item.Geometry, scale)
		duplicate := false
		for _, u := range uniques {
			if r.equal(u) {
				duplicate = true
				break
			}
		}
		if duplicate {
			dups = append(dups, item.ID)
			continue
		}
		uniques = append(uniques, r)
	}
	return dups, nil
}
