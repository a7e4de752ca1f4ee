// Package geo provides planar geometry primitives for forest boundaries:
// strict containment, buffering, centroids and duplicate detection.
// All coordinates are expected in a projected CRS measured in metres.
package geo

import (
	"math"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

var (
	ErrInvalidGeometry = eris.New("geo: invalid geometry")
	ErrNonPlanar       = eris.New("geo: geometry is not in a projected coordinate system")
	ErrRadius          = eris.New("geo: buffer radius must be finite and non-negative")
)

// Region is an area answering strict containment queries
type Region interface {
	Bounds() models.BoundingBox
	Contains(l models.Location) bool
}

// Polygon is a validated multipolygon in planar coordinates
type Polygon struct {
	mp     *geom.MultiPolygon
	bounds models.BoundingBox
}

// NewPolygon validates mp and wraps it. The geometry is not copied and must
// not be modified afterwards.
func NewPolygon(mp *geom.MultiPolygon) (*Polygon, error) {
	if err := Validate(mp); err != nil {
		return nil, err
	}
	b := mp.Bounds()
	return &Polygon{
		mp: mp,
		bounds: models.BoundingBox{
			Min: models.Location{X: b.Min(0), Y: b.Min(1)},
			Max: models.Location{X: b.Max(0), Y: b.Max(1)},
		},
	}, nil
}

// FromFeature wraps the geometry of a polygon feature
func FromFeature(f *models.PolygonFeature) (*Polygon, error) {
	if f == nil {
		return nil, eris.Wrap(ErrInvalidGeometry, "geo: nil feature")
	}
	p, err := NewPolygon(f.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: feature %q", f.ID)
	}
	return p, nil
}

// Geometry returns the underlying multipolygon
func (p *Polygon) Geometry() *geom.MultiPolygon {
	return p.mp
}

// Bounds returns the bounding box of the polygon
func (p *Polygon) Bounds() models.BoundingBox {
	return p.bounds
}

// Locate classifies l as interior, boundary or exterior of the polygon.
// A location inside a hole, or on a hole ring, is not interior.
func (p *Polygon) Locate(l models.Location) location.Type {
	if !p.bounds.Contains(l) {
		return location.Exterior
	}
	layout := p.mp.Layout()
	c := geom.Coord{l.X, l.Y}
	onBoundary := false
	for i := 0; i < p.mp.NumPolygons(); i++ {
		switch locateInPolygon(layout, p.mp.Polygon(i), c) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			onBoundary = true
		}
	}
	if onBoundary {
		return location.Boundary
	}
	return location.Exterior
}

func locateInPolygon(layout geom.Layout, poly *geom.Polygon, c geom.Coord) location.Type {
	shell := xy.LocatePointInRing(layout, c, poly.LinearRing(0).FlatCoords())
	if shell != location.Interior {
		return shell
	}
	for j := 1; j < poly.NumLinearRings(); j++ {
		switch xy.LocatePointInRing(layout, c, poly.LinearRing(j).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}

// Contains reports whether l lies strictly inside the polygon.
// Locations on any ring are excluded.
func (p *Polygon) Contains(l models.Location) bool {
	return p.Locate(l) == location.Interior
}

// DistanceToBoundary returns the planar distance from l to the nearest ring
func (p *Polygon) DistanceToBoundary(l models.Location) float64 {
	layout := p.mp.Layout()
	c := geom.Coord{l.X, l.Y}
	best := math.Inf(1)
	for i := 0; i < p.mp.NumPolygons(); i++ {
		poly := p.mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			d := xy.DistanceFromPointToLineString(layout, c, poly.LinearRing(j).FlatCoords())
			if d < best {
				best = d
			}
		}
	}
	return best
}

// Distance returns 0 for locations inside or on the polygon, otherwise the
// distance to the boundary
func (p *Polygon) Distance(l models.Location) float64 {
	if p.Locate(l) != location.Exterior {
		return 0
	}
	return p.DistanceToBoundary(l)
}

// Area returns the planar area in square metres. Ring orientation does not
// affect the result.
func (p *Polygon) Area() float64 {
	return planarArea(p.mp)
}

// AreaHectares returns the area in hectares
func (p *Polygon) AreaHectares() float64 {
	return planarArea(p.mp) / 10000
}

// Centroid returns the area-weighted centroid
func (p *Polygon) Centroid() (models.Location, error) {
	c, err := xy.Centroid(p.mp)
	if err != nil {
		return models.Location{}, eris.Wrap(err, "geo: centroid")
	}
	return models.Location{X: c.X(), Y: c.Y()}, nil
}

// Buffer returns the region within r metres of the polygon.
// The polygon itself is left untouched.
func (p *Polygon) Buffer(r float64) (*Buffered, error) {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return nil, eris.Wrapf(ErrRadius, "geo: radius %v", r)
	}
	return &Buffered{
		base:   p,
		radius: r,
		bounds: p.bounds.Expand(r),
	}, nil
}
