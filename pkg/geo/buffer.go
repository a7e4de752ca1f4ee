package geo

import (
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/twpayne/go-geom/xy/location"
)

// Buffered is the set of locations closer than Radius to a base polygon.
// Containment is evaluated exactly against the base rings instead of a
// segmented outline, so a larger radius always yields a superset.
type Buffered struct {
	base   *Polygon
	radius float64
	bounds models.BoundingBox
}

// Base returns the unbuffered polygon
func (b *Buffered) Base() *Polygon {
	return b.base
}

// Radius returns the buffer distance in metres
func (b *Buffered) Radius() float64 {
	return b.radius
}

// Bounds returns the base bounds grown by the radius
func (b *Buffered) Bounds() models.BoundingBox {
	return b.bounds
}

// Contains reports whether l lies strictly inside the buffered region.
// With a zero radius this is the strict containment of the base polygon.
func (b *Buffered) Contains(l models.Location) bool {
	if b.radius == 0 {
		return b.base.Contains(l)
	}
	if !b.bounds.Contains(l) {
		return false
	}
	if b.base.Locate(l) != location.Exterior {
		return true
	}
	return b.base.DistanceToBoundary(l) < b.radius
}
