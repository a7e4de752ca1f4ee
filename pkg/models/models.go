package models

import (
	"github.com/twpayne/go-geom"
)

// Column names the analysis depends on. Shapefile DBF names are at most 10 characters.
const (
	ColForestID   = "UniqueID"
	ColClusterID  = "DHSID"
	ColClusterNo  = "DHSCLUST"
	ColSurveyYear = "DHSYEAR"
	ColUrbanRural = "URBAN_RURA"
	ColSource     = "SOURCE"

	// SourceMissing marks clusters without GPS coordinates.
	SourceMissing = "MIS"

	Urban = "U"
	Rural = "R"
)

// Location is a planar coordinate in a projected CRS (metres)
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PointFeature represents a point with an ID and categorical attributes
type PointFeature struct {
	ID       string            `json:"id"`
	Location Location          `json:"location"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute or an empty string
func (p *PointFeature) Attr(name string) string {
	if p == nil || p.Attrs == nil {
		return ""
	}
	return p.Attrs[name]
}

// PolygonFeature represents a polygon boundary with an ID
type PolygonFeature struct {
	ID       string            `json:"id"`
	Geometry *geom.MultiPolygon `json:"-"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	Min Location
	Max Location
}

// Expand returns the box grown by d on every side
func (b BoundingBox) Expand(d float64) BoundingBox {
	return BoundingBox{
		Min: Location{X: b.Min.X - d, Y: b.Min.Y - d},
		Max: Location{X: b.Max.X + d, Y: b.Max.Y + d},
	}
}

// Contains reports whether l lies inside or on the box
func (b BoundingBox) Contains(l Location) bool {
	return l.X >= b.Min.X && l.X <= b.Max.X && l.Y >= b.Min.Y && l.Y <= b.Max.Y
}

// PointPredicate selects point features, e.g. by survey year or urban/rural class
type PointPredicate func(p *PointFeature) bool

// AttrEquals matches points whose attribute equals value
func AttrEquals(name, value string) PointPredicate {
	return func(p *PointFeature) bool {
		return p.Attr(name) == value
	}
}

// All combines predicates; nil predicates are ignored
func All(preds ...PointPredicate) PointPredicate {
	return func(p *PointFeature) bool {
		for _, pred := range preds {
			if pred != nil && !pred(p) {
				return false
			}
		}
		return true
	}
}

// Filter returns the points matching pred, keeping input order
func Filter(points []*PointFeature, pred PointPredicate) []*PointFeature {
	if pred == nil {
		return points
	}
	out := make([]*PointFeature, 0, len(points))
	for _, p := range points {
		if p != nil && pred(p) {
			out = append(out, p)
		}
	}
	return out
}
