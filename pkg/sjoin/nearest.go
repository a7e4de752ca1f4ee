package sjoin

import (
	"math"

	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/rtree"
	"github.com/rotisserie/eris"
)

// Reference is a query location, usually a polygon centroid
type Reference struct {
	ID       string
	Location models.Location
}

// NearestResult is the nearest candidate for one reference.
// Found is false, NearestID empty and Distance +Inf when there were no candidates.
type NearestResult struct {
	RefID     string
	NearestID string
	Distance  float64
	Found     bool
}

// Centroids returns the centroid of every polygon, in input order
func Centroids(polygons []*models.PolygonFeature) ([]Reference, error) {
	refs := make([]Reference, 0, len(polygons))
	for _, f := range polygons {
		if f == nil {
			continue
		}
		p, err := geo.FromFeature(f)
		if err != nil {
			return nil, err
		}
		c, err := p.Centroid()
		if err != nil {
			return nil, eris.Wrapf(err, "sjoin: centroid of %q", f.ID)
		}
		refs = append(refs, Reference{ID: f.ID, Location: c})
	}
	return refs, nil
}

// NearestPoints returns one row per reference, in reference order, naming
// the candidate with the smallest planar distance. Equidistant candidates
// resolve to the one that comes first in candidates.
func NearestPoints(refs []Reference, candidates []*models.PointFeature) ([]NearestResult, error) {
	index := rtree.NewGeoIndex()
	if err := index.IndexPoints(candidates); err != nil {
		return nil, eris.Wrap(err, "sjoin: index candidates")
	}
	return NearestInIndex(refs, index), nil
}

// NearestInIndex is NearestPoints over an existing index
func NearestInIndex(refs []Reference, index *rtree.GeoIndex) []NearestResult {
	results := make([]NearestResult, len(refs))
	for i, ref := range refs {
		results[i] = NearestResult{RefID: ref.ID, Distance: math.Inf(1)}
		p, d, ok := index.Nearest(ref.Location)
		if !ok {
			continue
		}
		results[i].NearestID = p.ID
		results[i].Distance = d
		results[i].Found = true
	}
	return results
}
