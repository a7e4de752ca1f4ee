package dataset

import (
	"slices"

	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ConcatLayers appends point layers that share the same columns, e.g. the
// cluster layers of several survey rounds
func ConcatLayers(layers ...*PointLayer) (*PointLayer, error) {
	if len(layers) == 0 {
		return &PointLayer{}, nil
	}

	out := &PointLayer{Fields: layers[0].Fields}
	for _, l := range layers {
		if !slices.Equal(l.Fields, out.Fields) {
			return nil, eris.Wrapf(ErrSchemaMismatch, "dataset: %s has columns %v, expected %v", l.Path, l.Fields, out.Fields)
		}
		out.Points = append(out.Points, l.Points...)
	}
	return out, nil
}

// DropMissingSource removes clusters flagged as having no GPS coordinates
func DropMissingSource(points []*models.PointFeature) []*models.PointFeature {
	kept := models.Filter(points, func(p *models.PointFeature) bool {
		return p.Attr(models.ColSource) != models.SourceMissing
	})
	if dropped := len(points) - len(kept); dropped > 0 {
		zap.L().Info("dataset: dropped clusters without coordinates", zap.Int("dropped", dropped))
	}
	return kept
}

// InvalidFeature names a feature that failed geometry validation
type InvalidFeature struct {
	ID  string
	Err error
}

// ValidatePolygons returns every feature whose geometry is unusable, in input order
func ValidatePolygons(features []*models.PolygonFeature) []InvalidFeature {
	var invalid []InvalidFeature
	for _, f := range features {
		if err := geo.Validate(f.Geometry); err != nil {
			invalid = append(invalid, InvalidFeature{ID: f.ID, Err: err})
		}
	}
	return invalid
}

// DuplicatePolygons returns the ids of forests whose boundary repeats an
// earlier forest after rounding coordinates to decimal places
func DuplicatePolygons(features []*models.PolygonFeature, decimal int) ([]string, error) {
	items := make([]geo.Keyed, 0, len(features))
	for _, f := range features {
		k := geo.Keyed{ID: f.ID}
		if f.Geometry != nil {
			k.Geometry = f.Geometry
		}
		items = append(items, k)
	}
	return geo.FindDuplicates(items, decimal)
}

// DropIDs returns features whose id is not in ids, keeping order
func DropIDs(features []*models.PolygonFeature, ids []string) []*models.PolygonFeature {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]*models.PolygonFeature, 0, len(features))
	for _, f := range features {
		if _, ok := drop[f.ID]; !ok {
			out = append(out, f)
		}
	}
	return out
}
