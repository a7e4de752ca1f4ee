package dataset

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// WriteGeoJSON writes polygon features as a GeoJSON FeatureCollection in the
// layer's own coordinates. Properties follow specs: numeric kinds are written
// as numbers, unparsable or empty values as null.
func WriteGeoJSON(path string, features []*models.PolygonFeature, specs []FieldSpec) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(features))}
	for _, f := range features {
		props := make(map[string]interface{}, len(specs))
		for _, s := range specs {
			props[s.Name] = propertyValue(s.Kind, f.Attrs[s.Name])
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrapf(err, "dataset: encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	return nil
}

func propertyValue(kind FieldKind, raw string) interface{} {
	if kind == Text {
		return raw
	}
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return f
}
