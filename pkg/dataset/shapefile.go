// Package dataset reads and writes the analysis layers: forest polygons and
// survey cluster points as ESRI shapefiles, and tables as CSV.
package dataset

import (
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

var (
	ErrMissingColumn  = eris.New("dataset: missing column")
	ErrSchemaMismatch = eris.New("dataset: layer schemas differ")
	ErrRowMismatch    = eris.New("dataset: row count mismatch")
	ErrShapeType      = eris.New("dataset: unexpected shape type")
)

// PolygonLayer is a polygon shapefile held in memory
type PolygonLayer struct {
	Path     string
	Fields   []string
	Features []*models.PolygonFeature
}

// PointLayer is a point shapefile held in memory
type PointLayer struct {
	Path   string
	Fields []string
	Points []*models.PointFeature
}

type record struct {
	shape shp.Shape
	attrs map[string]string
}

// readShapefile opens path, checks the projection sidecar and the required
// columns, and returns every record with its attributes keyed by field name
func readShapefile(path string, required ...string) ([]string, []record, error) {
	if err := checkProjection(path); err != nil {
		return nil, nil, err
	}

	reader, err := shp.Open(shapefilePath(path))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "dataset: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	numeric := make([]bool, len(fields))
	present := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
		numeric[i] = f.Fieldtype == 'N' || f.Fieldtype == 'F'
		present[names[i]] = struct{}{}
	}
	for _, col := range required {
		if _, ok := present[col]; !ok {
			return nil, nil, eris.Wrapf(ErrMissingColumn, "dataset: %s has no %s column", path, col)
		}
	}

	var records []record
	for reader.Next() {
		_, shape := reader.Shape()
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if numeric[i] {
				val = normalizeNumber(val)
			}
			attrs[name] = val
		}
		records = append(records, record{shape: shape, attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, nil, eris.Wrapf(err, "dataset: read shapefile %s", path)
	}
	return names, records, nil
}

// normalizeNumber renders DBF numbers in their shortest form so that
// 2014.000000 and 2014 compare equal
func normalizeNumber(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// checkProjection rejects layers whose .prj sidecar describes geographic coordinates
func checkProjection(path string) error {
	prj := shapefileBase(path) + ".prj"
	data, err := os.ReadFile(prj)
	if os.IsNotExist(err) {
		zap.L().Debug("dataset: no projection file", zap.String("path", prj))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "dataset: read %s", prj)
	}
	if err := geo.CheckProjection(string(data)); err != nil {
		return eris.Wrapf(err, "dataset: %s", path)
	}
	return nil
}

// ReadPolygons reads a polygon shapefile. Features are identified by idField.
func ReadPolygons(path, idField string) (*PolygonLayer, error) {
	names, records, err := readShapefile(path, idField)
	if err != nil {
		return nil, err
	}

	layer := &PolygonLayer{Path: path, Fields: names, Features: make([]*models.PolygonFeature, 0, len(records))}
	for i, r := range records {
		poly, ok := r.shape.(*shp.Polygon)
		if !ok {
			return nil, eris.Wrapf(ErrShapeType, "dataset: %s record %d is %T", path, i, r.shape)
		}
		layer.Features = append(layer.Features, &models.PolygonFeature{
			ID:       r.attrs[idField],
			Geometry: shapeToMultiPolygon(poly),
			Attrs:    r.attrs,
		})
	}

	zap.L().Info("dataset: read polygons", zap.String("path", path), zap.Int("features", len(layer.Features)))
	return layer, nil
}

// ReadPoints reads a point shapefile. Points are identified by idField and
// must carry every column in required.
func ReadPoints(path, idField string, required ...string) (*PointLayer, error) {
	names, records, err := readShapefile(path, append([]string{idField}, required...)...)
	if err != nil {
		return nil, err
	}

	layer := &PointLayer{Path: path, Fields: names, Points: make([]*models.PointFeature, 0, len(records))}
	for i, r := range records {
		pt, ok := r.shape.(*shp.Point)
		if !ok {
			return nil, eris.Wrapf(ErrShapeType, "dataset: %s record %d is %T", path, i, r.shape)
		}
		layer.Points = append(layer.Points, &models.PointFeature{
			ID:       r.attrs[idField],
			Location: models.Location{X: pt.X, Y: pt.Y},
			Attrs:    r.attrs,
		})
	}

	zap.L().Info("dataset: read points", zap.String("path", path), zap.Int("points", len(layer.Points)))
	return layer, nil
}

// shapeToMultiPolygon groups shapefile rings into polygons: clockwise rings
// start a new polygon, counter-clockwise rings are holes of the current one.
// Shells come out counter-clockwise and holes clockwise, as go-geom and
// GeoJSON expect.
func shapeToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY)
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return mp
	}

	var current *geom.Polygon
	flush := func() {
		if current != nil {
			if err := mp.Push(current); err != nil {
				zap.L().Debug("dataset: skipping malformed polygon part", zap.Error(err))
			}
		}
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		shell := current == nil || xy.SignedArea(geom.XY, flat) >= 0
		if shell {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		ring := geom.NewLinearRingFlat(geom.XY, orientRing(flat, !shell))
		if err := current.Push(ring); err != nil {
			zap.L().Debug("dataset: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()
	return mp
}

// orientRing returns the XY ring clockwise when clockwise is set and
// counter-clockwise otherwise, reversing it in place if needed.
// Degenerate rings are left alone.
func orientRing(flat []float64, clockwise bool) []float64 {
	a := xy.SignedArea(geom.XY, flat)
	if a == 0 || (a > 0) == clockwise {
		return flat
	}
	for i, j := 0, len(flat)-2; i < j; i, j = i+2, j-2 {
		flat[i], flat[j] = flat[j], flat[i]
		flat[i+1], flat[j+1] = flat[j+1], flat[i+1]
	}
	return flat
}

// multiPolygonToShape writes outer rings clockwise and holes counter-clockwise
func multiPolygonToShape(mp *geom.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			flat := poly.LinearRing(j).FlatCoords()
			stride := poly.Stride()
			clockwise := xy.SignedArea(poly.Layout(), flat) > 0
			wantClockwise := j == 0

			n := len(flat) / stride
			ring := make([]shp.Point, n)
			for k := 0; k < n; k++ {
				src := k
				if clockwise != wantClockwise {
					src = n - 1 - k
				}
				ring[k] = shp.Point{X: flat[src*stride], Y: flat[src*stride+1]}
			}
			parts = append(parts, ring)
		}
	}
	return (*shp.Polygon)(shp.NewPolyLine(parts))
}
