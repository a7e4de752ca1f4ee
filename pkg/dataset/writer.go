package dataset

import (
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// dbfNameLength is the longest field name a DBF header can hold
const dbfNameLength = 10

// FieldKind is a DBF column type
type FieldKind byte

const (
	Text    FieldKind = 'C'
	Integer FieldKind = 'N'
	Float   FieldKind = 'F'
)

// FieldSpec describes one attribute column of a written layer.
// Values are taken from the feature attribute of the same Name.
// Float columns default to 6 decimals.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Size      uint8
	Precision uint8
}

// DBFName truncates name to the DBF limit
func DBFName(name string) string {
	if len(name) > dbfNameLength {
		return name[:dbfNameLength]
	}
	return name
}

func shapefileBase(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".shp") {
		return path[:len(path)-4]
	}
	return path
}

func shapefilePath(path string) string {
	return shapefileBase(path) + ".shp"
}

func dbfFields(specs []FieldSpec) ([]shp.Field, error) {
	fields := make([]shp.Field, len(specs))
	seen := make(map[string]string, len(specs))
	for i, s := range specs {
		name := DBFName(s.Name)
		if prev, ok := seen[name]; ok {
			return nil, eris.Errorf("dataset: columns %q and %q both truncate to %q", prev, s.Name, name)
		}
		seen[name] = s.Name

		size := s.Size
		switch s.Kind {
		case Text:
			if size == 0 {
				size = 80
			}
			fields[i] = shp.StringField(name, size)
		case Integer:
			if size == 0 {
				size = 10
			}
			fields[i] = shp.NumberField(name, size)
		case Float:
			if size == 0 {
				size = 24
			}
			precision := s.Precision
			if precision == 0 {
				precision = 6
			}
			fields[i] = shp.FloatField(name, size, precision)
		default:
			return nil, eris.Errorf("dataset: column %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return fields, nil
}

func writeAttributes(w *shp.Writer, row int, fields []shp.Field, specs []FieldSpec, attrs map[string]string) error {
	for i, s := range specs {
		raw, ok := attrs[s.Name]
		if !ok || raw == "" {
			continue
		}
		var value interface{}
		switch s.Kind {
		case Integer:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return eris.Wrapf(err, "dataset: column %s row %d", s.Name, row)
			}
			value = n
		case Float:
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return eris.Wrapf(err, "dataset: column %s row %d", s.Name, row)
			}
			value = f
		default:
			if len(raw) > int(fields[i].Size) {
				zap.L().Debug("dataset: truncating text value", zap.String("column", s.Name), zap.Int("row", row))
				raw = raw[:fields[i].Size]
			}
			value = raw
		}
		if err := w.WriteAttribute(row, i, value); err != nil {
			return eris.Wrapf(err, "dataset: write column %s row %d", s.Name, row)
		}
	}
	return nil
}

// fixDBFName moves the attribute table to <base>.dbf. go-shp v0.1.1 writes
// it as <base>dbf.
func fixDBFName(base string) error {
	wrong := base + "dbf"
	if _, err := os.Stat(wrong); err != nil {
		return nil
	}
	if err := os.Rename(wrong, base+".dbf"); err != nil {
		return eris.Wrapf(err, "dataset: rename %s", wrong)
	}
	return nil
}

func writeLayer(path string, kind shp.ShapeType, specs []FieldSpec, n int, shape func(i int) (shp.Shape, map[string]string)) error {
	fields, err := dbfFields(specs)
	if err != nil {
		return err
	}

	base := shapefileBase(path)
	w, err := shp.Create(base+".shp", kind)
	if err != nil {
		return eris.Wrapf(err, "dataset: create shapefile %s", path)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return eris.Wrapf(err, "dataset: set fields %s", path)
	}

	for i := 0; i < n; i++ {
		s, attrs := shape(i)
		row := int(w.Write(s))
		if err := writeAttributes(w, row, fields, specs, attrs); err != nil {
			w.Close()
			return err
		}
	}
	w.Close()
	return fixDBFName(base)
}

// WritePolygons writes features and the listed attribute columns to a
// polygon shapefile
func WritePolygons(path string, features []*models.PolygonFeature, specs []FieldSpec) error {
	for _, f := range features {
		if f.Geometry == nil {
			return eris.Errorf("dataset: feature %q has no geometry", f.ID)
		}
	}
	err := writeLayer(path, shp.POLYGON, specs, len(features), func(i int) (shp.Shape, map[string]string) {
		return multiPolygonToShape(features[i].Geometry), features[i].Attrs
	})
	if err != nil {
		return err
	}
	zap.L().Info("dataset: wrote polygons", zap.String("path", path), zap.Int("features", len(features)))
	return nil
}

// WritePoints writes points and the listed attribute columns to a point shapefile
func WritePoints(path string, points []*models.PointFeature, specs []FieldSpec) error {
	err := writeLayer(path, shp.POINT, specs, len(points), func(i int) (shp.Shape, map[string]string) {
		return &shp.Point{X: points[i].Location.X, Y: points[i].Location.Y}, points[i].Attrs
	})
	if err != nil {
		return err
	}
	zap.L().Info("dataset: wrote points", zap.String("path", path), zap.Int("points", len(points)))
	return nil
}

// WriteProjection copies a .prj definition next to a written layer
func WriteProjection(path, wkt string) error {
	if wkt == "" {
		return nil
	}
	prj := shapefileBase(path) + ".prj"
	if err := os.WriteFile(prj, []byte(wkt), 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", prj)
	}
	return nil
}

// ReadProjection returns the .prj definition of a layer, or "" when absent
func ReadProjection(path string) (string, error) {
	data, err := os.ReadFile(shapefileBase(path) + ".prj")
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "dataset: read projection of %s", path)
	}
	return string(data), nil
}
