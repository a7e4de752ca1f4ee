package dataset

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/mpi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

const utm45 = `PROJCS["WGS_1984_UTM_Zone_45N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["Meter",1.0]]`

const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// squareWithHole is a 100 m square with a 20 m square hole
func squareWithHole(id string, x, y float64) *models.PolygonFeature {
	outer := []float64{x, y, x + 100, y, x + 100, y + 100, x, y + 100, x, y}
	hole := []float64{x + 20, y + 20, x + 20, y + 40, x + 40, y + 40, x + 40, y + 20, x + 20, y + 20}
	flat := append(append([]float64{}, outer...), hole...)
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, []int{len(outer), len(flat)})); err != nil {
		panic(err)
	}
	return &models.PolygonFeature{
		ID:       id,
		Geometry: mp,
		Attrs:    map[string]string{models.ColForestID: id, "AREA": "0.96"},
	}
}

func cluster(id, clust string, x, y float64) *models.PointFeature {
	return &models.PointFeature{
		ID:       id,
		Location: models.Location{X: x, Y: y},
		Attrs: map[string]string{
			models.ColClusterID:  id,
			models.ColClusterNo:  clust,
			models.ColSurveyYear: "2014",
			models.ColUrbanRural: models.Rural,
		},
	}
}

var clusterFields = []FieldSpec{
	{Name: models.ColClusterID, Kind: Text, Size: 20},
	{Name: models.ColClusterNo, Kind: Integer},
	{Name: models.ColSurveyYear, Kind: Float, Precision: 3},
	{Name: models.ColUrbanRural, Kind: Text, Size: 1},
}

func writeClusters(t *testing.T, dir string, points ...*models.PointFeature) string {
	t.Helper()
	path := filepath.Join(dir, "clusters.shp")
	require.NoError(t, WritePoints(path, points, clusterFields))
	return path
}

func TestPolygonRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forests.shp")
	features := []*models.PolygonFeature{
		squareWithHole("cf1", 500000, 1300000),
		squareWithHole("cf2", 501000, 1300000),
	}
	specs := []FieldSpec{
		{Name: models.ColForestID, Kind: Text, Size: 16},
		{Name: "AREA", Kind: Float, Precision: 2},
	}
	require.NoError(t, WritePolygons(path, features, specs))
	require.NoError(t, WriteProjection(path, utm45))

	layer, err := ReadPolygons(path, models.ColForestID)
	require.NoError(t, err)
	assert.Equal(t, []string{models.ColForestID, "AREA"}, layer.Fields)
	require.Len(t, layer.Features, 2)

	for i, f := range layer.Features {
		assert.Equal(t, features[i].ID, f.ID)
		assert.Equal(t, "0.96", f.Attrs["AREA"])
		require.Equal(t, 1, f.Geometry.NumPolygons())
		assert.Equal(t, 2, f.Geometry.Polygon(0).NumLinearRings())
		assert.InDelta(t, 9600, f.Geometry.Area(), 1e-6)
		// stored clockwise, read back counter-clockwise with a clockwise hole
		assert.Less(t, xy.SignedArea(geom.XY, f.Geometry.Polygon(0).LinearRing(0).FlatCoords()), 0.0)
		assert.Greater(t, xy.SignedArea(geom.XY, f.Geometry.Polygon(0).LinearRing(1).FlatCoords()), 0.0)

		poly, err := geo.FromFeature(f)
		require.NoError(t, err)
		assert.False(t, poly.Contains(models.Location{X: features[i].Geometry.Bounds().Min(0) + 30, Y: 1300030}))
		assert.True(t, poly.Contains(models.Location{X: features[i].Geometry.Bounds().Min(0) + 70, Y: 1300070}))
	}

	prj, err := ReadProjection(path)
	require.NoError(t, err)
	assert.Equal(t, utm45, prj)
}

func TestPointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeClusters(t, dir,
		cluster("KH201400000001", "1", 500010, 1300020),
		cluster("KH201400000002", "2", 500030, 1300040),
	)

	layer, err := ReadPoints(path, models.ColClusterID, models.ColSurveyYear, models.ColUrbanRural)
	require.NoError(t, err)
	require.Len(t, layer.Points, 2)

	p := layer.Points[0]
	assert.Equal(t, "KH201400000001", p.ID)
	assert.Equal(t, models.Location{X: 500010, Y: 1300020}, p.Location)
	assert.Equal(t, "2014", p.Attr(models.ColSurveyYear))
	assert.Equal(t, "1", p.Attr(models.ColClusterNo))
	assert.Equal(t, models.Rural, p.Attr(models.ColUrbanRural))
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeClusters(t, dir, cluster("KH1", "1", 0, 0))

	_, err := ReadPoints(path, models.ColClusterID, models.ColSource)
	assert.True(t, eris.Is(err, ErrMissingColumn))

	_, err = ReadPolygons(path, models.ColClusterID)
	assert.True(t, eris.Is(err, ErrShapeType))

	require.NoError(t, WriteProjection(path, wgs84))
	_, err = ReadPoints(path, models.ColClusterID)
	assert.True(t, eris.Is(err, geo.ErrNonPlanar))

	_, err = ReadPoints(filepath.Join(dir, "absent.shp"), models.ColClusterID)
	assert.Error(t, err)
}

func TestNormalizeNumber(t *testing.T) {
	assert.Equal(t, "2014", normalizeNumber("2014.000"))
	assert.Equal(t, "0.5", normalizeNumber("0.5"))
	assert.Equal(t, "-3", normalizeNumber("-3.0"))
	assert.Equal(t, "R", normalizeNumber("R"))
	assert.Equal(t, "", normalizeNumber(""))
}

func TestOrientRing(t *testing.T) {
	ccw := []float64{0, 0, 1, 0, 1, 1, 0, 1, 0, 0}
	cw := []float64{0, 0, 0, 1, 1, 1, 1, 0, 0, 0}

	assert.Equal(t, cw, orientRing(append([]float64{}, ccw...), true))
	assert.Equal(t, ccw, orientRing(append([]float64{}, cw...), false))
	assert.Equal(t, ccw, orientRing(append([]float64{}, ccw...), false))

	flat := []float64{0, 0, 1, 0, 2, 0, 0, 0}
	assert.Equal(t, flat, orientRing(append([]float64{}, flat...), true))
}

func TestWriterFieldNames(t *testing.T) {
	assert.Equal(t, "dist2close", DBFName("dist2closestCluster_m"))
	assert.Equal(t, "mpi", DBFName("mpi"))

	_, err := dbfFields([]FieldSpec{
		{Name: "has14rC20kA", Kind: Integer},
		{Name: "has14rC20kB", Kind: Integer},
	})
	assert.Error(t, err)

	_, err = dbfFields([]FieldSpec{{Name: "x", Kind: 'L'}})
	assert.Error(t, err)

	fields, err := dbfFields([]FieldSpec{{Name: "mpi", Kind: Float}})
	require.NoError(t, err)
	assert.Equal(t, uint8(6), fields[0].Precision)
}

func TestConcatLayers(t *testing.T) {
	a := &PointLayer{Path: "a", Fields: []string{"DHSID", "DHSYEAR"}, Points: []*models.PointFeature{cluster("1", "1", 0, 0)}}
	b := &PointLayer{Path: "b", Fields: []string{"DHSID", "DHSYEAR"}, Points: []*models.PointFeature{cluster("2", "1", 0, 0), cluster("3", "2", 0, 0)}}

	out, err := ConcatLayers(a, b)
	require.NoError(t, err)
	require.Len(t, out.Points, 3)
	assert.Equal(t, "3", out.Points[2].ID)

	c := &PointLayer{Path: "c", Fields: []string{"DHSID"}}
	_, err = ConcatLayers(a, c)
	assert.True(t, eris.Is(err, ErrSchemaMismatch))

	empty, err := ConcatLayers()
	require.NoError(t, err)
	assert.Empty(t, empty.Points)
}

func TestDropMissingSource(t *testing.T) {
	keep := cluster("1", "1", 0, 0)
	keep.Attrs[models.ColSource] = "GPS"
	drop := cluster("2", "2", 0, 0)
	drop.Attrs[models.ColSource] = models.SourceMissing

	got := DropMissingSource([]*models.PointFeature{keep, drop, cluster("3", "3", 0, 0)})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}

func TestPolygonChecks(t *testing.T) {
	a := squareWithHole("a", 0, 0)
	b := squareWithHole("b", 1000, 0)
	dupA := squareWithHole("a2", 0.01, 0)
	broken := &models.PolygonFeature{ID: "broken"}

	invalid := ValidatePolygons([]*models.PolygonFeature{a, broken, b})
	require.Len(t, invalid, 1)
	assert.Equal(t, "broken", invalid[0].ID)
	assert.True(t, eris.Is(invalid[0].Err, geo.ErrInvalidGeometry))

	dups, err := DuplicatePolygons([]*models.PolygonFeature{a, b, dupA}, geo.DefaultDecimal)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, dups)

	kept := DropIDs([]*models.PolygonFeature{a, b, dupA}, dups)
	require.Len(t, kept, 2)
	assert.Equal(t, "b", kept[1].ID)
}

func TestEstimateTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpi.csv")
	rows := EstimateRows([]mpi.Estimate{
		{Unit: "1", Region: "3", MPI: 0.25, SE: 0.05, Lower: 0.14, Upper: 0.36, Headcount: 0.5, Intensity: 0.5, Households: 4, TotalSampled: 12, PercentMissing: 8.333333333333334},
		{Unit: "2", MPI: 0, TotalSampled: 9},
	})
	require.NoError(t, WriteCSV(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "clust_no,region,mpi,mpi_SE,mpi_lo95CI,mpi_up95CI,H,A,n_hh,tot_samp_ppl,pct_samp_ppl_mis")

	got, err := ReadCSV[EstimateRow](path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadMicrodata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micro.csv")
	content := "ind_id,hh_id,psu,region,sample,d_a,d_b\n" +
		"1,10,1.0,3,1,1,0\n" +
		"2,10,1,3,1,NA,1\n" +
		"3,11,2,,0,0,.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	people, err := ReadMicrodata(path, []string{"d_b", "d_a"})
	require.NoError(t, err)
	require.Len(t, people, 3)

	assert.Equal(t, "1", people[0].ID)
	assert.Equal(t, "10", people[0].HouseholdID)
	assert.Equal(t, "1", people[0].ClusterID)
	assert.Equal(t, "3", people[0].RegionID)
	assert.Equal(t, []float64{0, 1}, people[0].Deprivations)
	assert.True(t, people[0].InSample)

	assert.True(t, math.IsNaN(people[1].Deprivations[1]))
	assert.Equal(t, 1.0, people[1].Deprivations[0])

	assert.False(t, people[2].InSample)
	assert.Equal(t, "", people[2].RegionID)
	assert.True(t, math.IsNaN(people[2].Deprivations[0]))

	_, err = ReadMicrodata(path, []string{"d_c"})
	assert.True(t, eris.Is(err, ErrMissingColumn))
}

func TestReadMicrodataWithoutSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micro.csv")
	content := "ind_id,hh_id,psu,d_a\n1,10,4,1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	people, err := ReadMicrodata(path, []string{"d_a"})
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.True(t, people[0].InSample)
	assert.Equal(t, "4", people[0].ClusterID)
}

func TestJoinEstimates(t *testing.T) {
	points := []*models.PointFeature{
		cluster("KH3", "3", 3, 3),
		cluster("KH1", "1", 1, 1),
		cluster("KH2", "2", 2, 2),
	}
	rows := []EstimateRow{
		{ClusterNo: "1", MPI: 0.1, SE: 0.01, Lower: 0.08, Upper: 0.12, TotalSampled: 30, PercentMissing: 2.5},
		{ClusterNo: "2", MPI: 0.2, TotalSampled: 31},
		{ClusterNo: "3", MPI: 0.3, TotalSampled: 32},
	}

	joined, err := JoinEstimates(points, models.ColClusterNo, rows, 3)
	require.NoError(t, err)
	require.Len(t, joined, 3)
	assert.Equal(t, "KH3", joined[0].ID)
	assert.Equal(t, "0.3", joined[0].Attr("mpi"))
	assert.Equal(t, "30", joined[1].Attr("tot_ppl"))
	assert.Equal(t, "2.5", joined[1].Attr("pct_pplmis"))
	assert.Equal(t, "0.08", joined[1].Attr("mpi_lo95CI"))
	assert.Empty(t, points[0].Attr("mpi"), "input points are not modified")

	dir := t.TempDir()
	path := filepath.Join(dir, "joined.shp")
	require.NoError(t, WritePoints(path, joined, append(clusterFields, EstimateFields()...)))
	layer, err := ReadPoints(path, models.ColClusterID, "mpi", "mpi_SE", "mpi_lo95CI", "mpi_up95CI", "tot_ppl", "pct_pplmis")
	require.NoError(t, err)
	assert.Equal(t, "0.1", layer.Points[1].Attr("mpi"))
	assert.Equal(t, "31", layer.Points[2].Attr("tot_ppl"))
}

func TestJoinEstimatesMismatch(t *testing.T) {
	rows := []EstimateRow{{ClusterNo: "1"}, {ClusterNo: "2"}}

	gap := []*models.PointFeature{cluster("a", "1", 0, 0), cluster("b", "3", 0, 0)}
	_, err := JoinEstimates(gap, models.ColClusterNo, rows, 0)
	assert.True(t, eris.Is(err, ErrRowMismatch))

	points := []*models.PointFeature{cluster("a", "1", 0, 0), cluster("b", "2", 0, 0)}
	_, err = JoinEstimates(points, models.ColClusterNo, rows, 3)
	assert.True(t, eris.Is(err, ErrRowMismatch))

	_, err = JoinEstimates(points, models.ColClusterNo, rows[:1], 0)
	assert.True(t, eris.Is(err, ErrRowMismatch))

	bad := []*models.PointFeature{cluster("a", "x", 0, 0)}
	_, err = JoinEstimates(bad, models.ColClusterNo, rows, 0)
	assert.True(t, eris.Is(err, ErrRowMismatch))
}

func TestWriteGeoJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forests.geojson")

	// geometry as read from a shapefile
	shpPath := filepath.Join(dir, "forests.shp")
	require.NoError(t, WritePolygons(shpPath, []*models.PolygonFeature{squareWithHole("cf1", 0, 0)}, []FieldSpec{
		{Name: models.ColForestID, Kind: Text, Size: 8},
	}))
	layer, err := ReadPolygons(shpPath, models.ColForestID)
	require.NoError(t, err)
	require.Len(t, layer.Features, 1)

	f := squareWithHole("cf1", 0, 0)
	f.Geometry = layer.Features[0].Geometry
	f.Attrs["n14rC20k"] = "3"
	specs := []FieldSpec{
		{Name: models.ColForestID, Kind: Text},
		{Name: "AREA", Kind: Float},
		{Name: "n14rC20k", Kind: Integer},
		{Name: "has14rC20k", Kind: Integer},
	}
	require.NoError(t, WriteGeoJSON(path, []*models.PolygonFeature{f}, specs))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			ID         string                 `json:"id"`
			Geometry   struct {
				Type        string          `json:"type"`
				Coordinates [][][][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	got := doc.Features[0]
	assert.Equal(t, "cf1", got.ID)
	assert.Equal(t, "MultiPolygon", got.Geometry.Type)
	require.Len(t, got.Geometry.Coordinates, 1)
	rings := got.Geometry.Coordinates[0]
	require.Len(t, rings, 2)
	// right-hand rule: exterior counter-clockwise, hole clockwise
	assert.Less(t, xy.SignedArea(geom.XY, flatten(rings[0])), 0.0)
	assert.Greater(t, xy.SignedArea(geom.XY, flatten(rings[1])), 0.0)
	assert.Equal(t, "cf1", got.Properties[models.ColForestID])
	assert.Equal(t, 0.96, got.Properties["AREA"])
	assert.Equal(t, 3.0, got.Properties["n14rC20k"])
	assert.Nil(t, got.Properties["has14rC20k"])
}

func flatten(ring [][]float64) []float64 {
	flat := make([]float64, 0, 2*len(ring))
	for _, c := range ring {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
