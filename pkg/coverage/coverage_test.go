package coverage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kass/cf-poverty/pkg/dataset"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/sjoin"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

var years = []int{2000, 2005, 2010, 2014}

func square(id string, x, y, side float64) *models.PolygonFeature {
	mp := geom.NewMultiPolygon(geom.XY)
	ring := []float64{x, y, x + side, y, x + side, y + side, x, y + side, x, y}
	if err := mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})); err != nil {
		panic(err)
	}
	return &models.PolygonFeature{ID: id, Geometry: mp}
}

func dhs(id string, x, y float64, year int, class string) *models.PointFeature {
	return &models.PointFeature{
		ID:       id,
		Location: models.Location{X: x, Y: y},
		Attrs: map[string]string{
			models.ColSurveyYear: strconv.Itoa(year),
			models.ColUrbanRural: class,
		},
	}
}

// Forest 1 has rural clusters in 2000, 2005, 2010; forest 2 in 2000 and 2014;
// forest 3 only urban clusters; forest 4 in 2000 and 2014 like forest 2.
func fixture() ([]*models.PolygonFeature, []*models.PointFeature) {
	forests := []*models.PolygonFeature{
		square("1", 0, 0, 1000),
		square("2", 100000, 0, 1000),
		square("3", 200000, 0, 1000),
		square("4", 300000, 0, 1000),
	}
	clusters := []*models.PointFeature{
		dhs("a", 500, 500, 2000, models.Rural),
		dhs("b", 5000, 500, 2005, models.Rural),
		dhs("c", 500, 15000, 2010, models.Rural),
		dhs("d", 500, 25000, 2014, models.Rural), // beyond 20 km
		dhs("e", 100500, 500, 2000, models.Rural),
		dhs("f", 100500, -3000, 2014, models.Rural),
		dhs("g", 200500, 500, 2005, models.Urban),
		dhs("h", 300500, 500, 2000, models.Rural),
		dhs("i", 300600, 600, 2000, models.Rural),
		dhs("j", 299000, 500, 2014, models.Rural),
	}
	return forests, clusters
}

func build(t *testing.T, class string) *Coverage {
	t.Helper()
	forests, clusters := fixture()
	cov, err := Build(context.Background(), forests, clusters, Options{
		Years:  years,
		Class:  class,
		Radius: 20000,
	})
	require.NoError(t, err)
	return cov
}

func TestBuild(t *testing.T) {
	cov := build(t, models.Rural)

	assert.Equal(t, []string{"1", "2", "3", "4"}, cov.ForestIDs)
	assert.Equal(t, years, cov.Years)
	assert.Equal(t, []int{1, 1, 0, 2}, cov.Counts[2000])
	assert.Equal(t, []int{1, 0, 0, 0}, cov.Counts[2005])
	assert.Equal(t, []int{1, 0, 0, 0}, cov.Counts[2010])
	assert.Equal(t, []int{0, 1, 0, 1}, cov.Counts[2014])
	assert.Equal(t, []bool{true, true, false, true}, cov.Has[2000])
	assert.Equal(t, []bool{false, true, false, true}, cov.Has[2014])

	all := build(t, ClassAll)
	assert.Equal(t, []int{1, 0, 1, 0}, all.Counts[2005])
}

func TestBuildMatchesSingleYearCount(t *testing.T) {
	forests, clusters := fixture()
	cov := build(t, models.Rural)
	for _, year := range years {
		counts, err := sjoin.CountPointsInPolygons(context.Background(), clusters, forests, sjoin.Options{
			Radius: 20000,
			Filter: YearFilter(year, models.Rural),
		})
		require.NoError(t, err)
		for i, id := range cov.ForestIDs {
			assert.Equal(t, counts[id], cov.Counts[year][i], "year %d forest %s", year, id)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	forests, clusters := fixture()

	_, err := Build(context.Background(), forests, clusters, Options{})
	assert.Error(t, err)

	_, err = Build(context.Background(), forests, clusters, Options{Years: []int{2000, 2000}})
	assert.Error(t, err)

	dup := append(forests, square("1", 0, 0, 10))
	_, err = Build(context.Background(), dup, clusters, Options{Years: years})
	assert.True(t, eris.Is(err, sjoin.ErrDuplicateID))
}

func TestYearsCovered(t *testing.T) {
	cov := build(t, models.Rural)
	assert.Equal(t, 3, cov.YearsCovered(0))
	assert.Equal(t, 2, cov.YearsCovered(1))
	assert.Equal(t, 0, cov.YearsCovered(2))
	assert.Equal(t, 2, cov.YearsCovered(3))

	assert.Equal(t, 3, cov.CountCoveredAtLeast(1))
	assert.Equal(t, 3, cov.CountCoveredAtLeast(2))
	assert.Equal(t, 1, cov.CountCoveredAtLeast(3))
	assert.Equal(t, 0, cov.CountCoveredAtLeast(4))
	assert.Equal(t, []bool{true, true, false, true}, cov.HasAny())
}

func TestExactCombinations(t *testing.T) {
	cov := build(t, models.Rural)

	pairs, err := cov.ExactCombinations(2)
	require.NoError(t, err)
	require.Len(t, pairs, 6)
	got := map[string]int{}
	for _, c := range pairs {
		got[c.Label()] = c.Forests
	}
	assert.Equal(t, map[string]int{
		"2000-2005": 0,
		"2000-2010": 0,
		"2000-2014": 2,
		"2005-2010": 0,
		"2005-2014": 0,
		"2010-2014": 0,
	}, got)
	assert.Equal(t, []int{2000, 2005}, pairs[0].Years)

	triples, err := cov.ExactCombinations(3)
	require.NoError(t, err)
	require.Len(t, triples, 4)
	assert.Equal(t, "2000-2005-2010", triples[0].Label())
	assert.Equal(t, 1, triples[0].Forests)

	all, err := cov.ExactCombinations(4)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].Forests)

	_, err = cov.ExactCombinations(0)
	assert.Error(t, err)
	_, err = cov.ExactCombinations(5)
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	cov := build(t, models.Rural)
	s := cov.Summary()
	require.Len(t, s, 4)
	assert.Equal(t, YearSummary{Year: 2000, WithClusters: 3, Total: 4, Percent: 75}, s[0])
	assert.Equal(t, "75.0% (3/4) community forests have at least one DHS-2000 cluster", s[0].String())
	assert.Equal(t, 25.0, s[1].Percent)
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "n00rC20k", ColumnName("n", 2000, models.Rural, 20000))
	assert.Equal(t, "has14rC20k", ColumnName("has", 2014, models.Rural, 20000))
	assert.Equal(t, "n05uC5k", ColumnName("n", 2005, models.Urban, 5000))
	assert.Equal(t, "n10aC2.5k", ColumnName("n", 2010, ClassAll, 2500))
	assert.LessOrEqual(t, len(ColumnName("has", 2014, models.Rural, 20000)), 10)
}

func TestAreaStats(t *testing.T) {
	forests, _ := fixture()
	areas, err := AreasHectares(forests)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 100, 100, 100}, areas)

	stats, err := AreaStats([]float64{1, 2, 3, 4, 10}, []bool{true, true, true, true, false})
	require.NoError(t, err)
	with := stats[true]
	assert.Equal(t, 4, with.Count)
	assert.InDelta(t, 2.5, with.Mean, 1e-12)
	assert.InDelta(t, 1.2909944487358056, with.Std, 1e-12)
	assert.Equal(t, 1.0, with.Min)
	assert.Equal(t, 4.0, with.Max)
	assert.Equal(t, 1.0, with.Q25)
	assert.Equal(t, 2.0, with.Median)
	assert.Equal(t, 3.0, with.Q75)

	without := stats[false]
	assert.Equal(t, 1, without.Count)
	assert.Equal(t, 10.0, without.Mean)
	assert.Equal(t, 0.0, without.Std)

	_, err = AreaStats([]float64{1}, nil)
	assert.Error(t, err)
	assert.Equal(t, Describe{}, DescribeValues(nil))
}

func TestAreaStatsFromShapefile(t *testing.T) {
	forests, clusters := fixture()
	for _, f := range forests {
		f.Attrs = map[string]string{models.ColForestID: f.ID}
	}
	path := filepath.Join(t.TempDir(), "forests.shp")
	require.NoError(t, dataset.WritePolygons(path, forests, []dataset.FieldSpec{
		{Name: models.ColForestID, Kind: dataset.Text, Size: 8},
	}))

	layer, err := dataset.ReadPolygons(path, models.ColForestID)
	require.NoError(t, err)
	require.Empty(t, dataset.ValidatePolygons(layer.Features))

	areas, err := AreasHectares(layer.Features)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 100, 100, 100}, areas)

	cov, err := Build(context.Background(), layer.Features, clusters, Options{Years: years, Class: models.Rural, Radius: 20000})
	require.NoError(t, err)
	assert.Equal(t, build(t, models.Rural).Counts, cov.Counts)

	stats, err := AreaStats(areas, cov.HasAny())
	require.NoError(t, err)
	assert.Equal(t, 3, stats[true].Count)
	assert.Equal(t, 100.0, stats[true].Mean)
	assert.Equal(t, 1, stats[false].Count)
}
