package coverage

import (
	"sort"

	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Describe holds descriptive statistics of a sample. Std uses n-1.
type Describe struct {
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Q25    float64
	Median float64
	Q75    float64
	Max    float64
}

// DescribeValues summarises values; quartiles use the empirical inverse CDF
func DescribeValues(values []float64) Describe {
	if len(values) == 0 {
		return Describe{}
	}
	x := append([]float64(nil), values...)
	sort.Float64s(x)
	d := Describe{
		Count:  len(x),
		Mean:   stat.Mean(x, nil),
		Min:    floats.Min(x),
		Max:    floats.Max(x),
		Q25:    stat.Quantile(0.25, stat.Empirical, x, nil),
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		Q75:    stat.Quantile(0.75, stat.Empirical, x, nil),
	}
	if len(x) > 1 {
		d.Std = stat.StdDev(x, nil)
	}
	return d
}

// AreasHectares returns the planar area of every forest in hectares
func AreasHectares(forests []*models.PolygonFeature) ([]float64, error) {
	areas := make([]float64, 0, len(forests))
	for _, f := range forests {
		if f == nil {
			continue
		}
		p, err := geo.FromFeature(f)
		if err != nil {
			return nil, eris.Wrap(err, "coverage: forest area")
		}
		areas = append(areas, p.AreaHectares())
	}
	return areas, nil
}

// AreaStats describes forest areas grouped by whether the forest has clusters
func AreaStats(areas []float64, has []bool) (map[bool]Describe, error) {
	if len(areas) != len(has) {
		return nil, eris.Errorf("coverage: %d areas but %d flags", len(areas), len(has))
	}
	groups := map[bool][]float64{}
	for i, a := range areas {
		groups[has[i]] = append(groups[has[i]], a)
	}
	out := make(map[bool]Describe, len(groups))
	for k, v := range groups {
		out[k] = DescribeValues(v)
	}
	return out, nil
}

// HasAny returns, per forest, whether any of the years has clusters
func (c *Coverage) HasAny() []bool {
	out := make([]bool, len(c.ForestIDs))
	for i := range out {
		out[i] = c.YearsCovered(i) > 0
	}
	return out
}
