// Package coverage relates survey clusters to community forests across
// survey years: which forests have clusters within a buffer in which years.
package coverage

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/rtree"
	"github.com/kass/cf-poverty/pkg/sjoin"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClassAll disables the urban/rural filter
const ClassAll = ""

// Options controls Build
type Options struct {
	Years []int
	// Class is models.Rural, models.Urban or ClassAll
	Class   string
	Radius  float64
	Workers int
}

// Coverage holds per-year cluster counts for every forest, aligned with ForestIDs
type Coverage struct {
	ForestIDs []string
	Years     []int
	Class     string
	Radius    float64
	Counts    map[int][]int
	Has       map[int][]bool
}

// YearFilter selects clusters of one survey year and, unless class is
// ClassAll, one urban/rural class
func YearFilter(year int, class string) models.PointPredicate {
	preds := []models.PointPredicate{models.AttrEquals(models.ColSurveyYear, strconv.Itoa(year))}
	if class != ClassAll {
		preds = append(preds, models.AttrEquals(models.ColUrbanRural, class))
	}
	return models.All(preds...)
}

// Build counts, for every year, the clusters of that year inside each
// buffered forest. Forests are buffered once and years run concurrently.
func Build(ctx context.Context, forests []*models.PolygonFeature, clusters []*models.PointFeature, opts Options) (*Coverage, error) {
	logger := zap.L().With(zap.String("component", "coverage"))

	if len(opts.Years) == 0 {
		return nil, eris.New("coverage: no survey years")
	}
	years := append([]int(nil), opts.Years...)
	sort.Ints(years)
	for i := 1; i < len(years); i++ {
		if years[i] == years[i-1] {
			return nil, eris.Errorf("coverage: year %d listed twice", years[i])
		}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	regions, err := sjoin.BuildRegions(forests, opts.Radius)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: build forest regions")
	}

	cov := &Coverage{
		ForestIDs: make([]string, len(regions)),
		Years:     years,
		Class:     opts.Class,
		Radius:    opts.Radius,
		Counts:    make(map[int][]int, len(years)),
		Has:       make(map[int][]bool, len(years)),
	}
	for i, r := range regions {
		cov.ForestIDs[i] = r.ID
	}

	results := make([][]int, len(years))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for yi, year := range years {
		yi, year := yi, year
		g.Go(func() error {
			selected := models.Filter(clusters, YearFilter(year, opts.Class))
			index := rtree.NewGeoIndex()
			if err := index.IndexPoints(selected); err != nil {
				return eris.Wrapf(err, "coverage: index %d clusters", year)
			}
			counts, err := sjoin.CountInRegions(gctx, index, regions, 1)
			if err != nil {
				return eris.Wrapf(err, "coverage: count %d clusters", year)
			}
			row := make([]int, len(regions))
			for i, r := range regions {
				row[i] = counts[r.ID]
			}
			results[yi] = row
			logger.Debug("year counted", zap.Int("year", year), zap.Int("clusters", len(selected)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for yi, year := range years {
		cov.Counts[year] = results[yi]
		has := make([]bool, len(results[yi]))
		for i, n := range results[yi] {
			has[i] = n > 0
		}
		cov.Has[year] = has
	}

	logger.Info("coverage built",
		zap.Int("forests", len(regions)),
		zap.Ints("years", years),
		zap.String("class", opts.Class),
		zap.Float64("radius_m", opts.Radius),
	)
	return cov, nil
}

// YearsCovered returns the number of years with at least one cluster near forest i
func (c *Coverage) YearsCovered(i int) int {
	n := 0
	for _, year := range c.Years {
		if c.Has[year][i] {
			n++
		}
	}
	return n
}

// CountCoveredAtLeast returns the number of forests covered in k or more years
func (c *Coverage) CountCoveredAtLeast(k int) int {
	n := 0
	for i := range c.ForestIDs {
		if c.YearsCovered(i) >= k {
			n++
		}
	}
	return n
}

// Combination is a set of years and the forests covered in exactly those years
type Combination struct {
	Years   []int
	Forests int
}

// Label joins the years with "-"
func (c Combination) Label() string {
	parts := make([]string, len(c.Years))
	for i, y := range c.Years {
		parts[i] = strconv.Itoa(y)
	}
	return strings.Join(parts, "-")
}

// ExactCombinations returns every k-combination of the years, in
// lexicographic order, with the number of forests whose covered years are
// exactly that combination
func (c *Coverage) ExactCombinations(k int) ([]Combination, error) {
	if k < 1 || k > len(c.Years) {
		return nil, eris.Errorf("coverage: combination size %d outside 1..%d", k, len(c.Years))
	}

	var combos []Combination
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		chosen := make([]int, k)
		in := make(map[int]bool, k)
		for i, j := range idx {
			chosen[i] = c.Years[j]
			in[c.Years[j]] = true
		}
		n := 0
		for f := range c.ForestIDs {
			match := true
			for _, year := range c.Years {
				if c.Has[year][f] != in[year] {
					match = false
					break
				}
			}
			if match {
				n++
			}
		}
		combos = append(combos, Combination{Years: chosen, Forests: n})

		// advance to the next combination
		i := k - 1
		for i >= 0 && idx[i] == len(c.Years)-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return combos, nil
}

// YearSummary is the share of forests with clusters in one year
type YearSummary struct {
	Year         int
	WithClusters int
	Total        int
	Percent      float64
}

// Summary reports, per year, how many forests have at least one cluster
func (c *Coverage) Summary() []YearSummary {
	out := make([]YearSummary, 0, len(c.Years))
	for _, year := range c.Years {
		s := YearSummary{Year: year, Total: len(c.ForestIDs)}
		for _, h := range c.Has[year] {
			if h {
				s.WithClusters++
			}
		}
		if s.Total > 0 {
			s.Percent = float64(s.WithClusters) / float64(s.Total) * 100
		}
		out = append(out, s)
	}
	return out
}

// String renders a summary line
func (s YearSummary) String() string {
	return fmt.Sprintf("%.1f%% (%d/%d) community forests have at least one DHS-%d cluster",
		s.Percent, s.WithClusters, s.Total, s.Year)
}

// ColumnName builds a DBF-safe column name such as n00rC20k: prefix, two
// digit year, class letter (a for all), C, and the radius in kilometres
func ColumnName(prefix string, year int, class string, radius float64) string {
	cls := "a"
	if class != ClassAll {
		cls = strings.ToLower(class)
	}
	km := strconv.FormatFloat(math.Round(radius/100)/10, 'f', -1, 64)
	return fmt.Sprintf("%s%02d%sC%sk", prefix, year%100, cls, km)
}
