// Package sjoin joins point features to polygon features: strict
// containment counts (optionally within a buffer) and nearest-point lookup.
package sjoin

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/rtree"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrDuplicateID is returned when two polygons share an identifier
var ErrDuplicateID = eris.New("sjoin: duplicate polygon id")

// Options controls CountPointsInPolygons
type Options struct {
	// Radius buffers every polygon by this many metres; 0 uses the polygon itself
	Radius float64
	// Filter pre-selects points, e.g. rural clusters of one survey year
	Filter models.PointPredicate
	// Workers bounds the number of polygons processed concurrently; 0 means NumCPU
	Workers int
}

// Region is a containment region keyed by polygon id
type Region struct {
	ID     string
	Region geo.Region
}

// Counts maps polygon id to the number of contained points
type Counts map[string]int

// Has returns id -> count > 0
func (c Counts) Has() map[string]bool {
	out := make(map[string]bool, len(c))
	for id, n := range c {
		out[id] = n > 0
	}
	return out
}

// Total returns the sum of all counts
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// IDs returns the polygon ids in sorted order
func (c Counts) IDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// BuildRegions validates polygons, rejects duplicate ids and buffers each
// polygon by radius. The order of polygons is kept.
func BuildRegions(polygons []*models.PolygonFeature, radius float64) ([]Region, error) {
	seen := make(map[string]struct{}, len(polygons))
	regions := make([]Region, 0, len(polygons))
	for _, f := range polygons {
		if f == nil {
			continue
		}
		if _, ok := seen[f.ID]; ok {
			return nil, eris.Wrapf(ErrDuplicateID, "sjoin: id %q", f.ID)
		}
		seen[f.ID] = struct{}{}

		p, err := geo.FromFeature(f)
		if err != nil {
			return nil, err
		}
		var r geo.Region = p
		if radius != 0 {
			b, err := p.Buffer(radius)
			if err != nil {
				return nil, eris.Wrapf(err, "sjoin: buffer %q", f.ID)
			}
			r = b
		}
		regions = append(regions, Region{ID: f.ID, Region: r})
	}
	return regions, nil
}

// CountInRegions counts the indexed points strictly contained in every
// region. Every region appears in the result, with zero when empty.
func CountInRegions(ctx context.Context, index *rtree.GeoIndex, regions []Region, workers int) (Counts, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(regions) {
		workers = len(regions)
	}

	counts := make([]int, len(regions))
	batchSize := 0
	if workers > 0 {
		batchSize = (len(regions) + workers - 1) / workers
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * batchSize
		end := start + batchSize
		if end > len(regions) {
			end = len(regions)
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return
				}
				counts[i] = index.CountRegion(regions[i].Region)
			}
		}(start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "sjoin: count cancelled")
	}

	result := make(Counts, len(regions))
	for i, r := range regions {
		result[r.ID] = counts[i]
	}
	return result, nil
}

// CountPointsInPolygons returns, for every polygon id, the number of points
// matching opts.Filter that lie strictly inside the polygon buffered by
// opts.Radius. Points on a region boundary are not counted.
func CountPointsInPolygons(ctx context.Context, points []*models.PointFeature, polygons []*models.PolygonFeature, opts Options) (Counts, error) {
	logger := zap.L().With(zap.String("component", "sjoin"))

	regions, err := BuildRegions(polygons, opts.Radius)
	if err != nil {
		return nil, err
	}

	selected := models.Filter(points, opts.Filter)
	index := rtree.NewGeoIndex()
	if err := index.IndexPoints(selected); err != nil {
		return nil, eris.Wrap(err, "sjoin: index points")
	}

	counts, err := CountInRegions(ctx, index, regions, opts.Workers)
	if err != nil {
		return nil, err
	}

	logger.Debug("counted points in polygons",
		zap.Int("polygons", len(regions)),
		zap.Int("points", len(selected)),
		zap.Float64("radius_m", opts.Radius),
		zap.Int("contained", counts.Total()),
	)
	return counts, nil
}
