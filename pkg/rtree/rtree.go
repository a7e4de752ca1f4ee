// Package rtree implements a thread-safe R-Tree index over planar point
// features with deterministic, input-ordered query results
package rtree

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dhconnelly/rtreego"
	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/rotisserie/eris"
)

const (
	tolerance   = 1e-6 // metres; half-width of the rectangle stored per point
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// ErrInvalidLocation is returned for points with non-finite coordinates
var ErrInvalidLocation = eris.New("rtree: invalid location")

// spatialPoint wraps a point to implement rtreego.Spatial interface
type spatialPoint struct {
	*models.PointFeature
	ordinal int
	rect    rtreego.Rect
}

func (sp *spatialPoint) Bounds() rtreego.Rect {
	return sp.rect
}

// GeoIndex represents a thread-safe R-Tree based point index
type GeoIndex struct {
	tree      *rtreego.Rtree
	items     []*spatialPoint // insertion order
	mu        sync.RWMutex
	itemCount atomic.Int64
}

// NewGeoIndex creates a new empty index
func NewGeoIndex() *GeoIndex {
	return &GeoIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren),
	}
}

// IndexPoints appends points to the index. Nil points are skipped.
// Query results are ordered by insertion order, so the index remembers
// the position of every point.
func (g *GeoIndex) IndexPoints(points []*models.PointFeature) error {
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if p == nil {
			continue
		}
		if !finite(p.Location) {
			return eris.Wrapf(ErrInvalidLocation, "rtree: point %q at (%v, %v)", p.ID, p.Location.X, p.Location.Y)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, p := range points {
		if p == nil {
			continue
		}
		sp := &spatialPoint{
			PointFeature: p,
			ordinal:      len(g.items),
			rect:         rtreego.Point{p.Location.X, p.Location.Y}.ToRect(tolerance),
		}
		g.tree.Insert(sp)
		g.items = append(g.items, sp)
	}
	g.itemCount.Store(int64(len(g.items)))
	return nil
}

func finite(l models.Location) bool {
	return !math.IsNaN(l.X) && !math.IsInf(l.X, 0) && !math.IsNaN(l.Y) && !math.IsInf(l.Y, 0)
}

// search returns the items whose stored rectangles intersect box,
// sorted by insertion order. Callers hold the read lock.
func (g *GeoIndex) search(box models.BoundingBox) []*spatialPoint {
	if g.tree.Size() == 0 {
		return nil
	}
	rect, err := rtreego.NewRectFromPoints(
		rtreego.Point{box.Min.X, box.Min.Y},
		rtreego.Point{box.Max.X, box.Max.Y},
	)
	if err != nil {
		return nil
	}
	results := g.tree.SearchIntersect(rect)
	items := make([]*spatialPoint, 0, len(results))
	for _, r := range results {
		if sp, ok := r.(*spatialPoint); ok {
			items = append(items, sp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ordinal < items[j].ordinal })
	return items
}

// QueryBox returns all points inside or on the given box in insertion order
func (g *GeoIndex) QueryBox(box models.BoundingBox) ([]*models.PointFeature, error) {
	if box.Min.X > box.Max.X || box.Min.Y > box.Max.Y {
		return nil, eris.Errorf("rtree: inverted box %+v", box)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	points := make([]*models.PointFeature, 0)
	for _, item := range g.search(box) {
		if box.Contains(item.Location) {
			points = append(points, item.PointFeature)
		}
	}
	return points, nil
}

// QueryRegion returns the points strictly contained in r, in insertion order
func (g *GeoIndex) QueryRegion(r geo.Region) []*models.PointFeature {
	g.mu.RLock()
	defer g.mu.RUnlock()

	points := make([]*models.PointFeature, 0)
	for _, item := range g.search(r.Bounds()) {
		if r.Contains(item.Location) {
			points = append(points, item.PointFeature)
		}
	}
	return points
}

// CountRegion returns the number of points strictly contained in r
func (g *GeoIndex) CountRegion(r geo.Region) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, item := range g.search(r.Bounds()) {
		if r.Contains(item.Location) {
			n++
		}
	}
	return n
}

// QueryRadius returns all points within radius metres of center, in insertion order
func (g *GeoIndex) QueryRadius(center models.Location, radius float64) ([]*models.PointFeature, error) {
	if math.IsNaN(radius) || radius < 0 {
		return nil, eris.Errorf("rtree: invalid radius %v", radius)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	box := models.BoundingBox{Min: center, Max: center}.Expand(radius)
	points := make([]*models.PointFeature, 0)
	for _, item := range g.search(box) {
		if Distance(center, item.Location) <= radius {
			points = append(points, item.PointFeature)
		}
	}
	return points, nil
}

// Nearest returns the point closest to l and its distance. Among points at
// the same distance the earliest inserted wins. ok is false on an empty index.
func (g *GeoIndex) Nearest(l models.Location) (nearest *models.PointFeature, dist float64, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.tree.Size() == 0 {
		return nil, math.Inf(1), false
	}

	seed, _ := g.tree.NearestNeighbor(rtreego.Point{l.X, l.Y}).(*spatialPoint)
	if seed == nil {
		return nil, math.Inf(1), false
	}

	// The seed distance bounds the true minimum; collect every point within it
	// so equal distances resolve by insertion order.
	bound := Distance(l, seed.Location)
	box := models.BoundingBox{Min: l, Max: l}.Expand(bound + 2*tolerance)
	best := seed
	dist = bound
	for _, item := range g.search(box) {
		d := Distance(l, item.Location)
		if d < dist || (d == dist && item.ordinal < best.ordinal) {
			best, dist = item, d
		}
	}
	return best.PointFeature, dist, true
}

// NearestNeighbors returns up to n points ordered by distance from center,
// ties broken by insertion order
func (g *GeoIndex) NearestNeighbors(center models.Location, n int) []*models.PointFeature {
	if n <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type nearestResult struct {
		item     *spatialPoint
		distance float64
	}

	// Take the n nearest by rectangle distance, then rescan within the
	// largest exact distance among them
	results := g.tree.NearestNeighbors(n, rtreego.Point{center.X, center.Y})
	if len(results) == 0 {
		return nil
	}
	bound := 0.0
	for _, r := range results {
		if sp, ok := r.(*spatialPoint); ok && sp != nil {
			if d := Distance(center, sp.Location); d > bound {
				bound = d
			}
		}
	}

	candidates := g.search(models.BoundingBox{Min: center, Max: center}.Expand(bound + 2*tolerance))
	all := make([]nearestResult, 0, len(candidates))
	for _, item := range candidates {
		all = append(all, nearestResult{item: item, distance: Distance(center, item.Location)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].distance < all[j].distance })

	if len(all) > n {
		all = all[:n]
	}
	points := make([]*models.PointFeature, len(all))
	for i, r := range all {
		points[i] = r.item.PointFeature
	}
	return points
}

// Points returns every indexed point in insertion order
func (g *GeoIndex) Points() []*models.PointFeature {
	g.mu.RLock()
	defer g.mu.RUnlock()

	points := make([]*models.PointFeature, len(g.items))
	for i, item := range g.items {
		points[i] = item.PointFeature
	}
	return points
}

// Count returns the number of indexed points
func (g *GeoIndex) Count() int64 {
	return g.itemCount.Load()
}

// Clear removes all points from the index
func (g *GeoIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	g.items = nil
	g.itemCount.Store(0)
}

// Distance returns the planar Euclidean distance between two locations
func Distance(a, b models.Location) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
