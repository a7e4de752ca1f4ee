package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kass/cf-poverty/pkg/config"
	"github.com/kass/cf-poverty/pkg/geo"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/rtree"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

type BenchmarkResult struct {
	QueryType     string
	TotalQueries  int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	QueriesPerSec float64
	MinDuration   time.Duration
	MaxDuration   time.Duration
	TotalResults  int64
	AvgResults    float64
}

// query runs one random query and returns the number of results
type query func(r *rand.Rand) int

func main() {
	var (
		indexFile  = flag.String("i", "out/clusters.gob", "Index snapshot path")
		queryType  = flag.String("t", "count", "Query type: box, radius, nearest, count, mixed")
		numQueries = flag.Int("n", 1000, "Number of queries to run")
		workers    = flag.Int("w", runtime.NumCPU(), "Number of concurrent workers")
		boxSize    = flag.Float64("box-size", 10000, "Box side in metres (box queries)")
		radius     = flag.Float64("radius", 20000, "Radius in metres (radius and count queries)")
		forestSide = flag.Float64("forest-size", 2000, "Side of the square forest in metres (count queries)")
		k          = flag.Int("k", 10, "Number of nearest neighbors")
	)
	flag.Parse()

	if err := config.InitLogger(config.LogConfig{Level: "info", Format: "console"}); err != nil {
		panic(err)
	}
	log := zap.L()

	log.Info("loading index", zap.String("path", *indexFile))
	index := rtree.NewGeoIndex()
	if err := index.LoadFromFile(*indexFile); err != nil {
		log.Fatal("failed to load index", zap.Error(err))
	}
	if index.Count() == 0 {
		log.Fatal("index is empty")
	}
	bounds := extent(index.Points())
	log.Info("index loaded", zap.Int64("points", index.Count()),
		zap.Float64("min_x", bounds.Min.X), zap.Float64("min_y", bounds.Min.Y),
		zap.Float64("max_x", bounds.Max.X), zap.Float64("max_y", bounds.Max.Y))

	randomLocation := func(r *rand.Rand) models.Location {
		return models.Location{
			X: bounds.Min.X + r.Float64()*(bounds.Max.X-bounds.Min.X),
			Y: bounds.Min.Y + r.Float64()*(bounds.Max.Y-bounds.Min.Y),
		}
	}

	queries := map[string]query{
		"box": func(r *rand.Rand) int {
			c := randomLocation(r)
			box := models.BoundingBox{Min: c, Max: models.Location{X: c.X + *boxSize, Y: c.Y + *boxSize}}
			results, err := index.QueryBox(box)
			if err != nil {
				return 0
			}
			return len(results)
		},
		"radius": func(r *rand.Rand) int {
			results, err := index.QueryRadius(randomLocation(r), *radius)
			if err != nil {
				return 0
			}
			return len(results)
		},
		"nearest": func(r *rand.Rand) int {
			return len(index.NearestNeighbors(randomLocation(r), *k))
		},
		"count": func(r *rand.Rand) int {
			region, err := bufferedSquare(randomLocation(r), *forestSide, *radius)
			if err != nil {
				return 0
			}
			return index.CountRegion(region)
		},
	}

	log.Info("running benchmark", zap.Int("queries", *numQueries), zap.String("type", *queryType), zap.Int("workers", *workers))

	var result BenchmarkResult
	switch *queryType {
	case "mixed":
		var parts []BenchmarkResult
		for _, name := range []string{"box", "radius", "nearest", "count"} {
			parts = append(parts, benchmark(name, *numQueries/4, *workers, queries[name]))
		}
		result = combine("mixed", parts...)
	default:
		q, ok := queries[*queryType]
		if !ok {
			log.Fatal("unknown query type", zap.String("type", *queryType))
		}
		result = benchmark(*queryType, *numQueries, *workers, q)
	}

	fmt.Println("\n=== Benchmark Results ===")
	fmt.Printf("Query Type: %s\n", result.QueryType)
	fmt.Printf("Total Queries: %d\n", result.TotalQueries)
	fmt.Printf("Total Duration: %v\n", result.TotalDuration)
	fmt.Printf("Average Duration: %v\n", result.AvgDuration)
	fmt.Printf("Queries/Second: %.2f\n", result.QueriesPerSec)
	fmt.Printf("Min Duration: %v\n", result.MinDuration)
	fmt.Printf("Max Duration: %v\n", result.MaxDuration)
	fmt.Printf("Total Results: %d\n", result.TotalResults)
	fmt.Printf("Avg Results/Query: %.2f\n", result.AvgResults)
	fmt.Printf("Workers Used: %d\n", *workers)
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
}

func extent(points []*models.PointFeature) models.BoundingBox {
	b := models.BoundingBox{
		Min: models.Location{X: math.Inf(1), Y: math.Inf(1)},
		Max: models.Location{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for _, p := range points {
		b.Min.X = math.Min(b.Min.X, p.Location.X)
		b.Min.Y = math.Min(b.Min.Y, p.Location.Y)
		b.Max.X = math.Max(b.Max.X, p.Location.X)
		b.Max.Y = math.Max(b.Max.Y, p.Location.Y)
	}
	return b
}

// bufferedSquare is a synthetic forest of the given side buffered by radius
func bufferedSquare(c models.Location, side, radius float64) (geo.Region, error) {
	ring := []float64{c.X, c.Y, c.X + side, c.Y, c.X + side, c.Y + side, c.X, c.Y + side, c.X, c.Y}
	mp := geom.NewMultiPolygon(geom.XY)
	if err := mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})); err != nil {
		return nil, err
	}
	poly, err := geo.NewPolygon(mp)
	if err != nil {
		return nil, err
	}
	return poly.Buffer(radius)
}

func benchmark(name string, numQueries, workers int, q query) BenchmarkResult {
	var (
		totalResults int64
		minDuration  = time.Hour
		maxDuration  time.Duration
		totalDur     time.Duration
		mu           sync.Mutex
	)

	startTime := time.Now()

	queryCh := make(chan int, numQueries)
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))

			for range queryCh {
				queryStart := time.Now()
				n := q(r)
				queryDuration := time.Since(queryStart)

				atomic.AddInt64(&totalResults, int64(n))

				mu.Lock()
				totalDur += queryDuration
				if queryDuration < minDuration {
					minDuration = queryDuration
				}
				if queryDuration > maxDuration {
					maxDuration = queryDuration
				}
				mu.Unlock()
			}
		}(time.Now().UnixNano() + int64(w))
	}

	for i := 0; i < numQueries; i++ {
		queryCh <- i
	}
	close(queryCh)

	wg.Wait()
	totalDuration := time.Since(startTime)

	result := BenchmarkResult{
		QueryType:     name,
		TotalQueries:  numQueries,
		TotalDuration: totalDuration,
		MinDuration:   minDuration,
		MaxDuration:   maxDuration,
		TotalResults:  totalResults,
	}
	if numQueries > 0 {
		result.AvgDuration = totalDur / time.Duration(numQueries)
		result.QueriesPerSec = float64(numQueries) / totalDuration.Seconds()
		result.AvgResults = float64(totalResults) / float64(numQueries)
	}
	return result
}

func combine(name string, parts ...BenchmarkResult) BenchmarkResult {
	out := BenchmarkResult{QueryType: name, MinDuration: time.Hour}
	for _, p := range parts {
		out.TotalQueries += p.TotalQueries
		out.TotalDuration += p.TotalDuration
		out.TotalResults += p.TotalResults
		out.MinDuration = min(out.MinDuration, p.MinDuration)
		out.MaxDuration = max(out.MaxDuration, p.MaxDuration)
	}
	if out.TotalQueries > 0 {
		out.AvgDuration = out.TotalDuration / time.Duration(out.TotalQueries)
		out.QueriesPerSec = float64(out.TotalQueries) / out.TotalDuration.Seconds()
		out.AvgResults = float64(out.TotalResults) / float64(out.TotalQueries)
	}
	return out
}
