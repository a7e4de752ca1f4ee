package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/kass/cf-poverty/pkg/config"
	"github.com/kass/cf-poverty/pkg/dataset"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/mpi"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

const utm45N = `PROJCS["WGS_1984_UTM_Zone_45N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",87.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

type extent struct {
	minX, maxX, minY, maxY float64
}

func (e extent) random(r *rand.Rand) models.Location {
	return models.Location{
		X: e.minX + r.Float64()*(e.maxX-e.minX),
		Y: e.minY + r.Float64()*(e.maxY-e.minY),
	}
}

func main() {
	var (
		outDir      = flag.String("o", "data", "Output directory")
		numForests  = flag.Int("forests", 2000, "Number of community forests")
		numClusters = flag.Int("clusters", 600, "Clusters per survey year")
		households  = flag.Int("households", 20, "Households per cluster in the microdata")
		members     = flag.Int("members", 5, "Members per household in the microdata")
		workers     = flag.Int("w", runtime.NumCPU(), "Number of worker goroutines")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		// Projected bounds, roughly the Terai and hills in UTM 45N
		minX = flag.Float64("min-x", 300000, "Minimum easting")
		maxX = flag.Float64("max-x", 700000, "Maximum easting")
		minY = flag.Float64("min-y", 2950000, "Minimum northing")
		maxY = flag.Float64("max-y", 3150000, "Maximum northing")
	)
	flag.Parse()

	if err := config.InitLogger(config.LogConfig{Level: "info", Format: "console"}); err != nil {
		panic(err)
	}
	log := zap.L()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatal("failed to create output directory", zap.Error(err))
	}
	bounds := extent{*minX, *maxX, *minY, *maxY}
	r := rand.New(rand.NewSource(*seed))
	log.Info("generating fixtures", zap.Int64("seed", *seed), zap.Int("workers", *workers))

	forests := generateForests(*numForests, bounds, r)
	forestPath := filepath.Join(*outDir, "community_forests.shp")
	err := dataset.WritePolygons(forestPath, forests, []dataset.FieldSpec{
		{Name: models.ColForestID, Kind: dataset.Text, Size: 16},
		{Name: "AREA_HA", Kind: dataset.Float, Precision: 2},
	})
	if err != nil {
		log.Fatal("failed to write forests", zap.Error(err))
	}
	if err := dataset.WriteProjection(forestPath, utm45N); err != nil {
		log.Fatal("failed to write projection", zap.Error(err))
	}

	var last []*models.PointFeature
	for i, year := range []int{2000, 2005, 2010, 2014} {
		clusters := generateClusters(*numClusters, year, bounds, *workers, r.Int63())
		path := filepath.Join(*outDir, fmt.Sprintf("dhs%d.shp", year))
		err := dataset.WritePoints(path, clusters, []dataset.FieldSpec{
			{Name: models.ColClusterID, Kind: dataset.Text, Size: 14},
			{Name: models.ColClusterNo, Kind: dataset.Integer},
			{Name: models.ColSurveyYear, Kind: dataset.Integer, Size: 4},
			{Name: models.ColUrbanRural, Kind: dataset.Text, Size: 1},
			{Name: models.ColSource, Kind: dataset.Text, Size: 3},
		})
		if err != nil {
			log.Fatal("failed to write clusters", zap.Int("year", year), zap.Error(err))
		}
		if err := dataset.WriteProjection(path, utm45N); err != nil {
			log.Fatal("failed to write projection", zap.Error(err))
		}
		log.Info("wrote clusters", zap.Int("round", i+1), zap.String("path", path))
		last = clusters
	}

	microPath := filepath.Join(*outDir, "microdata.csv")
	n, err := writeMicrodata(microPath, last, *households, *members, mpi.DefaultScheme(), r)
	if err != nil {
		log.Fatal("failed to write microdata", zap.Error(err))
	}
	log.Info("wrote microdata", zap.String("path", microPath), zap.Int("individuals", n))
}

func generateForests(n int, bounds extent, r *rand.Rand) []*models.PolygonFeature {
	forests := make([]*models.PolygonFeature, n)
	for i := range forests {
		c := bounds.random(r)
		side := 200 + r.Float64()*1800
		ring := []float64{c.X, c.Y, c.X + side, c.Y, c.X + side, c.Y + side, c.X, c.Y + side, c.X, c.Y}
		mp := geom.NewMultiPolygon(geom.XY)
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, ring, []int{len(ring)})); err != nil {
			panic(err)
		}
		id := fmt.Sprintf("CF%05d", i+1)
		forests[i] = &models.PolygonFeature{
			ID:       id,
			Geometry: mp,
			Attrs: map[string]string{
				models.ColForestID: id,
				"AREA_HA":          strconv.FormatFloat(side*side/10000, 'f', 2, 64),
			},
		}
	}
	return forests
}

// generateClusters fills n clusters for one survey year using workers
// goroutines, each with its own random source
func generateClusters(n, year int, bounds extent, workers int, seed int64) []*models.PointFeature {
	points := make([]*models.PointFeature, n)
	if workers < 1 {
		workers = 1
	}

	type workRange struct {
		start, end int
	}
	work := make(chan workRange, workers)
	done := make(chan bool, workers)

	for w := 0; w < workers; w++ {
		go func(workerID int) {
			r := rand.New(rand.NewSource(seed + int64(workerID)))

			for wr := range work {
				for i := wr.start; i < wr.end; i++ {
					class := models.Rural
					if r.Float64() < 0.25 {
						class = models.Urban
					}
					source := "GPS"
					if r.Float64() < 0.02 {
						source = models.SourceMissing
					}
					id := fmt.Sprintf("NP%04d%08d", year, i+1)
					points[i] = &models.PointFeature{
						ID:       id,
						Location: bounds.random(r),
						Attrs: map[string]string{
							models.ColClusterID:  id,
							models.ColClusterNo:  strconv.Itoa(i + 1),
							models.ColSurveyYear: strconv.Itoa(year),
							models.ColUrbanRural: class,
							models.ColSource:     source,
						},
					}
				}
			}
			done <- true
		}(w)
	}

	perWorker := n / workers
	remainder := n % workers
	start := 0
	for w := 0; w < workers; w++ {
		size := perWorker
		if w < remainder {
			size++
		}
		work <- workRange{start: start, end: start + size}
		start += size
	}
	close(work)

	for w := 0; w < workers; w++ {
		<-done
	}
	return points
}

// writeMicrodata writes individuals for every cluster. Each cluster gets its
// own deprivation rate; about 2% of cells are missing.
func writeMicrodata(path string, clusters []*models.PointFeature, households, members int, s mpi.Scheme, r *rand.Rand) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{dataset.ColIndividual, dataset.ColHousehold, dataset.ColPSU, dataset.ColRegion, dataset.ColSample}, s.Names()...)
	if err := w.Write(header); err != nil {
		return 0, err
	}

	n := 0
	row := make([]string, len(header))
	for _, c := range clusters {
		clust := c.Attr(models.ColClusterNo)
		rate := 0.1 + 0.5*r.Float64()
		region := strconv.Itoa(1 + r.Intn(7))
		for h := 1; h <= households; h++ {
			hh := fmt.Sprintf("%s-%02d", clust, h)
			for m := 1; m <= members; m++ {
				n++
				row[0], row[1], row[2], row[3] = strconv.Itoa(n), hh, clust, region
				row[4] = "1"
				if r.Float64() < 0.03 {
					row[4] = "0"
				}
				for i := range s.Indicators {
					switch v := r.Float64(); {
					case v < 0.02:
						row[5+i] = "NA"
					case v < 0.02+rate*0.98:
						row[5+i] = "1"
					default:
						row[5+i] = "0"
					}
				}
				if err := w.Write(row); err != nil {
					return 0, err
				}
			}
		}
	}
	w.Flush()
	return n, w.Error()
}
