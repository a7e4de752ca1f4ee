package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/kass/cf-poverty/pkg/config"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/rtree"
	"go.uber.org/zap"
)

func main() {
	var (
		indexFile = flag.String("i", "out/clusters.gob", "Index snapshot path")
		queryType = flag.String("t", "nearest", "Query type: box, radius, nearest")
		// Box query parameters
		minX = flag.Float64("min-x", 0, "Minimum easting (box query)")
		minY = flag.Float64("min-y", 0, "Minimum northing (box query)")
		maxX = flag.Float64("max-x", 0, "Maximum easting (box query)")
		maxY = flag.Float64("max-y", 0, "Maximum northing (box query)")
		// Radius and nearest query parameters
		x      = flag.Float64("x", 0, "Center easting (radius/nearest query)")
		y      = flag.Float64("y", 0, "Center northing (radius/nearest query)")
		radius = flag.Float64("radius", 20000, "Radius in metres (radius query)")
		k      = flag.Int("k", 10, "Number of nearest neighbors (nearest query)")
		// Restrict to one survey round and class
		year  = flag.String("year", "", "Only clusters of this DHS year")
		class = flag.String("class", "", "Only clusters of this urban/rural class (U or R)")
		// Output format
		outputJSON = flag.Bool("json", false, "Output results as JSON")
		limit      = flag.Int("limit", 100, "Maximum number of results to display")
	)
	flag.Parse()

	if err := config.InitLogger(config.LogConfig{Level: "info", Format: "console"}); err != nil {
		panic(err)
	}
	log := zap.L()

	index := rtree.NewGeoIndex()
	if err := index.LoadFromFile(*indexFile); err != nil {
		log.Fatal("failed to load index", zap.String("path", *indexFile), zap.Error(err))
	}
	log.Info("index loaded", zap.Int64("points", index.Count()))

	center := models.Location{X: *x, Y: *y}
	var results []*models.PointFeature
	var err error

	switch *queryType {
	case "box":
		if *minX == 0 && *maxX == 0 && *minY == 0 && *maxY == 0 {
			log.Fatal("box query requires --min-x, --min-y, --max-x, --max-y")
		}
		box := models.BoundingBox{
			Min: models.Location{X: *minX, Y: *minY},
			Max: models.Location{X: *maxX, Y: *maxY},
		}
		results, err = index.QueryBox(box)
		if err != nil {
			log.Fatal("box query failed", zap.Error(err))
		}

	case "radius":
		results, err = index.QueryRadius(center, *radius)
		if err != nil {
			log.Fatal("radius query failed", zap.Error(err))
		}

	case "nearest":
		// over-fetch when filtering so k matches remain
		n := *k
		if *year != "" || *class != "" {
			n = int(index.Count())
		}
		results = index.NearestNeighbors(center, n)

	default:
		log.Fatal("unknown query type", zap.String("type", *queryType))
	}

	var preds []models.PointPredicate
	if *year != "" {
		preds = append(preds, models.AttrEquals(models.ColSurveyYear, *year))
	}
	if *class != "" {
		preds = append(preds, models.AttrEquals(models.ColUrbanRural, *class))
	}
	results = models.Filter(results, models.All(preds...))
	if *queryType == "nearest" && len(results) > *k {
		results = results[:*k]
	}
	log.Info("query done", zap.String("type", *queryType), zap.Int("results", len(results)))

	if len(results) > *limit {
		log.Info("truncating output, use --limit to see more", zap.Int("limit", *limit))
		results = results[:*limit]
	}

	if *outputJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			log.Fatal("failed to encode results", zap.Error(err))
		}
		return
	}
	for i, p := range results {
		if *queryType == "radius" || *queryType == "nearest" {
			fmt.Printf("%d. %s: (%.1f, %.1f) %s %s - %.1f m\n",
				i+1, p.ID, p.Location.X, p.Location.Y, p.Attr(models.ColSurveyYear), p.Attr(models.ColUrbanRural),
				rtree.Distance(center, p.Location))
		} else {
			fmt.Printf("%d. %s: (%.1f, %.1f) %s %s\n",
				i+1, p.ID, p.Location.X, p.Location.Y, p.Attr(models.ColSurveyYear), p.Attr(models.ColUrbanRural))
		}
	}
}
