package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kass/cf-poverty/pkg/coverage"
	"github.com/kass/cf-poverty/pkg/dataset"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/mpi"
	"github.com/kass/cf-poverty/pkg/postgis"
	"github.com/kass/cf-poverty/pkg/report"
	"github.com/kass/cf-poverty/pkg/rtree"
	"github.com/kass/cf-poverty/pkg/sjoin"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func outputPath(name string) (string, error) {
	if err := os.MkdirAll(cfg.Paths.Output, 0o755); err != nil {
		return "", eris.Wrapf(err, "create output directory %s", cfg.Paths.Output)
	}
	return filepath.Join(cfg.Paths.Output, name), nil
}

// loadForests reads the forest layer, fails on invalid geometries and drops
// repeated boundaries
func loadForests() (*dataset.PolygonLayer, error) {
	layer, err := dataset.ReadPolygons(cfg.Paths.Forests, models.ColForestID)
	if err != nil {
		return nil, err
	}
	if invalid := dataset.ValidatePolygons(layer.Features); len(invalid) > 0 {
		for _, f := range invalid {
			zap.L().Error("invalid forest geometry", zap.String("id", f.ID), zap.Error(f.Err))
		}
		return nil, eris.Errorf("%d invalid forest geometries in %s, run check for details", len(invalid), cfg.Paths.Forests)
	}

	dups, err := dataset.DuplicatePolygons(layer.Features, cfg.Coverage.DuplicateDecimal)
	if err != nil {
		return nil, err
	}
	if len(dups) > 0 {
		zap.L().Warn("dropping duplicate forests", zap.Strings("ids", dups))
		layer.Features = dataset.DropIDs(layer.Features, dups)
	}
	return layer, nil
}

// loadClusters reads and concatenates every cluster layer and drops clusters
// without coordinates
func loadClusters() ([]*models.PointFeature, error) {
	if len(cfg.Paths.Clusters) == 0 {
		return nil, eris.New("paths.clusters is empty")
	}
	layers := make([]*dataset.PointLayer, 0, len(cfg.Paths.Clusters))
	for _, path := range cfg.Paths.Clusters {
		l, err := dataset.ReadPoints(path, models.ColClusterID, models.ColSurveyYear, models.ColUrbanRural)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	all, err := dataset.ConcatLayers(layers...)
	if err != nil {
		return nil, err
	}
	return dataset.DropMissingSource(all.Points), nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	layer, err := dataset.ReadPolygons(cfg.Paths.Forests, models.ColForestID)
	if err != nil {
		return err
	}
	invalid := dataset.ValidatePolygons(layer.Features)
	dups, err := dataset.DuplicatePolygons(layer.Features, cfg.Coverage.DuplicateDecimal)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d forests in %s\n", len(layer.Features), cfg.Paths.Forests)
	return report.Invalid(cmd.OutOrStdout(), invalid, dups)
}

func runCoverage(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	forests, err := loadForests()
	if err != nil {
		return err
	}
	clusters, err := loadClusters()
	if err != nil {
		return err
	}

	start := time.Now()
	cov, err := coverage.Build(ctx, forests.Features, clusters, coverage.Options{
		Years:   cfg.Coverage.Years,
		Class:   cfg.Coverage.Class,
		Radius:  cfg.Coverage.Radius,
		Workers: cfg.Workers,
	})
	if err != nil {
		return err
	}
	zap.L().Info("coverage built", zap.Duration("elapsed", time.Since(start)))

	var rows []dataset.CountRow
	for _, year := range cov.Years {
		for i, id := range cov.ForestIDs {
			rows = append(rows, dataset.CountRow{ForestID: id, Year: year, Count: cov.Counts[year][i], Has: cov.Has[year][i]})
		}
	}
	path, err := outputPath("cf_dhs_counts.csv")
	if err != nil {
		return err
	}
	if err := dataset.WriteCSV(path, rows); err != nil {
		return err
	}

	var combos []coverage.Combination
	for k := 2; k <= len(cov.Years); k++ {
		c, err := cov.ExactCombinations(k)
		if err != nil {
			return err
		}
		combos = append(combos, c...)
	}
	comboRows := make([]dataset.CombinationRow, len(combos))
	for i, c := range combos {
		comboRows[i] = dataset.CombinationRow{Years: c.Label(), Forests: c.Forests}
	}
	if path, err = outputPath("year_combinations.csv"); err != nil {
		return err
	}
	if err := dataset.WriteCSV(path, comboRows); err != nil {
		return err
	}

	areas, err := coverage.AreasHectares(forests.Features)
	if err != nil {
		return err
	}
	stats, err := coverage.AreaStats(areas, cov.HasAny())
	if err != nil {
		return err
	}
	var areaRows []dataset.AreaRow
	for _, has := range []bool{true, false} {
		if d, ok := stats[has]; ok {
			areaRows = append(areaRows, dataset.AreaRow{
				HasCluster: has, Count: d.Count, Mean: d.Mean, Std: d.Std,
				Min: d.Min, Q25: d.Q25, Median: d.Median, Q75: d.Q75, Max: d.Max,
			})
		}
	}
	if path, err = outputPath("area_stats.csv"); err != nil {
		return err
	}
	if err := dataset.WriteCSV(path, areaRows); err != nil {
		return err
	}

	if err := writeCoverageLayer(forests, cov); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := report.Coverage(out, cov); err != nil {
		return err
	}
	if err := report.Combinations(out, combos); err != nil {
		return err
	}
	return report.Areas(out, stats)
}

// writeCoverageLayer writes the forest layer with one count and one flag
// column per survey year
func writeCoverageLayer(forests *dataset.PolygonLayer, cov *coverage.Coverage) error {
	specs := textFields(forests.Fields)
	for _, year := range cov.Years {
		specs = append(specs,
			dataset.FieldSpec{Name: coverage.ColumnName("n", year, cov.Class, cov.Radius), Kind: dataset.Integer},
			dataset.FieldSpec{Name: coverage.ColumnName("has", year, cov.Class, cov.Radius), Kind: dataset.Integer, Size: 1},
		)
	}

	features := make([]*models.PolygonFeature, len(forests.Features))
	for i, f := range forests.Features {
		attrs := make(map[string]string, len(f.Attrs)+2*len(cov.Years))
		for k, v := range f.Attrs {
			attrs[k] = v
		}
		for _, year := range cov.Years {
			attrs[coverage.ColumnName("n", year, cov.Class, cov.Radius)] = strconv.Itoa(cov.Counts[year][i])
			has := "0"
			if cov.Has[year][i] {
				has = "1"
			}
			attrs[coverage.ColumnName("has", year, cov.Class, cov.Radius)] = has
		}
		features[i] = &models.PolygonFeature{ID: f.ID, Geometry: f.Geometry, Attrs: attrs}
	}

	path, err := outputPath("cf_dhs.shp")
	if err != nil {
		return err
	}
	if err := dataset.WritePolygons(path, features, specs); err != nil {
		return err
	}
	if err := copyProjection(forests.Path, path); err != nil {
		return err
	}
	if path, err = outputPath("cf_dhs.geojson"); err != nil {
		return err
	}
	return dataset.WriteGeoJSON(path, features, specs)
}

func textFields(names []string) []dataset.FieldSpec {
	specs := make([]dataset.FieldSpec, len(names))
	for i, name := range names {
		specs[i] = dataset.FieldSpec{Name: name, Kind: dataset.Text}
	}
	return specs
}

func copyProjection(from, to string) error {
	prj, err := dataset.ReadProjection(from)
	if err != nil {
		return err
	}
	return dataset.WriteProjection(to, prj)
}

func runNearest(cmd *cobra.Command, _ []string) error {
	forests, err := loadForests()
	if err != nil {
		return err
	}
	clusters, err := loadClusters()
	if err != nil {
		return err
	}
	refs, err := sjoin.Centroids(forests.Features)
	if err != nil {
		return err
	}

	var rows []dataset.NearestRow
	for _, year := range cfg.Coverage.Years {
		candidates := models.Filter(clusters, coverage.YearFilter(year, cfg.Coverage.Class))
		results, err := sjoin.NearestPoints(refs, candidates)
		if err != nil {
			return err
		}
		for _, r := range results {
			rows = append(rows, dataset.NearestRow{ForestID: r.RefID, Year: year, ClusterID: r.NearestID, Distance: r.Distance})
		}
		if err := report.Nearest(cmd.OutOrStdout(), results, limit); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "DHS-%d: %d candidate clusters\n", year, len(candidates))
	}

	path, err := outputPath("cf_nearest_cluster.csv")
	if err != nil {
		return err
	}
	return dataset.WriteCSV(path, rows)
}

func loadScheme() (mpi.Scheme, error) {
	if cfg.MPI.Scheme != "" {
		return mpi.LoadScheme(cfg.MPI.Scheme)
	}
	s := mpi.DefaultScheme()
	s.Cutoff = cfg.MPI.Cutoff
	return s, s.Validate()
}

func unitKey(name string) mpi.UnitKey {
	switch name {
	case "region":
		return mpi.ByRegion
	case "national":
		return mpi.National
	default:
		return mpi.ByCluster
	}
}

func runMPI(cmd *cobra.Command, _ []string) error {
	scheme, err := loadScheme()
	if err != nil {
		return err
	}
	people, err := dataset.ReadMicrodata(cfg.Paths.Microdata, scheme.Names())
	if err != nil {
		return err
	}

	estimates, err := mpi.EstimateUnits(cmd.Context(), people, scheme, unitKey(cfg.MPI.Unit), mpi.EstimateOptions{
		Confidence:  cfg.MPI.Confidence,
		Workers:     cfg.Workers,
		ExpectUnits: expectUnits,
	})
	if err != nil {
		return err
	}

	path, err := outputPath("mpi_" + cfg.MPI.Unit + ".csv")
	if err != nil {
		return err
	}
	if err := dataset.WriteCSV(path, dataset.EstimateRows(estimates)); err != nil {
		return err
	}
	return report.Estimates(cmd.OutOrStdout(), estimates, limit)
}

func runJoin(cmd *cobra.Command, args []string) error {
	layer, err := dataset.ReadPoints(args[0], models.ColClusterID, clusterKey)
	if err != nil {
		return err
	}

	src := estimatesFile
	if src == "" {
		src = filepath.Join(cfg.Paths.Output, "mpi_cluster.csv")
	}
	rows, err := dataset.ReadCSV[dataset.EstimateRow](src)
	if err != nil {
		return err
	}

	joined, err := dataset.JoinEstimates(layer.Points, clusterKey, rows, expectUnits)
	if err != nil {
		return err
	}

	path, err := outputPath(filepath.Base(args[0][:len(args[0])-len(filepath.Ext(args[0]))]) + "_mpi.shp")
	if err != nil {
		return err
	}
	if err := dataset.WritePoints(path, joined, append(textFields(layer.Fields), dataset.EstimateFields()...)); err != nil {
		return err
	}
	if err := copyProjection(args[0], path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "joined %d clusters into %s\n", len(joined), path)
	return nil
}

func runIndex(cmd *cobra.Command, _ []string) error {
	clusters, err := loadClusters()
	if err != nil {
		return err
	}

	start := time.Now()
	index := rtree.NewGeoIndex()
	if err := index.IndexPoints(clusters); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Index), 0o755); err != nil {
		return eris.Wrapf(err, "create directory for %s", cfg.Paths.Index)
	}
	if err := index.SaveToFile(cfg.Paths.Index); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d clusters in %v, saved to %s\n", index.Count(), time.Since(start), cfg.Paths.Index)
	return nil
}

func runPostGIS(cmd *cobra.Command, _ []string) error {
	if cfg.PostGIS.DSN == "" {
		return eris.New("postgis.dsn is not set (CFPOV_POSTGIS_DSN)")
	}
	ctx := cmd.Context()
	forests, err := loadForests()
	if err != nil {
		return err
	}
	clusters, err := loadClusters()
	if err != nil {
		return err
	}

	store, err := postgis.Open(ctx, cfg.PostGIS.DSN, srid)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return err
	}
	if err := store.InsertForests(ctx, forests.Features); err != nil {
		return err
	}
	if err := store.InsertClusters(ctx, clusters); err != nil {
		return err
	}
	if err := store.CreateSpatialIndexes(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mismatches := 0
	for _, year := range cfg.Coverage.Years {
		want, err := sjoin.CountPointsInPolygons(ctx, clusters, forests.Features, sjoin.Options{
			Radius:  cfg.Coverage.Radius,
			Filter:  coverage.YearFilter(year, cfg.Coverage.Class),
			Workers: cfg.Workers,
		})
		if err != nil {
			return err
		}
		got, err := store.CountWithin(ctx, cfg.Coverage.Radius, strconv.Itoa(year), cfg.Coverage.Class)
		if err != nil {
			return err
		}
		for _, id := range want.IDs() {
			if want[id] != got[id] {
				mismatches++
				zap.L().Warn("count differs", zap.Int("year", year), zap.String("forest", id),
					zap.Int("memory", want[id]), zap.Int("postgis", got[id]))
			}
		}
		fmt.Fprintf(out, "DHS-%d: %d clusters near forests in memory, %d in PostGIS\n", year, want.Total(), got.Total())
	}

	refs, err := sjoin.Centroids(forests.Features)
	if err != nil {
		return err
	}
	wantNear, err := sjoin.NearestPoints(refs, clusters)
	if err != nil {
		return err
	}
	gotNear, err := store.Nearest(ctx)
	if err != nil {
		return err
	}
	if len(gotNear) != len(wantNear) {
		return eris.Errorf("PostGIS returned %d nearest rows for %d forests", len(gotNear), len(wantNear))
	}
	for i, w := range wantNear {
		g := gotNear[i]
		if w.RefID != g.RefID || w.Found != g.Found || (w.Found && math.Abs(w.Distance-g.Distance) > 1e-6) {
			mismatches++
			zap.L().Warn("nearest cluster differs", zap.String("forest", w.RefID),
				zap.String("memory", w.NearestID), zap.Float64("memory_m", w.Distance),
				zap.String("postgis", g.NearestID), zap.Float64("postgis_m", g.Distance))
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "PostGIS tables: %v\n", stats)
	if mismatches > 0 {
		return eris.Errorf("%d results differ between memory and PostGIS", mismatches)
	}
	fmt.Fprintln(out, "counts and nearest clusters match")
	return nil
}
