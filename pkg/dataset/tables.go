package dataset

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/kass/cf-poverty/pkg/models"
	"github.com/kass/cf-poverty/pkg/mpi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Microdata column names
const (
	ColIndividual = "ind_id"
	ColHousehold  = "hh_id"
	ColPSU        = "psu"
	ColRegion     = "region"
	ColSample     = "sample"
)

// CountRow is the number of clusters near one forest in one survey year
type CountRow struct {
	ForestID string `csv:"UniqueID"`
	Year     int    `csv:"DHSYEAR"`
	Count    int    `csv:"n_clust"`
	Has      bool   `csv:"has_clust"`
}

// NearestRow is the closest cluster of one survey year to a forest centroid.
// ClusterID is empty when the year has no clusters.
type NearestRow struct {
	ForestID  string  `csv:"UniqueID"`
	Year      int     `csv:"DHSYEAR"`
	ClusterID string  `csv:"DHSID"`
	Distance  float64 `csv:"dist2closestCluster_m"`
}

// CombinationRow counts forests covered in exactly the listed years
type CombinationRow struct {
	Years   string `csv:"years"`
	Forests int    `csv:"n_cf"`
}

// AreaRow describes forest areas (ha) for one has-cluster group
type AreaRow struct {
	HasCluster bool    `csv:"has_clust"`
	Count      int     `csv:"count"`
	Mean       float64 `csv:"mean"`
	Std        float64 `csv:"std"`
	Min        float64 `csv:"min"`
	Q25        float64 `csv:"25%"`
	Median     float64 `csv:"50%"`
	Q75        float64 `csv:"75%"`
	Max        float64 `csv:"max"`
}

// EstimateRow is one spatial unit of an MPI table
type EstimateRow struct {
	ClusterNo      string  `csv:"clust_no"`
	Region         string  `csv:"region"`
	MPI            float64 `csv:"mpi"`
	SE             float64 `csv:"mpi_SE"`
	Lower          float64 `csv:"mpi_lo95CI"`
	Upper          float64 `csv:"mpi_up95CI"`
	Headcount      float64 `csv:"H"`
	Intensity      float64 `csv:"A"`
	Households     int     `csv:"n_hh"`
	TotalSampled   int     `csv:"tot_samp_ppl"`
	PercentMissing float64 `csv:"pct_samp_ppl_mis"`
}

// EstimateRows converts estimates to table rows
func EstimateRows(estimates []mpi.Estimate) []EstimateRow {
	rows := make([]EstimateRow, len(estimates))
	for i, e := range estimates {
		rows[i] = EstimateRow{
			ClusterNo:      e.Unit,
			Region:         e.Region,
			MPI:            e.MPI,
			SE:             e.SE,
			Lower:          e.Lower,
			Upper:          e.Upper,
			Headcount:      e.Headcount,
			Intensity:      e.Intensity,
			Households:     e.Households,
			TotalSampled:   e.TotalSampled,
			PercentMissing: e.PercentMissing,
		}
	}
	return rows
}

// WriteCSV writes rows, a slice of tagged structs, to path with a header line
func WriteCSV[T any](path string, rows []T) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "dataset: encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "dataset: write %s", path)
	}
	zap.L().Info("dataset: wrote table", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

// ReadCSV reads a table written by WriteCSV
func ReadCSV[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}
	var rows []T
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrapf(err, "dataset: decode %s", path)
	}
	return rows, nil
}

type microRow struct {
	ID          string `csv:"ind_id"`
	HouseholdID string `csv:"hh_id"`
	PSU         string `csv:"psu"`
	Region      string `csv:"region"`
	Sample      string `csv:"sample"`
}

// missingValue reports whether a microdata cell means "not observed"
func missingValue(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "NA", "NaN", ".":
		return true
	}
	return false
}

// ReadMicrodata reads individual deprivation records. Indicator columns are
// taken in the given order; empty, NA and "." cells are missing. Without a
// sample column everyone is in the sample.
func ReadMicrodata(path string, indicators []string) ([]mpi.Individual, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read %s", path)
	}

	dec, err := csvutil.NewDecoder(csv.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: read header of %s", path)
	}

	cols := make(map[string]int, len(dec.Header()))
	for i, h := range dec.Header() {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range append([]string{ColIndividual, ColHousehold, ColPSU}, indicators...) {
		if _, ok := cols[c]; !ok {
			return nil, eris.Wrapf(ErrMissingColumn, "dataset: %s has no %s column", path, c)
		}
	}
	_, hasSample := cols[ColSample]
	indicatorCols := make([]int, len(indicators))
	for i, name := range indicators {
		indicatorCols[i] = cols[name]
	}

	var people []mpi.Individual
	for line := 2; ; line++ {
		var row microRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "dataset: %s line %d", path, line)
		}
		record := dec.Record()

		p := mpi.Individual{
			ID:           row.ID,
			HouseholdID:  row.HouseholdID,
			ClusterID:    normalizeNumber(strings.TrimSpace(row.PSU)),
			RegionID:     strings.TrimSpace(row.Region),
			Deprivations: make([]float64, len(indicators)),
			InSample:     true,
		}
		if hasSample && !missingValue(row.Sample) {
			v, err := strconv.ParseFloat(strings.TrimSpace(row.Sample), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "dataset: %s line %d sample", path, line)
			}
			p.InSample = v > 0
		} else if hasSample {
			p.InSample = false
		}
		for i, c := range indicatorCols {
			cell := record[c]
			if missingValue(cell) {
				p.Deprivations[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "dataset: %s line %d column %s", path, line, indicators[i])
			}
			p.Deprivations[i] = v
		}
		people = append(people, p)
	}

	zap.L().Info("dataset: read microdata", zap.String("path", path), zap.Int("individuals", len(people)))
	return people, nil
}

// JoinEstimates attaches MPI estimates to cluster points by key. The key
// values must be exactly 1..n (n is the layer size when expected is 0) and
// every point must find an estimate. tot_samp_ppl and pct_samp_ppl_mis are
// renamed tot_ppl and pct_pplmis to fit DBF names.
func JoinEstimates(points []*models.PointFeature, key string, rows []EstimateRow, expected int) ([]*models.PointFeature, error) {
	if expected == 0 {
		expected = len(points)
	}

	keys := make([]int, 0, len(points))
	seen := make(map[int]struct{}, len(points))
	for _, p := range points {
		k, err := strconv.Atoi(normalizeNumber(p.Attr(key)))
		if err != nil {
			return nil, eris.Wrapf(ErrRowMismatch, "dataset: point %q has non-integer %s %q", p.ID, key, p.Attr(key))
		}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	if len(keys) != expected {
		return nil, eris.Wrapf(ErrRowMismatch, "dataset: %d distinct %s values, expected %d", len(keys), key, expected)
	}
	for i, k := range keys {
		if k != i+1 {
			return nil, eris.Wrapf(ErrRowMismatch, "dataset: %s values are not 1..%d (found %d at position %d)", key, expected, k, i+1)
		}
	}

	byKey := make(map[string]EstimateRow, len(rows))
	for _, r := range rows {
		byKey[normalizeNumber(strings.TrimSpace(r.ClusterNo))] = r
	}

	joined := make([]*models.PointFeature, 0, len(points))
	for _, p := range points {
		r, ok := byKey[normalizeNumber(p.Attr(key))]
		if !ok {
			continue
		}
		attrs := make(map[string]string, len(p.Attrs)+7)
		for k, v := range p.Attrs {
			attrs[k] = v
		}
		attrs["mpi"] = formatFloat(r.MPI)
		attrs["mpi_SE"] = formatFloat(r.SE)
		attrs["mpi_lo95CI"] = formatFloat(r.Lower)
		attrs["mpi_up95CI"] = formatFloat(r.Upper)
		attrs["tot_ppl"] = strconv.Itoa(r.TotalSampled)
		attrs["pct_pplmis"] = formatFloat(r.PercentMissing)
		joined = append(joined, &models.PointFeature{ID: p.ID, Location: p.Location, Attrs: attrs})
	}
	if len(joined) != len(points) {
		return nil, eris.Wrapf(ErrRowMismatch, "dataset: %d of %d clusters have estimates", len(joined), len(points))
	}
	return joined, nil
}

// EstimateFields lists the columns JoinEstimates adds
func EstimateFields() []FieldSpec {
	return []FieldSpec{
		{Name: "mpi", Kind: Float, Precision: 6},
		{Name: "mpi_SE", Kind: Float, Precision: 6},
		{Name: "mpi_lo95CI", Kind: Float, Precision: 6},
		{Name: "mpi_up95CI", Kind: Float, Precision: 6},
		{Name: "tot_ppl", Kind: Integer},
		{Name: "pct_pplmis", Kind: Float, Precision: 4},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
