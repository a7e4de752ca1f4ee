package mpi

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidence is the two-sided confidence level of reported intervals
const DefaultConfidence = 0.95

// Estimate is the MPI of one spatial unit with its sampling uncertainty
type Estimate struct {
	Unit   string
	Region string

	MPI   float64
	SE    float64
	Lower float64
	Upper float64

	Headcount float64
	Intensity float64

	Households     int
	TotalSampled   int
	PercentMissing float64
}

// UnitKey assigns an individual to a spatial unit
type UnitKey func(p Individual) string

// ByCluster groups individuals by survey cluster
func ByCluster(p Individual) string { return p.ClusterID }

// ByRegion groups individuals by region
func ByRegion(p Individual) string { return p.RegionID }

// National puts every individual in one unit
func National(Individual) string { return "all" }

// EstimateOptions controls EstimateUnits
type EstimateOptions struct {
	Confidence float64
	Workers    int
	// ExpectUnits, when positive, is the number of units the data must contain
	ExpectUnits int
}

// EstimateOne aggregates people, linearises the variance and attaches a
// Student's t interval with m-1 degrees of freedom
func EstimateOne(unit string, people []Individual, s Scheme, confidence float64) (*Estimate, error) {
	if !(confidence > 0 && confidence < 1) {
		return nil, eris.Errorf("mpi: confidence %v outside (0, 1)", confidence)
	}

	res, err := Aggregate(people, s)
	if err != nil {
		return nil, err
	}
	v, err := LinearizedVariance(res.Observations(), res.MPI)
	if err != nil {
		return nil, err
	}

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(v.Households - 1)}
	half := t.Quantile(1-(1-confidence)/2) * v.SE

	est := &Estimate{
		Unit:           unit,
		MPI:            res.MPI,
		SE:             v.SE,
		Lower:          res.MPI - half,
		Upper:          res.MPI + half,
		Headcount:      res.Headcount,
		Intensity:      res.Intensity,
		Households:     v.Households,
		TotalSampled:   res.Sampled,
		PercentMissing: res.PercentMissing,
	}
	for _, p := range people {
		if p.RegionID != "" {
			est.Region = p.RegionID
			break
		}
	}
	return est, nil
}

// EstimateUnits groups people by key and estimates every unit concurrently.
// Results are sorted by unit id; numeric ids sort numerically. Any failing
// unit aborts the run with an error naming it.
func EstimateUnits(ctx context.Context, people []Individual, s Scheme, key UnitKey, opts EstimateOptions) ([]Estimate, error) {
	logger := zap.L().With(zap.String("component", "mpi"))

	if key == nil {
		key = ByCluster
	}
	if opts.Confidence == 0 {
		opts.Confidence = DefaultConfidence
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[string][]Individual)
	var units []string
	for _, p := range people {
		k := key(p)
		if _, ok := groups[k]; !ok {
			units = append(units, k)
		}
		groups[k] = append(groups[k], p)
	}
	sortUnits(units)

	if opts.ExpectUnits > 0 && len(units) != opts.ExpectUnits {
		return nil, eris.Wrapf(ErrShape, "mpi: found %d units, expected %d", len(units), opts.ExpectUnits)
	}

	estimates := make([]Estimate, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := EstimateOne(unit, groups[unit], s, opts.Confidence)
			if err != nil {
				return eris.Wrapf(err, "mpi: unit %q", unit)
			}
			estimates[i] = *est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("estimated MPI by unit",
		zap.Int("units", len(units)),
		zap.Int("individuals", len(people)),
		zap.Float64("confidence", opts.Confidence),
	)
	return estimates, nil
}

// sortUnits orders ids numerically when all parse as numbers, lexically otherwise
func sortUnits(units []string) {
	nums := make(map[string]float64, len(units))
	for _, u := range units {
		n, err := strconv.ParseFloat(u, 64)
		if err != nil || math.IsNaN(n) {
			sort.Strings(units)
			return
		}
		nums[u] = n
	}
	sort.Slice(units, func(i, j int) bool {
		if nums[units[i]] != nums[units[j]] {
			return nums[units[i]] < nums[units[j]]
		}
		return units[i] < units[j]
	})
}
