package mpi

import (
	"math"

	"github.com/rotisserie/eris"
)

// Observation is one individual's censored score and household
type Observation struct {
	HouseholdID string
	Value       float64
}

// Variance holds the linearised variance of a ratio mean and its parts
type Variance struct {
	Individuals int     // x
	Households  int     // m
	Total       float64 // y
	Residual    float64 // z = sum of z_h
	SumSquares  float64 // sum of z_h^2
	Variance    float64
	SE          float64
}

// LinearizedVariance estimates the variance of the mean r of the observed
// values, treating each household as a sampling unit:
//
//	z_h = y_h - r*x_h
//	var = (1/x^2) * m/(m-1) * (sum z_h^2 - z^2/m)
//
// Fewer than two households, or no individuals, is ErrDegenerate.
func LinearizedVariance(obs []Observation, r float64) (*Variance, error) {
	x := len(obs)
	if x == 0 {
		return nil, eris.Wrap(ErrDegenerate, "mpi: no observations")
	}

	type household struct {
		x int
		y float64
	}
	index := make(map[string]int)
	var hh []household
	y := 0.0
	for _, o := range obs {
		i, ok := index[o.HouseholdID]
		if !ok {
			i = len(hh)
			index[o.HouseholdID] = i
			hh = append(hh, household{})
		}
		hh[i].x++
		hh[i].y += o.Value
		y += o.Value
	}

	m := len(hh)
	if m <= 1 {
		return nil, eris.Wrapf(ErrDegenerate, "mpi: %d household(s), need at least 2", m)
	}

	z, sumSq := 0.0, 0.0
	for _, h := range hh {
		zh := h.y - r*float64(h.x)
		z += zh
		sumSq += zh * zh
	}

	xf := float64(x)
	expected := y - r*xf
	if tol := 1e-9 * math.Max(1, math.Max(math.Abs(y), math.Abs(r*xf))); math.Abs(z-expected) > tol {
		return nil, eris.Errorf("mpi: household residuals sum to %v, expected %v", z, expected)
	}

	mf := float64(m)
	v := (1 / (xf * xf)) * (mf / (mf - 1)) * (sumSq - z*z/mf)
	if v < 0 {
		// rounding around an exact estimate
		v = 0
	}
	return &Variance{
		Individuals: x,
		Households:  m,
		Total:       y,
		Residual:    z,
		SumSquares:  sumSq,
		Variance:    v,
		SE:          math.Sqrt(v),
	}, nil
}
