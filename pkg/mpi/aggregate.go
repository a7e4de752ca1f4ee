package mpi

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
)

// Individual is one person's deprivation record. NaN marks a missing indicator.
type Individual struct {
	ID           string
	HouseholdID  string
	ClusterID    string
	RegionID     string
	Deprivations []float64
	InSample     bool
}

// Scored is an individual that entered the index
type Scored struct {
	ID          string
	HouseholdID string
	Score       float64
	Poor        bool
	// Censored is Score for poor individuals and 0 otherwise
	Censored float64
}

// Result is the MPI over a set of individuals
type Result struct {
	Scored []Scored
	// Sampled counts individuals that passed the sample filter
	Sampled int
	// Missing counts sampled individuals dropped for missing indicators
	Missing        int
	PercentMissing float64

	MPI       float64
	Headcount float64
	Intensity float64
}

// Aggregate scores every sampled individual with complete indicators and
// averages the censored scores. A person is poor when the weighted score
// exceeds the cutoff; a score equal to it is censored to 0.
func Aggregate(people []Individual, s Scheme) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	weights := s.Weights()

	res := &Result{Scored: make([]Scored, 0, len(people))}
	for _, p := range people {
		if !p.InSample {
			continue
		}
		res.Sampled++

		if len(p.Deprivations) != len(weights) {
			return nil, eris.Wrapf(ErrShape, "mpi: individual %q has %d indicators, scheme has %d",
				p.ID, len(p.Deprivations), len(weights))
		}
		missing := false
		for i, v := range p.Deprivations {
			switch {
			case math.IsNaN(v):
				missing = true
			case v != 0 && v != 1:
				return nil, eris.Wrapf(ErrShape, "mpi: individual %q indicator %s = %v", p.ID, s.Indicators[i].Name, v)
			}
		}
		if missing {
			res.Missing++
			continue
		}

		score := floats.Dot(p.Deprivations, weights)
		sc := Scored{ID: p.ID, HouseholdID: p.HouseholdID, Score: score}
		if score > s.Cutoff+cutoffTolerance {
			sc.Poor = true
			sc.Censored = score
		}
		res.Scored = append(res.Scored, sc)
	}

	if res.Sampled > 0 {
		res.PercentMissing = float64(res.Missing) / float64(res.Sampled) * 100
	}
	if len(res.Scored) == 0 {
		return nil, eris.Wrapf(ErrDegenerate, "mpi: no individuals with complete indicators (%d sampled)", res.Sampled)
	}

	censored := make([]float64, len(res.Scored))
	poor := 0
	for i, sc := range res.Scored {
		censored[i] = sc.Censored
		if sc.Poor {
			poor++
		}
	}
	n := float64(len(res.Scored))
	res.MPI = floats.Sum(censored) / n
	res.Headcount = float64(poor) / n
	if poor > 0 {
		res.Intensity = res.MPI / res.Headcount
	}
	return res, nil
}

// Observations returns the censored scores keyed by household for variance estimation
func (r *Result) Observations() []Observation {
	obs := make([]Observation, len(r.Scored))
	for i, sc := range r.Scored {
		obs[i] = Observation{HouseholdID: sc.HouseholdID, Value: sc.Censored}
	}
	return obs
}
