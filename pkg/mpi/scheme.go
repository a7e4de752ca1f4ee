// Package mpi computes the Multidimensional Poverty Index from individual
// deprivation indicators, with Taylor-linearised standard errors that treat
// households as primary sampling units.
package mpi

import (
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultCutoff is the deprivation score a person must exceed to be poor
	DefaultCutoff = 1.0 / 3.0

	weightTolerance = 1e-9
	// scores within this distance of the cutoff count as equal to it
	cutoffTolerance = 1e-9
)

var (
	ErrShape      = eris.New("mpi: malformed input")
	ErrWeights    = eris.New("mpi: invalid weighting scheme")
	ErrDegenerate = eris.New("mpi: degenerate sample")
)

// Indicator is one binary deprivation indicator
type Indicator struct {
	Name      string  `yaml:"name"`
	Dimension string  `yaml:"dimension"`
	Weight    float64 `yaml:"weight"`
}

// Scheme is an ordered set of weighted indicators and the poverty cutoff
type Scheme struct {
	Indicators []Indicator `yaml:"indicators"`
	Cutoff     float64     `yaml:"cutoff"`
}

// DefaultScheme returns the global MPI: three equally weighted dimensions,
// with indicators weighted equally inside each dimension
func DefaultScheme() Scheme {
	return Scheme{
		Indicators: []Indicator{
			{Name: "d_cm", Dimension: "health", Weight: 1.0 / 6},
			{Name: "d_nutr", Dimension: "health", Weight: 1.0 / 6},
			{Name: "d_satt", Dimension: "education", Weight: 1.0 / 6},
			{Name: "d_educ", Dimension: "education", Weight: 1.0 / 6},
			{Name: "d_elct", Dimension: "living", Weight: 1.0 / 18},
			{Name: "d_wtr", Dimension: "living", Weight: 1.0 / 18},
			{Name: "d_sani", Dimension: "living", Weight: 1.0 / 18},
			{Name: "d_hsg", Dimension: "living", Weight: 1.0 / 18},
			{Name: "d_ckfl", Dimension: "living", Weight: 1.0 / 18},
			{Name: "d_asst", Dimension: "living", Weight: 1.0 / 18},
		},
		Cutoff: DefaultCutoff,
	}
}

// Names returns indicator names in scheme order
func (s Scheme) Names() []string {
	names := make([]string, len(s.Indicators))
	for i, ind := range s.Indicators {
		names[i] = ind.Name
	}
	return names
}

// Weights returns indicator weights in scheme order
func (s Scheme) Weights() []float64 {
	w := make([]float64, len(s.Indicators))
	for i, ind := range s.Indicators {
		w[i] = ind.Weight
	}
	return w
}

// Validate checks indicator names, weights and the cutoff
func (s Scheme) Validate() error {
	if len(s.Indicators) == 0 {
		return eris.Wrap(ErrWeights, "mpi: scheme has no indicators")
	}
	seen := make(map[string]struct{}, len(s.Indicators))
	for _, ind := range s.Indicators {
		if ind.Name == "" {
			return eris.Wrap(ErrWeights, "mpi: indicator without a name")
		}
		if _, ok := seen[ind.Name]; ok {
			return eris.Wrapf(ErrWeights, "mpi: indicator %q listed twice", ind.Name)
		}
		seen[ind.Name] = struct{}{}
		if math.IsNaN(ind.Weight) || ind.Weight < 0 {
			return eris.Wrapf(ErrWeights, "mpi: indicator %q has weight %v", ind.Name, ind.Weight)
		}
	}
	if sum := floats.Sum(s.Weights()); math.Abs(sum-1) > weightTolerance {
		return eris.Wrapf(ErrWeights, "mpi: weights sum to %v", sum)
	}
	if !(s.Cutoff > 0 && s.Cutoff <= 1) {
		return eris.Wrapf(ErrWeights, "mpi: cutoff %v outside (0, 1]", s.Cutoff)
	}
	return nil
}

// NestedWeights assigns each dimension an equal share and splits it
// equally among the dimension's indicators
func NestedWeights(indicators []Indicator) []Indicator {
	perDim := map[string]int{}
	var order []string
	for _, ind := range indicators {
		if _, ok := perDim[ind.Dimension]; !ok {
			order = append(order, ind.Dimension)
		}
		perDim[ind.Dimension]++
	}
	out := make([]Indicator, len(indicators))
	for i, ind := range indicators {
		ind.Weight = 1 / float64(len(order)) / float64(perDim[ind.Dimension])
		out[i] = ind
	}
	return out
}

// LoadScheme reads a YAML scheme. When no indicator carries a weight the
// nested equal weights are used; a missing cutoff defaults to 1/3.
func LoadScheme(path string) (Scheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scheme{}, eris.Wrapf(err, "mpi: read scheme %s", path)
	}

	var s Scheme
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scheme{}, eris.Wrapf(err, "mpi: parse scheme %s", path)
	}

	if floats.Sum(s.Weights()) == 0 {
		s.Indicators = NestedWeights(s.Indicators)
	}
	if s.Cutoff == 0 {
		s.Cutoff = DefaultCutoff
	}
	if err := s.Validate(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}
