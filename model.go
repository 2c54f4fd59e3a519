package commitfit

import (
	"fmt"
	"math"
)

// ModelConfig holds the structural settings of the model.
type ModelConfig struct {
	NumStates     int    // K, number of latent commitment states (≥ 2)
	RenewalPeriod int    // R, periods between renewals (≥ 1, divides T)
	Priors        Priors // Prior hyperparameters
}

// DefaultModelConfig returns three states with quarterly renewals on monthly
// data and default priors.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		NumStates:     3,
		RenewalPeriod: 3,
		Priors:        DefaultPriors(),
	}
}

// Model binds validated observations to the model structure.
// A Model is read-only after construction and shared by all chains.
type Model struct {
	K, N, T int
	Usage   [][]int // N×T observed counts
	Mask    []int   // Renewal mask, length T-1
	Priors  Priors

	priors     priorSet
	flagged    int       // Set entries of Mask
	usageTotal []float64 // Σ_t Usage[i][t]
	logFact    []float64 // Σ_t log(Usage[i][t]!)
}

// NewModel validates usage against cfg and builds the model.
// Data problems are reported as *InputError.
func NewModel(usage [][]int, cfg ModelConfig) (*Model, error) {
	if cfg.NumStates < 2 {
		return nil, fmt.Errorf("%w: need at least 2 states, got %d", ErrInvalidConfig, cfg.NumStates)
	}
	if cfg.RenewalPeriod < 1 {
		return nil, fmt.Errorf("%w: renewal period must be ≥ 1, got %d", ErrInvalidConfig, cfg.RenewalPeriod)
	}
	if err := validatePriors(cfg.Priors); err != nil {
		return nil, err
	}
	if err := ValidateUsage(usage, cfg.RenewalPeriod); err != nil {
		return nil, err
	}

	n, t := len(usage), len(usage[0])
	m := &Model{
		K:          cfg.NumStates,
		N:          n,
		T:          t,
		Usage:      usage,
		Mask:       RenewalMask(t, cfg.RenewalPeriod),
		Priors:     cfg.Priors,
		priors:     newPriorSet(cfg.Priors, cfg.NumStates),
		usageTotal: make([]float64, n),
		logFact:    make([]float64, n),
	}
	m.flagged = flaggedCount(m.Mask)
	for i, row := range usage {
		for _, y := range row {
			m.usageTotal[i] += float64(y)
			lg, _ := math.Lgamma(float64(y) + 1)
			m.logFact[i] += lg
		}
	}
	return m, nil
}

// ValidateUsage checks that usage is a non-empty rectangular panel of
// non-negative counts whose length is a multiple of the renewal period.
func ValidateUsage(usage [][]int, renewalPeriod int) error {
	if len(usage) == 0 {
		return &InputError{Row: -1, Col: -1, Reason: "no customers"}
	}
	t := len(usage[0])
	if t == 0 {
		return &InputError{Row: 0, Col: -1, Reason: "no observation periods"}
	}
	for i, row := range usage {
		if len(row) != t {
			return &InputError{Row: i, Col: -1, Reason: fmt.Sprintf("has %d periods, want %d", len(row), t)}
		}
		for j, y := range row {
			if y < 0 {
				return &InputError{Row: i, Col: j, Reason: fmt.Sprintf("negative count %d", y)}
			}
		}
	}
	if renewalPeriod >= 1 && t%renewalPeriod != 0 {
		return &InputError{Row: -1, Col: -1, Reason: fmt.Sprintf("renewal period %d does not divide %d periods", renewalPeriod, t)}
	}
	return nil
}

func validatePriors(p Priors) error {
	switch {
	case !(p.Concentration > 0):
		return fmt.Errorf("%w: Dirichlet concentration must be positive", ErrInvalidConfig)
	case !(p.ShapeAlpha > 0) || !(p.ShapeBeta > 0):
		return fmt.Errorf("%w: Gamma hyperprior parameters must be positive", ErrInvalidConfig)
	case !(p.BaselineMax > 0):
		return fmt.Errorf("%w: baseline upper bound must be positive", ErrInvalidConfig)
	case !(p.OffsetSigma > 0):
		return fmt.Errorf("%w: offset prior scale must be positive", ErrInvalidConfig)
	}
	return nil
}

// InitialParams returns the prior test values for this model.
func (m *Model) InitialParams() Params {
	return m.priors.initialParams(m.K, m.N)
}

// InitialStates returns every customer in state 1. With at least two states
// this satisfies the renewal constraint for any mask.
func (m *Model) InitialStates() States {
	s := make(States, m.N)
	for i := range s {
		s[i] = make([]int, m.T)
		for t := range s[i] {
			s[i][t] = 1
		}
	}
	return s
}

// LogPrior is the prior log-density of p.
func (m *Model) LogPrior(p *Params) float64 {
	return m.priors.logProb(p)
}

// LogLikelihood sums every likelihood Term.
func (m *Model) LogLikelihood(p *Params, s States) float64 {
	var lp float64
	for _, term := range Terms {
		lp += term.LogDensity(m, p, s)
	}
	return lp
}

// LogPosterior is the unnormalized joint log-posterior of p and s.
func (m *Model) LogPosterior(p *Params, s States) float64 {
	lp := m.LogPrior(p)
	if math.IsInf(lp, -1) {
		return lp
	}
	return lp + m.LogLikelihood(p, s)
}

// Feasible reports whether every trajectory in s is in range and satisfies
// the renewal constraint.
func (m *Model) Feasible(s States) bool {
	for _, seq := range s {
		for _, v := range seq {
			if v < 0 || v >= m.K {
				return false
			}
		}
		if !renewalSatisfied(m.Mask, seq) {
			return false
		}
	}
	return true
}
