package commitfit

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
)

// StateSeeding selects the latent states the MAP search starts from.
type StateSeeding uint8

const (
	// SeedQuantile assigns states from pooled count quantiles, then repairs
	// any trajectory that breaks the renewal constraint.
	SeedQuantile StateSeeding = iota

	// SeedOnes starts every customer in state 1.
	SeedOnes
)

func (s StateSeeding) String() string {
	switch s {
	case SeedQuantile:
		return "quantile"
	case SeedOnes:
		return "ones"
	default:
		return "unknown"
	}
}

// MAPConfig controls the MAP search.
type MAPConfig struct {
	MaxRounds       int          // Coordinate-ascent rounds before giving up
	FuncEvaluations int          // Evaluation budget of each Nelder-Mead run
	Tolerance       float64      // Absolute and relative function tolerance
	Seeding         StateSeeding // Starting states
}

// DefaultMAPConfig returns sensible defaults.
func DefaultMAPConfig() MAPConfig {
	return MAPConfig{
		MaxRounds:       50,
		FuncEvaluations: 20000,
		Tolerance:       1e-8,
		Seeding:         SeedQuantile,
	}
}

// MAPResult is the high-density point used to seed the chains.
type MAPResult struct {
	Params       Params
	States       States
	LogPosterior float64 // Joint log-posterior at (Params, States)
	Rounds       int     // Coordinate-ascent rounds used
	Evaluations  int     // Objective evaluations across all rounds
}

// FindMAP searches for a maximum a posteriori point by block coordinate ascent
// on the posterior with the multipliers A integrated out. Under the Gamma(r, r)
// prior each customer's counts are negative binomial given the states, so
//
//	log p(y_i | r, θ, s_i) = r·log r - lnΓ(r) + lnΓ(r+Y_i) - (r+Y_i)·log(r+S_i)
//	                         + Σ_t y_it·log θ[s_it] - Σ_t log y_it!
//
// with Y_i = Σ_t y_it and S_i = Σ_t θ[s_it]. Each round runs Nelder-Mead over
// the unconstrained globals (Q, PI, r, th0, G), then iterated conditional modes
// over the states. The search stops once a round leaves every state unchanged.
// A is finally set to its conditional mode (r+Y_i)/(r+S_i).
//
// The search is deterministic: the same inputs yield the same optimum.
func FindMAP(m *Model, start Params, states States, cfg MAPConfig) (MAPResult, error) {
	if err := start.Validate(m.K, m.N); err != nil {
		return MAPResult{}, fmt.Errorf("MAP start: %w", err)
	}
	if len(states) != m.N || !m.Feasible(states) {
		return MAPResult{}, fmt.Errorf("%w: MAP start states are infeasible", ErrInvalidConfig)
	}
	if lp := m.LogPosterior(&start, states); math.IsNaN(lp) || math.IsInf(lp, -1) {
		return MAPResult{}, fmt.Errorf("%w: MAP start has log-posterior %v", ErrInvalidConfig, lp)
	}
	if cfg.MaxRounds < 1 || cfg.FuncEvaluations < 1 {
		return MAPResult{}, fmt.Errorf("%w: MAP rounds and evaluations must be positive", ErrInvalidConfig)
	}

	o := newCollapsedObjective(m, start, states.Clone())
	x := make([]float64, o.layout.size())
	o.layout.pack(&o.params, x)

	settings := &optimize.Settings{
		FuncEvaluations: cfg.FuncEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   cfg.Tolerance,
			Relative:   cfg.Tolerance,
			Iterations: 200,
		},
	}
	problem := optimize.Problem{Func: o.objective}

	var evaluations int
	for round := 1; round <= cfg.MaxRounds; round++ {
		res, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{})
		if err != nil {
			return MAPResult{}, fmt.Errorf("%w: round %d: %v", ErrOptimization, round, err)
		}
		evaluations += res.FuncEvaluations
		if !converged(res.Status) {
			return MAPResult{}, fmt.Errorf("%w: round %d: optimizer stopped with status %v", ErrOptimization, round, res.Status)
		}
		if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
			return MAPResult{}, fmt.Errorf("%w: round %d: non-finite objective %v", ErrOptimization, round, res.F)
		}
		copy(x, res.X)
		o.layout.unpack(x, &o.params)

		if o.improveStates() > 0 {
			continue
		}

		p := o.params.Clone()
		o.fillModes(&p)
		lp := m.LogPosterior(&p, o.states)
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			return MAPResult{}, fmt.Errorf("%w: non-finite log-posterior %v at optimum", ErrOptimization, lp)
		}
		return MAPResult{
			Params:       p,
			States:       o.states,
			LogPosterior: lp,
			Rounds:       round,
			Evaluations:  evaluations,
		}, nil
	}
	return MAPResult{}, fmt.Errorf("%w: states still changing after %d rounds", ErrOptimization, cfg.MaxRounds)
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.FunctionThreshold,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// collapsedObjective evaluates the A-marginal posterior from the sufficient
// statistics of the current states, so one evaluation costs O(N·K).
type collapsedObjective struct {
	m      *Model
	layout layout
	states States
	stats  *stateStats
	params Params // Current globals; A is not used
	work   Params // Scratch for objective evaluations

	theta   []float64
	logQ    []float64
	logPI   []float64
	weights []float64
}

func newCollapsedObjective(m *Model, start Params, states States) *collapsedObjective {
	k := m.K
	return &collapsedObjective{
		m:       m,
		layout:  layout{k: k, upper: m.Priors.BaselineMax},
		states:  states,
		stats:   newStateStats(m, states),
		params:  start.Clone(),
		work:    start.Clone(),
		theta:   make([]float64, k),
		logQ:    make([]float64, k),
		logPI:   make([]float64, k*k),
		weights: make([]float64, k),
	}
}

// objective is the negated collapsed log-posterior in unconstrained space.
// NaN is mapped to +Inf so the simplex moves away from it; a non-finite
// optimum is still reported as a failure by FindMAP.
func (o *collapsedObjective) objective(x []float64) float64 {
	logJac := o.layout.unpack(x, &o.work)
	lp := o.logDensity(&o.work) + logJac
	if math.IsNaN(lp) {
		return math.Inf(1)
	}
	return -lp
}

func (o *collapsedObjective) logDensity(p *Params) float64 {
	m, st := o.m, o.stats

	lp := m.priors.globalLogProb(p)
	if math.IsInf(lp, -1) {
		return lp
	}
	lp += st.commitmentLogP(p.Q, p.PI)

	fillRateLadder(p.Th0, p.G, o.theta)
	r := p.R
	lgr, _ := math.Lgamma(r)
	base := r*math.Log(r) - lgr
	for i := 0; i < m.N; i++ {
		var ylog float64
		for s, th := range o.theta {
			ylog += countLog(st.volume[i*m.K+s], th)
		}
		y := m.usageTotal[i]
		lgry, _ := math.Lgamma(r + y)
		lp += base + lgry - (r+y)*math.Log(r+st.exposure(i, o.theta)) + ylog - m.logFact[i]
	}
	return lp
}

// improveStates runs one sweep of iterated conditional modes and returns the
// number of states that moved. A state moves only to a strictly better value,
// so infeasible values (weight -Inf) are never chosen.
func (o *collapsedObjective) improveStates() int {
	m, st := o.m, o.stats
	logTables(o.params.Q, o.params.PI, o.logQ, o.logPI)
	fillRateLadder(o.params.Th0, o.params.G, o.theta)
	r := o.params.R

	var moved int
	for i, seq := range o.states {
		y := m.usageTotal[i]
		sum := st.exposure(i, o.theta)

		for t, cur := range seq {
			obs := m.Usage[i][t]
			commitmentWeights(o.logQ, o.logPI, m.Mask, seq, t, st.active[i], o.weights)
			for j := range o.weights {
				o.weights[j] += xlogy(obs, o.theta[j]) - (r+y)*math.Log(r+sum-o.theta[cur]+o.theta[j])
			}

			best := cur
			for j, w := range o.weights {
				if w > o.weights[best]+1e-12 {
					best = j
				}
			}
			if best == cur {
				continue
			}

			st.move(m, o.states, i, t, best)
			sum += o.theta[best] - o.theta[cur]
			moved++
		}
	}
	return moved
}

// fillModes sets p.A to the conditional modes of log A given the globals.
func (o *collapsedObjective) fillModes(p *Params) {
	fillRateLadder(p.Th0, p.G, o.theta)
	for i := range p.A {
		p.A[i] = (p.R + o.m.usageTotal[i]) / (p.R + o.stats.exposure(i, o.theta))
	}
}

// SeedStates returns a feasible starting configuration for the MAP search.
func (m *Model) SeedStates(seeding StateSeeding) States {
	if seeding == SeedOnes {
		return m.InitialStates()
	}

	pooled := make([]int, 0, m.N*m.T)
	for _, row := range m.Usage {
		pooled = append(pooled, row...)
	}
	sort.Ints(pooled)
	cuts := make([]int, m.K-1)
	for j := range cuts {
		cuts[j] = pooled[(j+1)*len(pooled)/m.K]
	}

	s := make(States, m.N)
	for i, row := range m.Usage {
		seq := make([]int, m.T)
		for t, y := range row {
			for _, c := range cuts {
				if y > c {
					seq[t]++
				}
			}
		}
		repairRenewal(m.Mask, row, seq)
		s[i] = seq
	}
	return s
}

// repairRenewal lifts the busiest flagged period to state 1 when no flagged
// state of seq is non-zero.
func repairRenewal(mask, usage, seq []int) {
	if renewalSatisfied(mask, seq) {
		return
	}
	best := -1
	for t := 1; t < len(seq); t++ {
		if mask[t-1] != 0 && (best < 0 || usage[t] > usage[best]) {
			best = t
		}
	}
	seq[best] = 1
}
