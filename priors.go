package commitfit

import (
	"math"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Priors controls the prior distributions of the model.
//
//	Q, PI[k] ~ Dirichlet(Concentration, ..., Concentration)
//	r        ~ Gamma(ShapeAlpha, ShapeBeta)     (rate parameterization)
//	A[i]     ~ Gamma(r, r)                       (mean 1, variance 1/r)
//	th0      ~ Uniform(0, BaselineMax)
//	G[j]     ~ Normal(0, OffsetSigma)
type Priors struct {
	Concentration float64
	ShapeAlpha    float64
	ShapeBeta     float64
	BaselineMax   float64
	OffsetSigma   float64
}

// DefaultPriors returns weakly informative priors.
func DefaultPriors() Priors {
	return Priors{
		Concentration: 2,
		ShapeAlpha:    0.01,
		ShapeBeta:     0.01,
		BaselineMax:   10,
		OffsetSigma:   10000,
	}
}

// priorSet holds the prebuilt distributions for one model.
type priorSet struct {
	cfg       Priors
	dirichlet *distmv.Dirichlet
	shape     distuv.Gamma
	baseline  distuv.Uniform
	offset    distuv.Normal
}

func newPriorSet(cfg Priors, k int) priorSet {
	alpha := make([]float64, k)
	for j := range alpha {
		alpha[j] = cfg.Concentration
	}
	return priorSet{
		cfg:       cfg,
		dirichlet: distmv.NewDirichlet(alpha, nil),
		shape:     distuv.Gamma{Alpha: cfg.ShapeAlpha, Beta: cfg.ShapeBeta},
		baseline:  distuv.Uniform{Min: 0, Max: cfg.BaselineMax},
		offset:    distuv.Normal{Mu: 0, Sigma: cfg.OffsetSigma},
	}
}

// globalLogProb is the prior log-density of Q, PI, r, th0 and G.
// Q and every PI row must lie in the open simplex; an entry that has
// underflowed to zero is outside the support.
func (ps *priorSet) globalLogProb(p *Params) float64 {
	if !openSimplex(p.Q) || !openSimplex(p.PI) {
		return math.Inf(-1)
	}
	lp := ps.dirichlet.LogProb(p.Q)
	for k := 0; k < p.NumStates(); k++ {
		lp += ps.dirichlet.LogProb(p.Row(k))
	}
	if !(p.R > 0) {
		return math.Inf(-1)
	}
	lp += ps.shape.LogProb(p.R)
	lp += ps.baseline.LogProb(p.Th0)
	for _, g := range p.G {
		lp += ps.offset.LogProb(g)
	}
	return lp
}

func openSimplex(v []float64) bool {
	for _, x := range v {
		if !(x > 0) {
			return false
		}
	}
	return true
}

// heterogeneityLogProb is the Gamma(r, r) log-density of one multiplier.
func heterogeneityLogProb(a, r float64) float64 {
	if !(a > 0) || !(r > 0) {
		return math.Inf(-1)
	}
	return distuv.Gamma{Alpha: r, Beta: r}.LogProb(a)
}

// logProb is the full prior log-density, including every A[i].
func (ps *priorSet) logProb(p *Params) float64 {
	lp := ps.globalLogProb(p)
	for _, a := range p.A {
		lp += heterogeneityLogProb(a, p.R)
	}
	return lp
}

// initialParams returns the prior test values used as the starting point:
// uniform simplexes, r = 1, A = 1, th0 at the middle of its support, G = 0.
func (ps *priorSet) initialParams(k, n int) Params {
	p := Params{
		Q:   make([]float64, k),
		PI:  make([]float64, k*k),
		R:   1,
		A:   make([]float64, n),
		Th0: ps.cfg.BaselineMax / 2,
		G:   make([]float64, k-1),
	}
	for j := range p.Q {
		p.Q[j] = 1 / float64(k)
	}
	for j := range p.PI {
		p.PI[j] = 1 / float64(k)
	}
	for i := range p.A {
		p.A[i] = 1
	}
	return p
}
