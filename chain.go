package commitfit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// block is one random-walk Metropolis target in unconstrained coordinates.
type block struct {
	name  string
	dim   int
	get   func(p *Params, z []float64)      // Constrained to unconstrained
	set   func(z []float64, p *Params)      // Unconstrained to constrained
	sync  func(dst, src *Params)            // Copies this block's values
	logp  func(c *chain, p *Params) float64 // Target plus log-Jacobian
	scale float64

	// Tuning window and post-tuning totals.
	windowAccepted, windowProposed int
	accepted, proposed             int
}

// tuneScale rescales a step size from a window's acceptance rate, aiming for
// the 0.2-0.5 band.
func tuneScale(scale, acceptance float64) float64 {
	switch {
	case acceptance < 0.001:
		return scale * 0.1
	case acceptance < 0.05:
		return scale * 0.5
	case acceptance < 0.2:
		return scale * 0.9
	case acceptance > 0.95:
		return scale * 10
	case acceptance > 0.75:
		return scale * 2
	case acceptance > 0.5:
		return scale * 1.1
	}
	return scale
}

// chain owns every mutable buffer of one Markov chain. Nothing here is
// shared with other chains.
type chain struct {
	id     int
	seed   uint64
	model  *Model
	rng    *rand.Rand
	logger *slog.Logger

	cur    Params
	prop   Params
	states States
	stats  *stateStats
	logp   float64

	globals []*block
	locals  []*block

	z       []float64
	theta   []float64
	logQ    []float64
	logPI   []float64
	weights []float64
}

func newChain(id int, seed uint64, m *Model, start MAPResult, logger *slog.Logger) *chain {
	k := m.K
	states := start.States.Clone()
	c := &chain{
		id:      id,
		seed:    seed,
		model:   m,
		rng:     rand.New(rand.NewPCG(seed, uint64(id))),
		logger:  logger.With("chain", id),
		cur:     start.Params.Clone(),
		prop:    start.Params.Clone(),
		states:  states,
		stats:   newStateStats(m, states),
		logp:    start.LogPosterior,
		z:       make([]float64, k*k),
		theta:   make([]float64, k),
		logQ:    make([]float64, k),
		logPI:   make([]float64, k*k),
		weights: make([]float64, k),
	}
	c.globals = globalBlocks(m)
	c.locals = make([]*block, m.N)
	for i := range c.locals {
		c.locals[i] = multiplierBlock(i)
	}
	return c
}

func globalBlocks(m *Model) []*block {
	k := m.K
	upper := m.Priors.BaselineMax

	blocks := []*block{{
		name: "Q",
		dim:  k - 1,
		get:  func(p *Params, z []float64) { simplexToRatios(p.Q, z) },
		set:  func(z []float64, p *Params) { ratiosToSimplex(z, p.Q) },
		sync: func(dst, src *Params) { copy(dst.Q, src.Q) },
		logp: func(c *chain, p *Params) float64 { return c.globalLogp(p) + sumLog(p.Q) },
	}}
	for row := 0; row < k; row++ {
		blocks = append(blocks, &block{
			name: fmt.Sprintf("PI[%d]", row),
			dim:  k - 1,
			get:  func(p *Params, z []float64) { simplexToRatios(p.Row(row), z) },
			set:  func(z []float64, p *Params) { ratiosToSimplex(z, p.Row(row)) },
			sync: func(dst, src *Params) { copy(dst.Row(row), src.Row(row)) },
			logp: func(c *chain, p *Params) float64 { return c.globalLogp(p) + sumLog(p.Row(row)) },
		})
	}
	blocks = append(blocks,
		&block{
			name: "r",
			dim:  1,
			get:  func(p *Params, z []float64) { z[0] = math.Log(p.R) },
			set:  func(z []float64, p *Params) { p.R = math.Exp(z[0]) },
			sync: func(dst, src *Params) { dst.R = src.R },
			logp: func(c *chain, p *Params) float64 { return c.globalLogp(p) + math.Log(p.R) },
		},
		&block{
			name: "th0",
			dim:  1,
			get: func(p *Params, z []float64) {
				u := p.Th0 / upper
				z[0] = math.Log(u) - math.Log1p(-u)
			},
			set:  func(z []float64, p *Params) { p.Th0 = upper * math.Exp(logSigmoid(z[0])) },
			sync: func(dst, src *Params) { dst.Th0 = src.Th0 },
			logp: func(c *chain, p *Params) float64 {
				return c.globalLogp(p) + math.Log(p.Th0) + math.Log1p(-p.Th0/upper)
			},
		},
		&block{
			name: "G",
			dim:  k - 1,
			get:  func(p *Params, z []float64) { copy(z, p.G) },
			set:  func(z []float64, p *Params) { copy(p.G, z) },
			sync: func(dst, src *Params) { copy(dst.G, src.G) },
			logp: func(c *chain, p *Params) float64 { return c.globalLogp(p) },
		},
	)
	for _, b := range blocks {
		b.scale = 1
	}
	return blocks
}

func multiplierBlock(i int) *block {
	return &block{
		name:  fmt.Sprintf("A[%d]", i),
		dim:   1,
		get:   func(p *Params, z []float64) { z[0] = math.Log(p.A[i]) },
		set:   func(z []float64, p *Params) { p.A[i] = math.Exp(z[0]) },
		sync:  func(dst, src *Params) { dst.A[i] = src.A[i] },
		logp:  func(c *chain, p *Params) float64 { return c.multiplierLogp(i, p.A[i], p.R) },
		scale: 1,
	}
}

// globalLogp is the log-posterior up to terms that do not involve the global
// parameters, evaluated from the state statistics.
func (c *chain) globalLogp(p *Params) float64 {
	m := c.model
	lp := m.priors.globalLogProb(p)
	if math.IsInf(lp, -1) {
		return lp
	}
	for _, a := range p.A {
		lp += heterogeneityLogProb(a, p.R)
	}
	lp += c.stats.commitmentLogP(p.Q, p.PI)
	fillRateLadder(p.Th0, p.G, c.theta)
	return lp + c.stats.usageKernel(p.A, c.theta)
}

// multiplierLogp is the conditional log-density of log A[i]; c.theta must
// hold the current rate ladder.
func (c *chain) multiplierLogp(i int, a, r float64) float64 {
	if !(a > 0) {
		return math.Inf(-1)
	}
	return heterogeneityLogProb(a, r) + c.model.usageTotal[i]*math.Log(a) - a*c.stats.exposure(i, c.theta) + math.Log(a)
}

// metropolis proposes one random-walk move for b and reports acceptance.
func (c *chain) metropolis(b *block, draw int) (bool, error) {
	z := c.z[:b.dim]
	old := b.logp(c, &c.cur)

	b.get(&c.cur, z)
	for j := range z {
		z[j] += b.scale * c.rng.NormFloat64()
	}
	b.set(z, &c.prop)
	next := b.logp(c, &c.prop)
	if math.IsNaN(next) || math.IsNaN(old) {
		return false, &InstabilityError{Chain: c.id, Draw: draw, Block: b.name}
	}

	b.windowProposed++
	delta := next - old
	if delta >= 0 || math.Log(c.rng.Float64()) < delta {
		b.sync(&c.cur, &c.prop)
		b.windowAccepted++
		return true, nil
	}
	b.sync(&c.prop, &c.cur)
	return false, nil
}

// gibbs resamples every latent state from its full conditional, visiting the
// periods of each customer in random order. Values that would break the
// renewal constraint have weight -Inf and are never drawn.
func (c *chain) gibbs(draw int) error {
	m, st := c.model, c.stats
	logTables(c.cur.Q, c.cur.PI, c.logQ, c.logPI)
	fillRateLadder(c.cur.Th0, c.cur.G, c.theta)

	for i, seq := range c.states {
		a := c.cur.A[i]
		for _, t := range c.rng.Perm(m.T) {
			commitmentWeights(c.logQ, c.logPI, m.Mask, seq, t, st.active[i], c.weights)
			for j := range c.weights {
				c.weights[j] += poissonLogPMF(m.Usage[i][t], a*c.theta[j])
				if math.IsNaN(c.weights[j]) {
					return &InstabilityError{Chain: c.id, Draw: draw, Block: "states"}
				}
			}
			norm := floats.LogSumExp(c.weights)
			if math.IsInf(norm, -1) || math.IsNaN(norm) {
				// No state can explain the count at this position.
				return &InstabilityError{Chain: c.id, Draw: draw, Block: "states"}
			}
			st.move(m, c.states, i, t, c.sampleCategorical(c.weights, norm))
		}
	}
	return nil
}

// sampleCategorical draws an index with probability proportional to exp(w);
// norm is log Σ exp(w) and must be finite.
func (c *chain) sampleCategorical(w []float64, norm float64) int {
	u := c.rng.Float64()
	var cum float64
	last := -1
	for j, v := range w {
		if math.IsInf(v, -1) {
			continue
		}
		last = j
		cum += math.Exp(v - norm)
		if u < cum {
			return j
		}
	}
	return last
}

// step runs one full iteration: Metropolis over the globals, then over each
// multiplier, then Gibbs over states. It returns the fraction of accepted
// Metropolis proposals.
func (c *chain) step(draw int) (float64, error) {
	var accepted int
	for _, b := range c.globals {
		ok, err := c.metropolis(b, draw)
		if err != nil {
			return 0, err
		}
		accepted += boolInt(ok)
	}
	fillRateLadder(c.cur.Th0, c.cur.G, c.theta)
	for _, b := range c.locals {
		ok, err := c.metropolis(b, draw)
		if err != nil {
			return 0, err
		}
		accepted += boolInt(ok)
	}

	if err := c.gibbs(draw); err != nil {
		return 0, err
	}

	c.logp = c.model.LogPosterior(&c.cur, c.states)
	if math.IsNaN(c.logp) {
		return 0, &InstabilityError{Chain: c.id, Draw: draw, Block: "posterior"}
	}
	return float64(accepted) / float64(len(c.globals)+len(c.locals)), nil
}

// tune rescales every block from its window acceptance and opens a new window.
func (c *chain) tune() {
	for _, b := range c.blocks() {
		if b.windowProposed == 0 {
			continue
		}
		acc := float64(b.windowAccepted) / float64(b.windowProposed)
		b.scale = tuneScale(b.scale, acc)
		b.windowAccepted, b.windowProposed = 0, 0
	}
}

// settle folds the current window into the post-tuning totals.
func (c *chain) settle() {
	for _, b := range c.blocks() {
		b.accepted += b.windowAccepted
		b.proposed += b.windowProposed
	}
	c.resetWindows()
}

// resetWindows drops window counts, so tuning proposals never count toward
// reported acceptance.
func (c *chain) resetWindows() {
	for _, b := range c.blocks() {
		b.windowAccepted, b.windowProposed = 0, 0
	}
}

func (c *chain) blocks() []*block {
	out := make([]*block, 0, len(c.globals)+len(c.locals))
	out = append(out, c.globals...)
	return append(out, c.locals...)
}

// run performs tune+draws iterations and records the post-tuning ones.
func (c *chain) run(ctx context.Context, cfg Config, obs Observer) (ChainTrace, error) {
	ct := ChainTrace{
		Chain:   c.id,
		Seed:    c.seed,
		Samples: make([]Sample, 0, cfg.Draws),
	}

	total := cfg.Tune + cfg.Draws
	for d := 0; d < total; d++ {
		if err := ctx.Err(); err != nil {
			return ChainTrace{}, err
		}
		tuning := d < cfg.Tune

		acc, err := c.step(d)
		if err != nil {
			return ChainTrace{}, err
		}

		if tuning {
			if (d+1)%cfg.TuneInterval == 0 {
				c.tune()
				c.logger.Debug("tuned step sizes", "draw", d+1, "logp", c.logp)
			}
			if d+1 == cfg.Tune {
				c.resetWindows()
			}
		} else {
			c.settle()
			ct.Samples = append(ct.Samples, Sample{Params: c.cur.Clone(), States: c.states.Clone()})
		}
		obs.DrawCompleted(c.id, tuning, acc)
	}

	ct.Acceptance = make(map[string]float64, len(c.globals)+len(c.locals))
	for _, b := range c.blocks() {
		if b.proposed > 0 {
			ct.Acceptance[b.name] = float64(b.accepted) / float64(b.proposed)
		}
	}
	c.logger.Debug("chain finished", "draws", len(ct.Samples), "logp", c.logp)
	return ct, nil
}

func sumLog(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += math.Log(x)
	}
	return s
}
