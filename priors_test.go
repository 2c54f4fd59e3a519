package commitfit

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestPriors_ZeroSimplexEntryIsImpossible(t *testing.T) {
	p := Params{
		Q:   []float64{0.5, 0.5},
		PI:  []float64{1, 0, 0.5, 0.5},
		R:   1,
		Th0: 1,
		G:   []float64{0},
	}
	for _, conc := range []float64{0.5, 1, 2} {
		pri := DefaultPriors()
		pri.Concentration = conc
		ps := newPriorSet(pri, 2)

		if lp := ps.globalLogProb(&p); !math.IsInf(lp, -1) {
			t.Errorf("Concentration %g, zero PI entry: expected -Inf, got %v", conc, lp)
		}
		q := p.Clone()
		q.Q = []float64{0, 1}
		q.PI = []float64{0.5, 0.5, 0.5, 0.5}
		if lp := ps.globalLogProb(&q); !math.IsInf(lp, -1) {
			t.Errorf("Concentration %g, zero Q entry: expected -Inf, got %v", conc, lp)
		}
	}
	t.Logf("✓ boundary simplexes have zero prior density")
}

func TestPriors_InteriorSimplexIsFinite(t *testing.T) {
	p := Params{
		Q:   []float64{0.3, 0.7},
		PI:  []float64{0.9, 0.1, 0.2, 0.8},
		R:   1,
		A:   []float64{0.5, 2},
		Th0: 1,
		G:   []float64{0},
	}
	for _, conc := range []float64{0.5, 1, 2} {
		pri := DefaultPriors()
		pri.Concentration = conc
		ps := newPriorSet(pri, 2)
		if lp := ps.logProb(&p); math.IsNaN(lp) || math.IsInf(lp, 0) {
			t.Errorf("Concentration %g: expected finite prior, got %v", conc, lp)
		}
	}
}

// A Q proposal whose smallest ratio underflows lands on the boundary of the
// simplex; the block density must reject it rather than report instability.
func TestChain_BoundarySimplexProposalRejected(t *testing.T) {
	sim, err := Simulate(rand.NewPCG(61, 1), truthParams(), 8, 6, RenewalMask(6, 3))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for _, conc := range []float64{0.5, 1} {
		pri := DefaultPriors()
		pri.Concentration = conc
		m, err := NewModel(sim.Usage, ModelConfig{NumStates: 3, RenewalPeriod: 3, Priors: pri})
		if err != nil {
			t.Fatalf("NewModel: %v", err)
		}
		res, err := FindMAP(m, m.InitialParams(), m.SeedStates(SeedQuantile), DefaultMAPConfig())
		if err != nil {
			t.Fatalf("FindMAP: %v", err)
		}
		c := newChain(0, 7, m, res, discardLogger())

		qBlock := c.globals[0]
		p := c.cur.Clone()
		z := make([]float64, qBlock.dim)
		qBlock.get(&p, z)
		z[0] = -800
		qBlock.set(z, &p)
		if p.Q[0] != 0 {
			t.Fatalf("Expected Q[0] to underflow to 0, got %g", p.Q[0])
		}
		if lp := qBlock.logp(c, &p); !math.IsInf(lp, -1) {
			t.Errorf("Concentration %g: expected -Inf block density, got %v", conc, lp)
		}

		for d := 0; d < 20; d++ {
			if _, err := c.step(d); err != nil {
				t.Fatalf("Concentration %g, step %d: %v", conc, d, err)
			}
		}
	}
	t.Logf("✓ boundary proposals rejected at concentrations 0.5 and 1")
}
