package commitfit

import (
	"math"
	"strings"
	"testing"
)

// AssertionConfig contains thresholds for posterior checks.
type AssertionConfig struct {
	// Gelman-Rubin threshold (R-hat < this value passes)
	MaxRHat float64

	// Acceptance band for every Metropolis block
	MinAcceptance float64
	MaxAcceptance float64
}

// DefaultAssertionConfig returns conventional thresholds.
func DefaultAssertionConfig() AssertionConfig {
	return AssertionConfig{
		MaxRHat:       1.1,  // Gelman et al. rule of thumb
		MinAcceptance: 0.02, // Stuck below this
		MaxAcceptance: 0.99, // Not moving above this
	}
}

// AssertFinite verifies that every recorded scalar is finite.
func AssertFinite(t *testing.T, tr *Trace) {
	t.Helper()

	for _, name := range tr.Names() {
		series, err := tr.Scalar(name)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		for c, s := range series {
			for d, v := range s {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("%s is %v in chain %d at draw %d", name, v, c, d)
				}
			}
		}
	}
	t.Logf("✓ All %d scalars finite across %d chains", len(tr.Names()), len(tr.Chains))
}

// AssertFeasible verifies that every recorded state configuration satisfies
// the renewal constraint and that every draw has a finite log-posterior.
func AssertFeasible(t *testing.T, m *Model, tr *Trace) {
	t.Helper()

	for _, ch := range tr.Chains {
		for d := range ch.Samples {
			s := &ch.Samples[d]
			if !m.Feasible(s.States) {
				t.Fatalf("Chain %d draw %d: states violate the renewal constraint", ch.Chain, d)
			}
			if lp := m.LogPosterior(&s.Params, s.States); math.IsInf(lp, 0) || math.IsNaN(lp) {
				t.Fatalf("Chain %d draw %d: log-posterior %v", ch.Chain, d, lp)
			}
		}
	}
	t.Logf("✓ All draws feasible")
}

// AssertConverged verifies R-hat of names and the acceptance rates of the
// population-level blocks. R-hat is only checked with two or more chains.
func AssertConverged(t *testing.T, tr *Trace, cfg AssertionConfig, names ...string) {
	t.Helper()

	stats, err := tr.Summarize(names...)
	if err != nil {
		t.Fatalf("Failed to summarize trace: %v", err)
	}
	if len(tr.Chains) > 1 {
		for _, s := range stats {
			if !(s.RHat < cfg.MaxRHat) {
				t.Errorf("Chains disagree on %s: R-hat = %.4f (max: %.4f)", s.Name, s.RHat, cfg.MaxRHat)
			}
		}
	}

	for _, ch := range tr.Chains {
		for block, acc := range ch.Acceptance {
			if strings.HasPrefix(block, "A[") {
				continue
			}
			if acc < cfg.MinAcceptance || acc > cfg.MaxAcceptance {
				t.Errorf("Chain %d block %s: acceptance %.3f outside [%.3f, %.3f]",
					ch.Chain, block, acc, cfg.MinAcceptance, cfg.MaxAcceptance)
			}
		}
	}
	t.Logf("✓ Convergence checks done on %d parameters", len(stats))
}

// AssertPosteriorMean verifies that the pooled posterior mean of name lies
// within tol of want.
func AssertPosteriorMean(t *testing.T, tr *Trace, name string, want, tol float64) {
	t.Helper()

	stats, err := tr.Summarize(name)
	if err != nil {
		t.Fatalf("Failed to summarize %s: %v", name, err)
	}
	got := stats[0].Mean
	if math.Abs(got-want) > tol {
		t.Errorf("Posterior mean of %s = %.4f, want %.4f ± %.4f", name, got, want, tol)
		return
	}
	t.Logf("✓ %s: mean %.4f (want %.4f ± %.4f)", name, got, want, tol)
}

// PrintSummary logs a posterior table for names (every scalar when empty).
func PrintSummary(t *testing.T, tr *Trace, names ...string) {
	t.Helper()

	stats, err := tr.Summarize(names...)
	if err != nil {
		t.Fatalf("Failed to summarize trace: %v", err)
	}
	t.Logf("%-10s %10s %10s %10s %10s %10s %8s %8s", "param", "mean", "sd", "5%", "50%", "95%", "ESS", "R-hat")
	for _, s := range stats {
		t.Logf("%-10s %10.4f %10.4f %10.4f %10.4f %10.4f %8.1f %8.4f", s.Name, s.Mean, s.SD, s.Q05, s.Median, s.Q95, s.ESS, s.RHat)
	}
}
