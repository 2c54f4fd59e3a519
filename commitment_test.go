package commitfit

import (
	"math"
	"testing"
)

func TestCommitmentLogP_RenewalScenarios(t *testing.T) {
	q := []float64{0.6, 0.4}
	pi := []float64{
		0.7, 0.3,
		0.2, 0.8,
	}

	tests := []struct {
		name     string
		mask     []int
		seq      []int
		feasible bool
	}{
		{"flagged 1 and 2, one active", []int{0, 1, 1}, []int{0, 1, 1, 0}, true},
		{"flagged 1 and 2, all lapsed", []int{0, 1, 1}, []int{0, 0, 0, 0}, false},
		{"derived mask, one active", RenewalMask(4, 2), []int{0, 1, 1, 0}, true},
		{"derived mask, all lapsed", RenewalMask(4, 2), []int{0, 0, 0, 0}, false},
		// Only one of the two flagged periods needs a non-zero state.
		{"any, not every", []int{1, 0, 1}, []int{0, 1, 0, 0}, true},
		{"no flagged periods", []int{0, 0, 0}, []int{0, 0, 0, 0}, true},
		{"single period", []int{}, []int{0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lp := CommitmentLogP(q, pi, tt.mask, [][]int{tt.seq})
			if tt.feasible {
				if math.IsInf(lp, 0) || math.IsNaN(lp) {
					t.Fatalf("Expected finite log-probability, got %v", lp)
				}
			} else if !math.IsInf(lp, -1) {
				t.Fatalf("Expected -Inf for violated renewal constraint, got %v", lp)
			}
			t.Logf("%v under mask %v: %.6f", tt.seq, tt.mask, lp)
		})
	}
}

func TestCommitmentLogP_ViolationDominatesTotal(t *testing.T) {
	q := []float64{0.5, 0.5}
	pi := []float64{0.5, 0.5, 0.5, 0.5}
	mask := []int{0, 1, 1}

	states := [][]int{
		{1, 1, 1, 1},
		{0, 0, 0, 0}, // Violates
		{0, 1, 0, 1},
	}
	if lp := CommitmentLogP(q, pi, mask, states); !math.IsInf(lp, -1) {
		t.Errorf("One violating customer must make the total -Inf, got %v", lp)
	}
}

// Direct enumeration for K=2, T=3 against the closed form.
func TestCommitmentLogP_Enumeration(t *testing.T) {
	q := []float64{0.25, 0.75}
	pi := []float64{
		0.9, 0.1,
		0.35, 0.65,
	}
	mask := []int{1, 0} // Only period 1 is flagged

	var total float64
	for s0 := 0; s0 < 2; s0++ {
		for s1 := 0; s1 < 2; s1++ {
			for s2 := 0; s2 < 2; s2++ {
				seq := []int{s0, s1, s2}
				got := CustomerCommitmentLogP(q, pi, mask, seq)
				if s1 == 0 {
					if !math.IsInf(got, -1) {
						t.Errorf("%v: expected -Inf, got %v", seq, got)
					}
					continue
				}
				want := math.Log(q[s0] * pi[s0*2+s1] * pi[s1*2+s2])
				if math.Abs(got-want) > 1e-12 {
					t.Errorf("%v: got %.12f, want %.12f", seq, got, want)
				}
				total += math.Exp(got)
			}
		}
	}

	// Feasible mass is P(s1 = 1).
	want := q[0]*pi[1] + q[1]*pi[3]
	if math.Abs(total-want) > 1e-12 {
		t.Errorf("Feasible mass = %.12f, want %.12f", total, want)
	}
	t.Logf("✓ Enumeration matches closed form, feasible mass %.4f", total)
}

func TestCommitmentLogP_OutOfRangeState(t *testing.T) {
	q := []float64{0.5, 0.5}
	pi := []float64{0.5, 0.5, 0.5, 0.5}
	for _, seq := range [][]int{{0, 2, 1}, {-1, 1, 1}} {
		if lp := CustomerCommitmentLogP(q, pi, []int{0, 0}, seq); !math.IsInf(lp, -1) {
			t.Errorf("%v: expected -Inf, got %v", seq, lp)
		}
	}
}

// The local weights must reproduce differences of the full log-probability.
func TestCommitmentWeights_MatchFullDensity(t *testing.T) {
	q := []float64{0.2, 0.5, 0.3}
	pi := []float64{
		0.6, 0.3, 0.1,
		0.2, 0.5, 0.3,
		0.1, 0.2, 0.7,
	}
	logQ, logPI := make([]float64, 3), make([]float64, 9)
	logTables(q, pi, logQ, logPI)

	mask := RenewalMask(6, 3) // [0 1 0 0 1]
	seqs := [][]int{
		{0, 0, 1, 0, 0, 0}, // Single active flagged period
		{2, 1, 1, 0, 0, 2},
		{0, 0, 0, 0, 0, 1},
		{1, 2, 2, 2, 1, 0},
	}

	w := make([]float64, 3)
	for _, base := range seqs {
		for pos := range base {
			seq := append([]int(nil), base...)
			cur := seq[pos]
			ref := CustomerCommitmentLogP(q, pi, mask, seq)
			commitmentWeights(logQ, logPI, mask, seq, pos, activeRenewals(mask, seq), w)

			for j := 0; j < 3; j++ {
				seq[pos] = j
				full := CustomerCommitmentLogP(q, pi, mask, seq)
				seq[pos] = cur

				if math.IsInf(full, -1) != math.IsInf(w[j], -1) {
					t.Fatalf("%v pos %d value %d: weight %v vs full %v", base, pos, j, w[j], full)
				}
				if math.IsInf(full, -1) {
					continue
				}
				if d := (w[j] - w[cur]) - (full - ref); math.Abs(d) > 1e-12 {
					t.Errorf("%v pos %d value %d: difference off by %g", base, pos, j, d)
				}
			}
		}
	}
}
