package commitfit

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestRateLadder_NonDecreasing(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))

	for trial := 0; trial < 1000; trial++ {
		k := 2 + rng.IntN(6)
		g := make([]float64, k-1)
		for j := range g {
			g[j] = 20 * (rng.Float64() - 0.5) // exp spans ~1e-4 to ~2e4
		}
		th0 := 10 * rng.Float64()
		if th0 == 0 {
			continue
		}

		theta := RateLadder(th0, g)
		if len(theta) != k || theta[0] != th0 {
			t.Fatalf("RateLadder(%v, %v) = %v", th0, g, theta)
		}
		for j := 1; j < k; j++ {
			if theta[j] < theta[j-1] {
				t.Fatalf("theta not monotone at %d: %v", j, theta)
			}
		}
	}
	t.Logf("✓ 1000 random ladders non-decreasing")
}

func TestRateLadder_Values(t *testing.T) {
	theta := RateLadder(0.5, []float64{math.Log(3.5), math.Log(8)})
	want := []float64{0.5, 4, 12}
	for j := range want {
		if math.Abs(theta[j]-want[j]) > 1e-12 {
			t.Errorf("theta[%d] = %v, want %v", j, theta[j], want[j])
		}
	}
}

func TestRateMatrix_OuterProduct(t *testing.T) {
	a := []float64{0.3, 1, 2.75, 1e-3}
	theta := []float64{0.1, 0.7, 5}

	lambda := RateMatrix(a, theta)
	r, c := lambda.Dims()
	if r != len(a) || c != len(theta) {
		t.Fatalf("Dims = %d×%d, want %d×%d", r, c, len(a), len(theta))
	}
	for i := range a {
		for k := range theta {
			if got := lambda.At(i, k); got != a[i]*theta[k] {
				t.Errorf("Lambda[%d,%d] = %v, want %v", i, k, got, a[i]*theta[k])
			}
		}
	}
}

func TestPoissonLogPMF(t *testing.T) {
	tests := []struct {
		y    int
		mu   float64
		want float64
	}{
		{0, 0, 0},
		{3, 0, math.Inf(-1)},
		{0, 2.5, -2.5},
		{2, 2.5, 2*math.Log(2.5) - 2.5 - math.Log(2)},
		{-1, 1, math.Inf(-1)},
	}

	for _, tt := range tests {
		got := poissonLogPMF(tt.y, tt.mu)
		if math.IsInf(tt.want, -1) {
			if !math.IsInf(got, -1) {
				t.Errorf("poissonLogPMF(%d, %v) = %v, want -Inf", tt.y, tt.mu, got)
			}
			continue
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("poissonLogPMF(%d, %v) = %v, want %v", tt.y, tt.mu, got, tt.want)
		}
	}

	if got := poissonLogPMF(1, math.NaN()); !math.IsNaN(got) {
		t.Errorf("NaN rate must stay NaN, got %v", got)
	}
}

func TestUsageLogP_ZeroRate(t *testing.T) {
	usage := [][]int{{0, 2}}
	states := [][]int{{0, 1}}
	g := []float64{0}

	// A = 0 makes every rate zero: positive count is impossible.
	if lp := UsageLogP([]float64{0}, 1, g, states, usage); !math.IsInf(lp, -1) {
		t.Errorf("Expected -Inf with zero rate and positive count, got %v", lp)
	}
	lp := UsageLogP([]float64{1.5}, 1, g, states, usage)
	if math.IsInf(lp, 0) || math.IsNaN(lp) {
		t.Errorf("Expected finite log-probability for positive rates, got %v", lp)
	}

	// theta = [1, 2], rates 1.5 and 3.
	want := -1.5 + (2*math.Log(3) - 3 - math.Log(2))
	if math.Abs(lp-want) > 1e-12 {
		t.Errorf("UsageLogP = %v, want %v", lp, want)
	}
}

func TestUsageLogP_Empty(t *testing.T) {
	if lp := UsageLogP(nil, 1, []float64{0}, nil, nil); lp != 0 {
		t.Errorf("Empty panel must contribute 0, got %v", lp)
	}
}
