package commitfit

import (
	"fmt"
	"math"
)

// States holds one latent commitment trajectory per customer.
// States[i][t] is the state of customer i in period t, in [0, K).
type States [][]int

// Clone returns a deep copy.
func (s States) Clone() States {
	out := make(States, len(s))
	for i, seq := range s {
		out[i] = append([]int(nil), seq...)
	}
	return out
}

// Params contains every continuous parameter of the model.
type Params struct {
	Q   []float64 // Initial state distribution (length K)
	PI  []float64 // Transition matrix, row-major K×K; row k is P(next | k)
	R   float64   // Shape and rate of the heterogeneity prior
	A   []float64 // Per-customer rate multipliers (length N)
	Th0 float64   // Baseline rate of state 0
	G   []float64 // Log increments of the rate ladder (length K-1)
}

// NumStates returns K.
func (p *Params) NumStates() int {
	return len(p.Q)
}

// Row returns row k of the transition matrix. The slice aliases p.PI.
func (p *Params) Row(k int) []float64 {
	n := p.NumStates()
	return p.PI[k*n : (k+1)*n]
}

// Theta returns the rate ladder built from Th0 and G.
func (p *Params) Theta() []float64 {
	return RateLadder(p.Th0, p.G)
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	return Params{
		Q:   append([]float64(nil), p.Q...),
		PI:  append([]float64(nil), p.PI...),
		R:   p.R,
		A:   append([]float64(nil), p.A...),
		Th0: p.Th0,
		G:   append([]float64(nil), p.G...),
	}
}

// Validate checks shapes and support constraints for k states and n customers.
func (p *Params) Validate(k, n int) error {
	const tol = 1e-9

	if len(p.Q) != k || len(p.PI) != k*k || len(p.G) != k-1 || len(p.A) != n {
		return fmt.Errorf("%w: parameter shapes do not match K=%d, N=%d", ErrInvalidConfig, k, n)
	}
	if err := checkSimplex("Q", p.Q, tol); err != nil {
		return err
	}
	for row := 0; row < k; row++ {
		if err := checkSimplex(fmt.Sprintf("PI[%d]", row), p.Row(row), tol); err != nil {
			return err
		}
	}
	if !(p.R > 0) || math.IsInf(p.R, 1) {
		return fmt.Errorf("%w: r must be positive and finite, got %v", ErrInvalidConfig, p.R)
	}
	if !(p.Th0 > 0) || math.IsInf(p.Th0, 1) {
		return fmt.Errorf("%w: th0 must be positive and finite, got %v", ErrInvalidConfig, p.Th0)
	}
	for i, a := range p.A {
		if !(a > 0) || math.IsInf(a, 1) {
			return fmt.Errorf("%w: A[%d] must be positive and finite, got %v", ErrInvalidConfig, i, a)
		}
	}
	for j, g := range p.G {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: G[%d] must be finite, got %v", ErrInvalidConfig, j, g)
		}
	}
	return nil
}

func checkSimplex(name string, v []float64, tol float64) error {
	var sum float64
	for j, x := range v {
		if !(x >= 0) {
			return fmt.Errorf("%w: %s[%d] = %v is not a probability", ErrInvalidConfig, name, j, x)
		}
		sum += x
	}
	if math.Abs(sum-1) > tol {
		return fmt.Errorf("%w: %s sums to %v, want 1", ErrInvalidConfig, name, sum)
	}
	return nil
}
