package commitfit

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// maxRedraws bounds how often one customer's trajectory is redrawn to meet
// the renewal constraint.
const maxRedraws = 1000

// Simulation is a synthetic panel drawn from known parameters.
type Simulation struct {
	Usage  [][]int
	States States
	A      []float64
}

// Simulate draws n customers over t periods from the generative model.
// When p.A has length n it is used as is, otherwise multipliers are drawn
// from Gamma(r, r). Trajectories are drawn from Q and PI and redrawn until
// they satisfy the renewal constraint of mask.
func Simulate(src rand.Source, p Params, n, t int, mask []int) (Simulation, error) {
	k := p.NumStates()
	switch {
	case k < 2:
		return Simulation{}, fmt.Errorf("%w: need at least 2 states", ErrInvalidConfig)
	case n < 1 || t < 1:
		return Simulation{}, fmt.Errorf("%w: need at least one customer and one period", ErrInvalidConfig)
	case len(mask) != t-1:
		return Simulation{}, fmt.Errorf("%w: mask has length %d, want %d", ErrInvalidConfig, len(mask), t-1)
	}
	a := p.A
	if len(a) != n {
		a = make([]float64, n)
		het := distuv.Gamma{Alpha: p.R, Beta: p.R, Src: src}
		for i := range a {
			a[i] = het.Rand()
		}
	}
	check := p.Clone()
	check.A = a
	if err := check.Validate(k, n); err != nil {
		return Simulation{}, err
	}

	initial := distuv.NewCategorical(p.Q, src)
	rows := make([]distuv.Categorical, k)
	for j := range rows {
		rows[j] = distuv.NewCategorical(p.Row(j), src)
	}
	theta := p.Theta()

	sim := Simulation{
		Usage:  make([][]int, n),
		States: make(States, n),
		A:      a,
	}
	for i := 0; i < n; i++ {
		seq := make([]int, t)
		for try := 0; ; try++ {
			if try == maxRedraws {
				return Simulation{}, fmt.Errorf("%w: customer %d: no trajectory met the renewal constraint in %d draws", ErrInvalidConfig, i, maxRedraws)
			}
			seq[0] = int(initial.Rand())
			for s := 1; s < t; s++ {
				seq[s] = int(rows[seq[s-1]].Rand())
			}
			if renewalSatisfied(mask, seq) {
				break
			}
		}

		usage := make([]int, t)
		for s, state := range seq {
			usage[s] = int(distuv.Poisson{Lambda: a[i] * theta[state], Src: src}.Rand())
		}
		sim.States[i] = seq
		sim.Usage[i] = usage
	}
	return sim, nil
}
