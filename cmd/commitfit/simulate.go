package main

import (
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"github.com/alexshd/commitfit"
	"github.com/alexshd/commitfit/internal/panel"
)

type simulateOptions struct {
	customers  int
	periods    int
	renewal    int
	rates      []float64
	stickiness float64
	shape      float64
	seed       uint64
	outFile    string
}

func newSimulateCmd(_ *globalOptions) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic usage panel drawn from known parameters",
		Long: `Draw a synthetic usage panel from the generative model.

--rates sets the per-state usage rates, which must be strictly increasing;
their count is the number of states. Every state starts with equal
probability and stays put with probability --stickiness each month.`,
		Example: `  commitfit simulate --customers 500 --periods 24 --renewal 12 --file synthetic.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := opts.params()
			if err != nil {
				return err
			}
			sim, err := commitfit.Simulate(rand.NewPCG(opts.seed, 0), params,
				opts.customers, opts.periods, commitfit.RenewalMask(opts.periods, opts.renewal))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.outFile != "" {
				f, err := os.Create(opts.outFile)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeSimulation(w, sim)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.customers, "customers", 200, "number of customers")
	f.IntVar(&opts.periods, "periods", 24, "number of months")
	f.IntVar(&opts.renewal, "renewal", 3, "renewal period in months")
	f.Float64SliceVar(&opts.rates, "rates", []float64{0.5, 4, 12}, "per-state usage rates, increasing")
	f.Float64Var(&opts.stickiness, "stickiness", 0.8, "probability of keeping the state each month")
	f.Float64Var(&opts.shape, "shape", 8, "heterogeneity shape r; multipliers are Gamma(r, r)")
	f.Uint64Var(&opts.seed, "seed", 1, "random seed")
	f.StringVarP(&opts.outFile, "file", "f", "", "output CSV (default stdout)")

	return cmd
}

// params builds generating parameters from the flags.
func (o *simulateOptions) params() (commitfit.Params, error) {
	k := len(o.rates)
	if k < 2 {
		return commitfit.Params{}, fmt.Errorf("%w: need at least 2 rates", commitfit.ErrInvalidConfig)
	}
	if o.stickiness <= 0 || o.stickiness >= 1 {
		return commitfit.Params{}, fmt.Errorf("%w: stickiness must be in (0, 1)", commitfit.ErrInvalidConfig)
	}
	if o.renewal < 1 || o.periods%o.renewal != 0 {
		return commitfit.Params{}, fmt.Errorf("%w: renewal period %d does not divide %d periods",
			commitfit.ErrInvalidConfig, o.renewal, o.periods)
	}

	p := commitfit.Params{
		Q:   make([]float64, k),
		PI:  make([]float64, k*k),
		R:   o.shape,
		Th0: o.rates[0],
		G:   make([]float64, k-1),
	}
	move := (1 - o.stickiness) / float64(k-1)
	for j := range k {
		p.Q[j] = 1 / float64(k)
		for l := range k {
			p.PI[j*k+l] = move
		}
		p.PI[j*k+j] = o.stickiness
	}
	for j := 1; j < k; j++ {
		step := o.rates[j] - o.rates[j-1]
		if step <= 0 {
			return commitfit.Params{}, fmt.Errorf("%w: rates must increase strictly", commitfit.ErrInvalidConfig)
		}
		p.G[j-1] = math.Log(step)
	}
	return p, nil
}

func writeSimulation(w io.Writer, sim commitfit.Simulation) error {
	p := &panel.Panel{Usage: sim.Usage}
	for j := range len(sim.Usage[0]) {
		p.Periods = append(p.Periods, fmt.Sprintf("m%02d", j+1))
	}
	return panel.Write(w, p)
}
