// Package commitfit fits a Bayesian hierarchical model of customer commitment
// and usage to panel data by Markov chain Monte Carlo.
//
// # Overview
//
// Each customer i moves through K latent commitment states over T periods.
// The states follow a Markov chain with initial distribution Q and transition
// matrix PI. At renewal periods (every R periods) at least one flagged state
// must be non-zero: a customer never lapses to state 0 across a whole renewal
// set. Observed counts are Poisson with rate A[i]·theta[state], where A[i] is a
// Gamma(r, r) multiplier and theta is a non-decreasing rate ladder built from
// a baseline th0 and log increments G.
//
// # Architecture
//
// The package components:
//
//   - commitment  - Latent state log-likelihood and renewal constraint
//   - usage       - Rate ladder, rate matrix and Poisson log-likelihood
//   - model       - Validated data, priors and the joint log-posterior
//   - map         - MAP search used to seed the chains
//   - chain       - Metropolis and Gibbs kernels of one chain
//   - sampler     - Phase machine running parallel chains
//   - trace       - Posterior draws, summaries, R-hat and ESS
//   - simulate    - Synthetic panels from known parameters
//   - assertions  - Test helpers for posterior checks
//
// # Quick Start
//
//	m, err := commitfit.NewModel(usage, commitfit.DefaultModelConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg := commitfit.DefaultConfig()
//	cfg.Chains = 4
//	s, err := commitfit.NewSampler(m, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	trace, err := s.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stats, _ := trace.Summarize("r", "th0")
//	for _, st := range stats {
//	    fmt.Printf("%s: %.3f ± %.3f (R-hat %.3f)\n", st.Name, st.Mean, st.SD, st.RHat)
//	}
//
// # Inference
//
// A run passes through four phases:
//
//	Initializing → Optimizing → Sampling → Finalized
//
// Optimizing finds a MAP point with A integrated out (the Gamma-Poisson
// marginal is negative binomial), alternating Nelder-Mead over the global
// parameters with iterated conditional modes over the states. Sampling runs
// independent chains from that point. Each iteration applies adaptive
// random-walk Metropolis to each parameter block in unconstrained space, then
// resamples every state from its exact categorical full conditional.
//
// # Failure Semantics
//
// A log-density of -Inf is an ordinary rejection. NaN anywhere aborts the run
// with ErrNumericalInstability. A MAP search that does not converge aborts
// with ErrOptimization before any chain starts.
package commitfit
