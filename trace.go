package commitfit

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Sample is one recorded draw: every parameter and every latent state.
type Sample struct {
	Params
	States States
}

// ChainTrace holds the post-tuning draws of one chain.
type ChainTrace struct {
	Chain      int
	Seed       uint64
	Samples    []Sample
	Acceptance map[string]float64 // Post-tuning acceptance rate per block
}

// Trace is the posterior sample of a run.
type Trace struct {
	NumStates int
	MAP       MAPResult
	Chains    []ChainTrace
}

// Draws returns the number of recorded draws per chain (of the first chain).
func (t *Trace) Draws() int {
	if len(t.Chains) == 0 {
		return 0
	}
	return len(t.Chains[0].Samples)
}

// Names lists every scalar parameter in a stable order:
// r, th0, Q[k], PI[j,k], G[k], A[i].
func (t *Trace) Names() []string {
	k := t.NumStates
	var n int
	if len(t.Chains) > 0 && len(t.Chains[0].Samples) > 0 {
		n = len(t.Chains[0].Samples[0].A)
	}

	names := []string{"r", "th0"}
	for j := 0; j < k; j++ {
		names = append(names, fmt.Sprintf("Q[%d]", j))
	}
	for j := 0; j < k; j++ {
		for l := 0; l < k; l++ {
			names = append(names, fmt.Sprintf("PI[%d,%d]", j, l))
		}
	}
	for j := 0; j < k-1; j++ {
		names = append(names, fmt.Sprintf("G[%d]", j))
	}
	for i := 0; i < n; i++ {
		names = append(names, fmt.Sprintf("A[%d]", i))
	}
	return names
}

// Scalar returns the per-chain series of the named scalar parameter.
func (t *Trace) Scalar(name string) ([][]float64, error) {
	get, err := scalarGetter(name, t.NumStates)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(t.Chains))
	for c, ch := range t.Chains {
		series := make([]float64, len(ch.Samples))
		for d := range ch.Samples {
			v, ok := get(&ch.Samples[d].Params)
			if !ok {
				return nil, fmt.Errorf("parameter %q out of range", name)
			}
			series[d] = v
		}
		out[c] = series
	}
	return out, nil
}

func scalarGetter(name string, k int) (func(*Params) (float64, bool), error) {
	switch name {
	case "r":
		return func(p *Params) (float64, bool) { return p.R, true }, nil
	case "th0":
		return func(p *Params) (float64, bool) { return p.Th0, true }, nil
	}

	base, idx, ok := strings.Cut(strings.TrimSuffix(name, "]"), "[")
	if !ok || !strings.HasSuffix(name, "]") {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	parts := strings.Split(idx, ",")
	ints := make([]int, len(parts))
	for j, s := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || v < 0 {
			return nil, fmt.Errorf("bad index in %q", name)
		}
		ints[j] = v
	}

	at := func(v []float64, i int) (float64, bool) {
		if i >= len(v) {
			return 0, false
		}
		return v[i], true
	}
	switch {
	case base == "Q" && len(ints) == 1:
		return func(p *Params) (float64, bool) { return at(p.Q, ints[0]) }, nil
	case base == "G" && len(ints) == 1:
		return func(p *Params) (float64, bool) { return at(p.G, ints[0]) }, nil
	case base == "A" && len(ints) == 1:
		return func(p *Params) (float64, bool) { return at(p.A, ints[0]) }, nil
	case base == "PI" && len(ints) == 2:
		if ints[0] >= k || ints[1] >= k {
			return nil, fmt.Errorf("index out of range in %q", name)
		}
		return func(p *Params) (float64, bool) { return at(p.PI, ints[0]*k+ints[1]) }, nil
	}
	return nil, fmt.Errorf("unknown parameter %q", name)
}

// Stat summarizes the pooled posterior of one scalar parameter.
type Stat struct {
	Name   string
	Mean   float64
	SD     float64
	Q05    float64
	Median float64
	Q95    float64
	RHat   float64 // NaN with fewer than two chains
	ESS    float64 // Effective sample size across chains
}

// Summarize returns a Stat per name, or for every scalar when names is empty.
func (t *Trace) Summarize(names ...string) ([]Stat, error) {
	if len(names) == 0 {
		names = t.Names()
	}
	out := make([]Stat, 0, len(names))
	for _, name := range names {
		series, err := t.Scalar(name)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(name, series))
	}
	return out, nil
}

func summarize(name string, series [][]float64) Stat {
	var pooled []float64
	for _, s := range series {
		pooled = append(pooled, s...)
	}
	st := Stat{Name: name, RHat: RHat(series), ESS: ESS(series)}
	if len(pooled) == 0 {
		st.Mean, st.SD, st.Q05, st.Median, st.Q95 = math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()
		return st
	}
	st.Mean, st.SD = stat.MeanStdDev(pooled, nil)
	slices.Sort(pooled)
	st.Q05 = stat.Quantile(0.05, stat.Empirical, pooled, nil)
	st.Median = stat.Quantile(0.5, stat.Empirical, pooled, nil)
	st.Q95 = stat.Quantile(0.95, stat.Empirical, pooled, nil)
	return st
}

// RHat is the Gelman-Rubin potential scale reduction factor of equal-length
// chains. It returns NaN for fewer than two chains or two draws.
func RHat(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 {
		return math.NaN()
	}
	n := len(chains[0])
	if n < 2 {
		return math.NaN()
	}

	means := make([]float64, m)
	var within float64
	for c, s := range chains {
		if len(s) != n {
			return math.NaN()
		}
		means[c] = stat.Mean(s, nil)
		within += stat.Variance(s, nil)
	}
	within /= float64(m)
	between := float64(n) * stat.Variance(means, nil)
	if within == 0 {
		if between == 0 {
			return 1
		}
		return math.Inf(1)
	}
	pooled := float64(n-1)/float64(n)*within + between/float64(n)
	return math.Sqrt(pooled / within)
}

// ESS estimates the effective sample size of equal-length chains from their
// combined autocorrelation, truncated at the first non-positive pair of lags
// and kept monotone. It returns NaN for fewer than four draws or a constant
// series.
func ESS(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return math.NaN()
	}
	n := len(chains[0])
	if n < 4 {
		return math.NaN()
	}

	means := make([]float64, m)
	var within float64
	for c, s := range chains {
		if len(s) != n {
			return math.NaN()
		}
		means[c] = stat.Mean(s, nil)
		within += stat.Variance(s, nil)
	}
	within /= float64(m)
	varPlus := within * float64(n-1) / float64(n)
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if varPlus == 0 {
		return math.NaN()
	}

	// rho is the combined autocorrelation at lag.
	rho := func(lag int) float64 {
		var acov float64
		for c, s := range chains {
			mu := means[c]
			var sum float64
			for t := 0; t+lag < n; t++ {
				sum += (s[t] - mu) * (s[t+lag] - mu)
			}
			acov += sum / float64(n)
		}
		acov /= float64(m)
		return 1 - (within-acov)/varPlus
	}

	tau := -1.0
	prev := math.Inf(1)
	for lag := 0; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair <= 0 {
			break
		}
		pair = min(pair, prev)
		prev = pair
		tau += 2 * pair
	}
	if tau <= 0 {
		return float64(m * n)
	}
	return float64(m*n) / tau
}
