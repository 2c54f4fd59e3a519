package commitfit

import "math"

// stateStats holds sufficient statistics of a state configuration. Given the
// states, the commitment term depends on Q and PI only through initial and
// transit, and the usage term on theta only through periods and volume.
type stateStats struct {
	k       int
	initial []float64 // Customers starting in state k
	transit []float64 // Transitions j→k, row-major
	periods []float64 // N×K periods spent in each state
	volume  []float64 // N×K usage accumulated in each state
	active  []int     // Non-zero flagged states per customer
}

func newStateStats(m *Model, states States) *stateStats {
	k := m.K
	st := &stateStats{
		k:       k,
		initial: make([]float64, k),
		transit: make([]float64, k*k),
		periods: make([]float64, m.N*k),
		volume:  make([]float64, m.N*k),
		active:  make([]int, m.N),
	}
	for i, seq := range states {
		st.initial[seq[0]]++
		for t, s := range seq {
			if t > 0 {
				st.transit[seq[t-1]*k+s]++
			}
			st.periods[i*k+s]++
			st.volume[i*k+s] += float64(m.Usage[i][t])
		}
		st.active[i] = activeRenewals(m.Mask, seq)
	}
	return st
}

// move sets states[i][t] = to and updates the statistics.
func (st *stateStats) move(m *Model, states States, i, t, to int) {
	k := st.k
	seq := states[i]
	from := seq[t]
	if from == to {
		return
	}
	obs := float64(m.Usage[i][t])

	if t == 0 {
		st.initial[from]--
		st.initial[to]++
	} else {
		st.transit[seq[t-1]*k+from]--
		st.transit[seq[t-1]*k+to]++
		if m.Mask[t-1] != 0 {
			st.active[i] += boolInt(to != 0) - boolInt(from != 0)
		}
	}
	if t < len(seq)-1 {
		st.transit[from*k+seq[t+1]]--
		st.transit[to*k+seq[t+1]]++
	}
	st.periods[i*k+from]--
	st.periods[i*k+to]++
	st.volume[i*k+from] -= obs
	st.volume[i*k+to] += obs
	seq[t] = to
}

// exposure returns Σ_t theta[s_it] for customer i.
func (st *stateStats) exposure(i int, theta []float64) float64 {
	var sum float64
	for s, th := range theta {
		sum += st.periods[i*st.k+s] * th
	}
	return sum
}

// commitmentLogP is CommitmentLogP for the tracked (feasible) states.
func (st *stateStats) commitmentLogP(q, pi []float64) float64 {
	var lp float64
	for j, c := range st.initial {
		lp += countLog(c, q[j])
	}
	for j, c := range st.transit {
		lp += countLog(c, pi[j])
	}
	return lp
}

// usageKernel is the part of UsageLogP that depends on theta:
// Σ_i Σ_k volume_ik·log theta_k - A_i·periods_ik·theta_k.
func (st *stateStats) usageKernel(a, theta []float64) float64 {
	var lp float64
	for i, ai := range a {
		for s, th := range theta {
			lp += countLog(st.volume[i*st.k+s], th) - ai*st.periods[i*st.k+s]*th
		}
	}
	return lp
}

// countLog returns c·log(p), with 0·log(0) = 0.
func countLog(c, p float64) float64 {
	if c == 0 {
		return 0
	}
	return c * math.Log(p)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
