package commitfit

import "math"

// CommitmentLogP returns log P(states | Q, PI, mask) summed over customers.
//
// Each customer contributes
//
//	log Q[s0] + Σ_{t≥1} log PI[s_{t-1}, s_t]
//
// unless its trajectory breaks the renewal constraint, in which case the
// contribution (and therefore the total) is -Inf. pi is row-major K×K.
func CommitmentLogP(q, pi []float64, mask []int, states [][]int) float64 {
	var total float64
	for _, seq := range states {
		total += CustomerCommitmentLogP(q, pi, mask, seq)
	}
	return total
}

// CustomerCommitmentLogP is the contribution of one trajectory.
//
// The renewal constraint requires Σ_t mask[t-1]·seq[t] > 0 over the flagged
// transitions: at least one flagged state must be non-zero. It is checked
// across the whole renewal set, not per boundary. With no flagged
// transitions the constraint holds vacuously.
func CustomerCommitmentLogP(q, pi []float64, mask []int, seq []int) float64 {
	k := len(q)
	if len(seq) == 0 {
		return 0
	}
	for _, s := range seq {
		if s < 0 || s >= k {
			return math.Inf(-1)
		}
	}
	if !renewalSatisfied(mask, seq) {
		return math.Inf(-1)
	}

	lp := math.Log(q[seq[0]])
	for t := 1; t < len(seq); t++ {
		lp += math.Log(pi[seq[t-1]*k+seq[t]])
	}
	return lp
}

func renewalSatisfied(mask []int, seq []int) bool {
	var flagged, dot int
	for t := 1; t < len(seq); t++ {
		if mask[t-1] == 0 {
			continue
		}
		flagged++
		dot += mask[t-1] * seq[t]
	}
	return flagged == 0 || dot > 0
}

// activeRenewals counts the flagged periods of seq holding a non-zero state.
func activeRenewals(mask []int, seq []int) int {
	var n int
	for t := 1; t < len(seq); t++ {
		if mask[t-1] != 0 && seq[t] != 0 {
			n++
		}
	}
	return n
}

// commitmentWeights fills out[j] with the terms of the commitment log-density
// that change when seq[t] is set to j: the entry term (initial or incoming
// transition), the outgoing transition and the renewal constraint.
//
// logQ and logPI are the element-wise logs of Q and PI; active is
// activeRenewals(mask, seq).
func commitmentWeights(logQ, logPI []float64, mask []int, seq []int, t, active int, out []float64) {
	k := len(logQ)
	last := len(seq) - 1
	onBoundary := t >= 1 && mask[t-1] != 0
	if onBoundary && seq[t] != 0 {
		active--
	}

	for j := 0; j < k; j++ {
		var w float64
		if t == 0 {
			w = logQ[j]
		} else {
			w = logPI[seq[t-1]*k+j]
		}
		if t < last {
			w += logPI[j*k+seq[t+1]]
		}
		if onBoundary && active == 0 && j == 0 {
			w = math.Inf(-1)
		}
		out[j] = w
	}
}

// logTables fills logQ and logPI with the element-wise logs of q and pi.
func logTables(q, pi []float64, logQ, logPI []float64) {
	for j, v := range q {
		logQ[j] = math.Log(v)
	}
	for j, v := range pi {
		logPI[j] = math.Log(v)
	}
}
