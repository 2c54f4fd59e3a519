package commitfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RateLadder builds the per-state base rates from the baseline and offsets:
//
//	theta[0] = th0
//	theta[k] = th0 + Σ_{j<k} exp(g[j])
//
// Every increment is positive, so the ladder is non-decreasing and higher
// commitment states never have lower base rates.
func RateLadder(th0 float64, g []float64) []float64 {
	theta := make([]float64, len(g)+1)
	fillRateLadder(th0, g, theta)
	return theta
}

func fillRateLadder(th0 float64, g, theta []float64) {
	theta[0] = th0
	for j, gj := range g {
		theta[j+1] = theta[j] + math.Exp(gj)
	}
}

// RateMatrix returns Lambda = a ⊗ theta, so Lambda[i,k] = a[i]·theta[k].
func RateMatrix(a, theta []float64) *mat.Dense {
	lambda := mat.NewDense(len(a), len(theta), nil)
	lambda.Outer(1, mat.NewVecDense(len(a), a), mat.NewVecDense(len(theta), theta))
	return lambda
}

// UsageLogP returns log P(usage | A, th0, G, states): the sum over customers
// and periods of the Poisson log-pmf at rate Lambda[i, states[i][t]].
func UsageLogP(a []float64, th0 float64, g []float64, states, usage [][]int) float64 {
	if len(usage) == 0 {
		return 0
	}
	theta := RateLadder(th0, g)
	lambda := RateMatrix(a, theta)
	k := len(theta)

	var total float64
	for i, row := range usage {
		for t, y := range row {
			s := states[i][t]
			if s < 0 || s >= k {
				return math.Inf(-1)
			}
			total += poissonLogPMF(y, lambda.At(i, s))
		}
	}
	return total
}

// poissonLogPMF is log Poisson(y; mu). A zero rate puts all mass on zero,
// so y > 0 at mu = 0 is -Inf. NaN rates stay NaN.
func poissonLogPMF(y int, mu float64) float64 {
	switch {
	case y < 0 || mu < 0:
		return math.Inf(-1)
	case mu == 0:
		if y == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: mu}.LogProb(float64(y))
}

// xlogy returns y·log(x), with 0·log(0) = 0.
func xlogy(y int, x float64) float64 {
	if y == 0 {
		return 0
	}
	return float64(y) * math.Log(x)
}
