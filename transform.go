package commitfit

import "math"

// layout maps Params to an unconstrained vector and back.
//
// Simplexes use the additive log-ratio against their last entry, positive
// scalars their logarithm, th0 a scaled logit on (0, upper), and G is left
// as is. With n = 0 the vector covers only the global parameters and A is
// never touched.
//
//	[ Q (K-1) | PI rows (K·(K-1)) | log r | log A (n) | logit th0 | G (K-1) ]
type layout struct {
	k, n  int
	upper float64
}

func (l layout) piOff(row int) int { return (l.k - 1) * (1 + row) }
func (l layout) rOff() int         { return (l.k - 1) * (l.k + 1) }
func (l layout) aOff() int         { return l.rOff() + 1 }
func (l layout) th0Off() int       { return l.aOff() + l.n }
func (l layout) gOff() int         { return l.th0Off() + 1 }
func (l layout) size() int         { return l.gOff() + l.k - 1 }

// pack writes the unconstrained image of p into x.
func (l layout) pack(p *Params, x []float64) {
	simplexToRatios(p.Q, x[:l.k-1])
	for row := 0; row < l.k; row++ {
		off := l.piOff(row)
		simplexToRatios(p.Row(row), x[off:off+l.k-1])
	}
	x[l.rOff()] = math.Log(p.R)
	for i := 0; i < l.n; i++ {
		x[l.aOff()+i] = math.Log(p.A[i])
	}
	u := p.Th0 / l.upper
	x[l.th0Off()] = math.Log(u) - math.Log1p(-u)
	copy(x[l.gOff():], p.G)
}

// unpack writes the constrained image of x into p and returns the
// log-Jacobian of the inverse transform.
func (l layout) unpack(x []float64, p *Params) float64 {
	logJac := ratiosToSimplex(x[:l.k-1], p.Q)
	for row := 0; row < l.k; row++ {
		off := l.piOff(row)
		logJac += ratiosToSimplex(x[off:off+l.k-1], p.Row(row))
	}

	p.R = math.Exp(x[l.rOff()])
	logJac += x[l.rOff()]
	for i := 0; i < l.n; i++ {
		z := x[l.aOff()+i]
		p.A[i] = math.Exp(z)
		logJac += z
	}

	z := x[l.th0Off()]
	ls, l1s := logSigmoid(z), logSigmoid(-z)
	p.Th0 = l.upper * math.Exp(ls)
	logJac += math.Log(l.upper) + ls + l1s

	copy(p.G, x[l.gOff():l.gOff()+l.k-1])
	return logJac
}

// simplexToRatios writes z[j] = log(p[j]/p[K-1]).
func simplexToRatios(p, z []float64) {
	last := math.Log(p[len(p)-1])
	for j := range z {
		z[j] = math.Log(p[j]) - last
	}
}

// ratiosToSimplex inverts simplexToRatios and returns the log-Jacobian,
// which for the additive log-ratio is Σ_j log p[j] over all K entries.
func ratiosToSimplex(z, p []float64) float64 {
	m := 0.0
	for _, v := range z {
		if v > m {
			m = v
		}
	}
	k := len(p)
	sum := math.Exp(-m)
	p[k-1] = sum
	for j, v := range z {
		p[j] = math.Exp(v - m)
		sum += p[j]
	}

	var logJac float64
	logSum := math.Log(sum)
	for j := range p {
		p[j] /= sum
		if j < k-1 {
			logJac += z[j] - m - logSum
		} else {
			logJac += -m - logSum
		}
	}
	return logJac
}

// logSigmoid returns log(1/(1+exp(-x))) without overflow.
func logSigmoid(x float64) float64 {
	if x >= 0 {
		return -math.Log1p(math.Exp(-x))
	}
	return x - math.Log1p(math.Exp(x))
}
