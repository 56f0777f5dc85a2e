package sarima

// Lag polynomials are stored by power of the backshift operator B: c[i] is the
// coefficient of B^i.

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		if x == 0 {
			continue
		}
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// diffPoly builds (1-B)^d (1-B^s)^D.
func diffPoly(d, sd, s int) []float64 {
	c := []float64{1}
	for i := 0; i < d; i++ {
		c = polyMul(c, []float64{1, -1})
	}
	if s > 0 {
		seasonal := make([]float64, s+1)
		seasonal[0], seasonal[s] = 1, -1
		for i := 0; i < sd; i++ {
			c = polyMul(c, seasonal)
		}
	}
	return c
}

// arLags expands (1 - sum phi_i B^i)(1 - sum Phi_j B^{sj}) and returns the
// right-hand coefficients a_k so that the AR part reads w_t = sum a_k w_{t-k}.
func arLags(phi, sphi []float64, s int) []float64 {
	ns := []float64{1}
	for _, v := range phi {
		ns = append(ns, -v)
	}
	ss := make([]float64, len(sphi)*s+1)
	ss[0] = 1
	for j, v := range sphi {
		ss[(j+1)*s] = -v
	}
	p := polyMul(ns, ss)
	for i := range p {
		p[i] = -p[i]
	}
	p[0] = 0
	return p
}

// maLags expands (1 + sum theta_i B^i)(1 + sum Theta_j B^{sj}).
func maLags(theta, stheta []float64, s int) []float64 {
	ns := append([]float64{1}, theta...)
	ss := make([]float64, len(stheta)*s+1)
	ss[0] = 1
	for j, v := range stheta {
		ss[(j+1)*s] = v
	}
	p := polyMul(ns, ss)
	p[0] = 0
	return p
}

// lag is a sparse non-zero polynomial term.
type lag struct {
	k    int
	coef float64
}

func sparse(c []float64) []lag {
	var out []lag
	for k := 1; k < len(c); k++ {
		if c[k] != 0 {
			out = append(out, lag{k: k, coef: c[k]})
		}
	}
	return out
}

// difference applies the differencing polynomial c to y. The result is
// len(y)-len(c)+1 long; w[0] corresponds to y[len(c)-1].
func difference(y, c []float64) []float64 {
	off := len(c) - 1
	if len(y) <= off {
		return nil
	}
	w := make([]float64, len(y)-off)
	for t := off; t < len(y); t++ {
		var v float64
		for i, ci := range c {
			v += ci * y[t-i]
		}
		w[t-off] = v
	}
	return w
}

// integrate inverts difference for values of w that follow the end of hist.
func integrate(hist, future, c []float64) []float64 {
	full := make([]float64, len(hist), len(hist)+len(future))
	copy(full, hist)
	for _, wt := range future {
		v := wt
		t := len(full)
		for i := 1; i < len(c); i++ {
			v -= c[i] * full[t-i]
		}
		full = append(full, v)
	}
	return full[len(hist):]
}
