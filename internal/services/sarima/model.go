package sarima

import (
	"errors"
	"fmt"
	"math"

	"EpiCast/internal/domain/models"
)

var (
	ErrInvalidOrder     = errors.New("sarima: invalid order")
	ErrInsufficientData = errors.New("sarima: insufficient data for order")
	ErrNotConverged     = errors.New("sarima: optimizer did not converge")
	ErrBadArtifact      = errors.New("sarima: malformed artifact")
)

// Params are the estimated coefficients of a fitted model.
type Params struct {
	AR  []float64 `json:"ar"`
	SAR []float64 `json:"sar"`
	MA  []float64 `json:"ma"`
	SMA []float64 `json:"sma"`
}

func (p Params) len() int { return len(p.AR) + len(p.SAR) + len(p.MA) + len(p.SMA) }

// Model is a seasonal ARIMA fitted by conditional sum of squares.
type Model struct {
	order  models.Hyperparameters
	params Params
	mean   float64
	sigma2 float64
	y      []float64

	diff []float64
	z    []float64
	res  []float64
	ar   []lag
	ma   []lag
}

func validateOrder(h models.Hyperparameters) error {
	if h.P < 0 || h.D < 0 || h.Q < 0 || h.SeasonalP < 0 || h.SeasonalD < 0 || h.SeasonalQ < 0 || h.S < 0 {
		return fmt.Errorf("%w: negative term in %s", ErrInvalidOrder, h)
	}
	seasonal := h.SeasonalP+h.SeasonalD+h.SeasonalQ > 0
	if seasonal && h.S < 2 {
		return fmt.Errorf("%w: seasonal terms need period >= 2, got %d", ErrInvalidOrder, h.S)
	}
	return nil
}

// newModel prepares the differenced, demeaned series and lag structure for a
// parameter vector. Residuals are computed separately.
func newModel(y []float64, h models.Hyperparameters, p Params) *Model {
	m := &Model{order: h, params: p, y: y}
	m.diff = diffPoly(h.D, h.SeasonalD, h.S)
	w := difference(y, m.diff)
	if h.D+h.SeasonalD == 0 {
		var sum float64
		for _, v := range w {
			sum += v
		}
		if len(w) > 0 {
			m.mean = sum / float64(len(w))
		}
	}
	m.z = make([]float64, len(w))
	for i, v := range w {
		m.z[i] = v - m.mean
	}
	m.ar = sparse(arLags(p.AR, p.SAR, h.S))
	m.ma = sparse(maLags(p.MA, p.SMA, h.S))
	return m
}

func (m *Model) arLen() int { return m.order.P + m.order.SeasonalP*m.order.S }

// residuals runs the CSS recursion. Errors before the first full AR window are zero.
func residuals(z []float64, start int, ar, ma []lag) (e []float64, sse float64) {
	e = make([]float64, len(z))
	for t := start; t < len(z); t++ {
		v := z[t]
		for _, l := range ar {
			v -= l.coef * z[t-l.k]
		}
		for _, l := range ma {
			if t-l.k >= 0 {
				v -= l.coef * e[t-l.k]
			}
		}
		e[t] = v
		sse += v * v
	}
	return e, sse
}

func (m *Model) computeResiduals() {
	start := m.arLen()
	var sse float64
	m.res, sse = residuals(m.z, start, m.ar, m.ma)
	if n := len(m.z) - start; n > 0 {
		m.sigma2 = sse / float64(n)
	}
}

// Order returns the structural order of the model.
func (m *Model) Order() models.Hyperparameters { return m.order }

// Params returns a copy of the estimated coefficients.
func (m *Model) Params() Params {
	return Params{
		AR:  append([]float64(nil), m.params.AR...),
		SAR: append([]float64(nil), m.params.SAR...),
		MA:  append([]float64(nil), m.params.MA...),
		SMA: append([]float64(nil), m.params.SMA...),
	}
}

// Sigma2 is the innovation variance estimate.
func (m *Model) Sigma2() float64 { return m.sigma2 }

// NumObservations is the length of the series the model was fitted on.
func (m *Model) NumObservations() int { return len(m.y) }

// Forecast predicts the next steps values after the last fitted observation.
func (m *Model) Forecast(steps int) ([]float64, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("sarima: steps must be positive, got %d", steps)
	}
	n := len(m.z)
	z := make([]float64, n, n+steps)
	copy(z, m.z)
	e := make([]float64, n+steps)
	copy(e, m.res)
	future := make([]float64, steps)
	for h := 0; h < steps; h++ {
		t := n + h
		var v float64
		for _, l := range m.ar {
			if t-l.k >= 0 {
				v += l.coef * z[t-l.k]
			}
		}
		for _, l := range m.ma {
			if t-l.k >= 0 {
				v += l.coef * e[t-l.k]
			}
		}
		z = append(z, v)
		future[h] = v + m.mean
	}
	out := integrate(m.y, future, m.diff)
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("sarima: non-finite forecast at step %d", i+1)
		}
	}
	return out, nil
}

var _ models.Predictor = (*Model)(nil)
