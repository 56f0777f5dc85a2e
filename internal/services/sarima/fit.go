package sarima

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"EpiCast/internal/domain/models"
	domsvc "EpiCast/internal/domain/service"
)

// penalty replaces non-finite objective values so the simplex moves away from them.
const penalty = 1e300

// Options tune the CSS optimizer.
type Options struct {
	MaxIterations   int
	FuncEvaluations int
	Tolerance       float64
}

// DefaultOptions returns optimizer settings suited to weekly series of a few hundred points.
func DefaultOptions() Options {
	return Options{MaxIterations: 1000, FuncEvaluations: 4000, Tolerance: 1e-8}
}

// Estimator fits SARIMA models with Nelder-Mead over tanh-bounded coefficients.
type Estimator struct {
	opts Options
}

func NewEstimator(opts Options) *Estimator {
	def := DefaultOptions()
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.FuncEvaluations <= 0 {
		opts.FuncEvaluations = def.FuncEvaluations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	return &Estimator{opts: opts}
}

func unpack(x []float64, h models.Hyperparameters) Params {
	take := func(n int) []float64 {
		if n == 0 {
			return nil
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Tanh(x[i])
		}
		x = x[n:]
		return out
	}
	var p Params
	p.AR = take(h.P)
	p.SAR = take(h.SeasonalP)
	p.MA = take(h.Q)
	p.SMA = take(h.SeasonalQ)
	return p
}

// Fit estimates the model on y. The returned predictor continues from the last point of y.
func (e *Estimator) Fit(y []float64, h models.Hyperparameters) (models.Predictor, error) {
	return e.FitModel(y, h)
}

// FitModel is Fit with the concrete model type.
func (e *Estimator) FitModel(y []float64, h models.Hyperparameters) (*Model, error) {
	if err := validateOrder(h); err != nil {
		return nil, err
	}
	k := h.P + h.SeasonalP + h.Q + h.SeasonalQ
	diffLen := h.D + h.SeasonalD*h.S
	arLen := h.P + h.SeasonalP*h.S
	neff := len(y) - diffLen - arLen
	if neff < k+2 || neff < 3 {
		return nil, fmt.Errorf("%w: %d observations, %s needs more than %d", ErrInsufficientData, len(y), h, diffLen+arLen+max(k+1, 2))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("sarima: non-finite observation at %d", i)
		}
	}
	series := append([]float64(nil), y...)
	base := newModel(series, h, Params{})

	if k == 0 {
		base.computeResiduals()
		return base, nil
	}

	objective := func(x []float64) float64 {
		p := unpack(x, h)
		ar := sparse(arLags(p.AR, p.SAR, h.S))
		ma := sparse(maLags(p.MA, p.SMA, h.S))
		_, sse := residuals(base.z, arLen, ar, ma)
		v := sse / float64(neff)
		if math.IsNaN(v) || math.IsInf(v, 0) || v > penalty {
			return penalty
		}
		return v
	}

	settings := &optimize.Settings{
		MajorIterations: e.opts.MaxIterations,
		FuncEvaluations: e.opts.FuncEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   e.opts.Tolerance,
			Relative:   e.opts.Tolerance,
			Iterations: 100,
		},
	}
	x0 := make([]float64, k)
	result, err := optimize.Minimize(optimize.Problem{Func: objective}, x0, settings, &optimize.NelderMead{})
	if result == nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConverged, err)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) || result.F >= penalty {
		return nil, fmt.Errorf("%w: objective %v", ErrNotConverged, result.F)
	}

	m := newModel(series, h, unpack(result.X, h))
	m.computeResiduals()
	return m, nil
}

// Decode rebuilds a model from an artifact produced by Encode.
func (e *Estimator) Decode(artifact []byte) (models.Predictor, error) {
	return Decode(artifact)
}

var _ domsvc.Estimator = (*Estimator)(nil)
