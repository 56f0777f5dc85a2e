package usecase

import (
	"EpiCast/internal/domain/models"
	"EpiCast/pkg/util"
)

// Window is a held-out suffix of a series: the last Months calendar months,
// or the last Periods observations when Periods > 0.
type Window struct {
	Months  int
	Periods int
}

// validationSplit separates a tuning series into points strictly before the
// cutoff and the validation points on or after it.
func (w Window) validationSplit(s models.Series) (train, valid models.Series) {
	if w.Periods > 0 {
		return s.SplitLast(w.Periods)
	}
	cutoff := util.AddMonthsClamped(s.LastDate(), -w.Months)
	return s.SplitAt(cutoff, false)
}

// testSplit separates a training series into points on or before the cutoff
// and the test points after it.
func (w Window) testSplit(s models.Series) (train, test models.Series) {
	if w.Periods > 0 {
		return s.SplitLast(w.Periods)
	}
	cutoff := util.AddMonthsClamped(s.LastDate(), -w.Months)
	return s.SplitAt(cutoff, true)
}
