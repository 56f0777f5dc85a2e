package sarima

import (
	"fmt"
	"math"

	"EpiCast/internal/domain/models"
)

// MSE is the mean squared error between actual and predicted.
func MSE(actual, pred []float64) float64 {
	var s float64
	for i := range actual {
		d := actual[i] - pred[i]
		s += d * d
	}
	return s / float64(len(actual))
}

// MAE is the mean absolute error between actual and predicted.
func MAE(actual, pred []float64) float64 {
	var s float64
	for i := range actual {
		s += math.Abs(actual[i] - pred[i])
	}
	return s / float64(len(actual))
}

// R2 is the coefficient of determination. A constant actual series scores 1
// for a perfect prediction and 0 otherwise.
func R2(actual, pred []float64) float64 {
	var mean float64
	for _, v := range actual {
		mean += v
	}
	mean /= float64(len(actual))
	var ssRes, ssTot float64
	for i := range actual {
		d := actual[i] - pred[i]
		ssRes += d * d
		t := actual[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// Evaluate scores a forecast against held-out actuals.
func Evaluate(actual, pred []float64) (models.EvalMetrics, error) {
	if len(actual) == 0 || len(actual) != len(pred) {
		return models.EvalMetrics{}, fmt.Errorf("sarima: evaluate %d actuals against %d predictions", len(actual), len(pred))
	}
	return models.EvalMetrics{MSE: MSE(actual, pred), MAE: MAE(actual, pred), R2: R2(actual, pred)}, nil
}
