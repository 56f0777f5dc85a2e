package service

import "EpiCast/internal/domain/models"

// Estimator fits a seasonal ARIMA structure to a series and rebuilds fitted
// models from their serialized artifact.
type Estimator interface {
	Fit(y []float64, h models.Hyperparameters) (models.Predictor, error)
	Decode(artifact []byte) (models.Predictor, error)
}
