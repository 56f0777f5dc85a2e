package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in metadata and forecast rows.
const DateLayout = "2006-01-02"

// Hyperparameters is the structural order (p,d,q)(P,D,Q,s) of a seasonal ARIMA model.
type Hyperparameters struct {
	P         int `json:"p"`
	D         int `json:"d"`
	Q         int `json:"q"`
	SeasonalP int `json:"P"`
	SeasonalD int `json:"D"`
	SeasonalQ int `json:"Q"`
	S         int `json:"s"`
}

// Order renders the non-seasonal order as logged in the parameters table.
func (h Hyperparameters) Order() string {
	return fmt.Sprintf("(%d, %d, %d)", h.P, h.D, h.Q)
}

// SeasonalOrder renders the seasonal order as logged in the parameters table.
func (h Hyperparameters) SeasonalOrder() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", h.SeasonalP, h.SeasonalD, h.SeasonalQ, h.S)
}

func (h Hyperparameters) String() string {
	return "SARIMA" + h.Order() + h.SeasonalOrder()
}

// EvalMetrics holds forecast accuracy against held-out actuals.
type EvalMetrics struct {
	MSE float64 `json:"mse"`
	MAE float64 `json:"mae"`
	R2  float64 `json:"r2"`
}

// Predictor is the fitted state of a forecasting model. Forecast continues the
// model's own step index: step 1 is the period right after the last fitted point.
type Predictor interface {
	Forecast(steps int) ([]float64, error)
	MarshalBinary() ([]byte, error)
}

// TrainedModel is the immutable result of one training run.
type TrainedModel struct {
	ModelID         string
	DiseaseCode     string
	Hyperparameters Hyperparameters
	Model           Predictor
	Metrics         EvalMetrics
	TrainingEndDate time.Time
	NumObservations int
	CreatedAt       time.Time
}

// Metadata builds the sidecar record stored next to the artifact.
func (m *TrainedModel) Metadata() ModelMetadata {
	return ModelMetadata{
		LastTrainingDate: m.TrainingEndDate.Format(DateLayout),
		ModelID:          m.ModelID,
		DiseaseCode:      m.DiseaseCode,
	}
}

// ModelMetadata bridges the model's internal step index and calendar time.
type ModelMetadata struct {
	LastTrainingDate string `json:"last_training_date"`
	ModelID          string `json:"model_id"`
	DiseaseCode      string `json:"disease_code"`
}

// TrainingEnd parses LastTrainingDate.
func (m ModelMetadata) TrainingEnd() (time.Time, error) {
	if m.LastTrainingDate == "" {
		return time.Time{}, ErrMetadataMissing
	}
	t, err := time.Parse(DateLayout, m.LastTrainingDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: last_training_date %q: %v", ErrMetadataMissing, m.LastTrainingDate, err)
	}
	return t, nil
}

// LoadedModel is a registry entry materialised for forecasting.
type LoadedModel struct {
	Metadata ModelMetadata
	Model    Predictor
}

// TuningResult is the persisted outcome of a hyperparameter search.
type TuningResult struct {
	DiseaseCode string          `json:"disease_code"`
	ModelID     string          `json:"model_id"`
	CreatedAt   string          `json:"created_at"`
	BestParams  Hyperparameters `json:"best_params"`
	MSE         float64         `json:"MSE"`
	MAE         float64         `json:"MAE"`
	R2          float64         `json:"R_squared"`
}
