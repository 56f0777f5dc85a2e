package models

import "time"

// ForecastRecord is one predicted weekly count. Rows are append-only; repeated
// runs are distinguished by InferenceDate only.
type ForecastRecord struct {
	ModelID             string    `json:"model_id"`
	DiseaseCode         string    `json:"disease_code"`
	InferenceDate       time.Time `json:"inference_date"`
	Date                time.Time `json:"date"`
	PredictedOccurrence float64   `json:"predicted_occurrence"`
}

// ForecastPoint is the compact form returned in run summaries.
type ForecastPoint struct {
	Date                string  `json:"date"`
	PredictedOccurrence float64 `json:"predicted_occurrence"`
}
