package models

// Requests for lifecycle HTTP endpoints. Defined in domain for reuse by the CLI.

// RunRequest selects disease codes for a tune, train, predict or cycle run.
// An empty code list means every code the store knows about; zero workers
// means the configured default.
type RunRequest struct {
	DiseaseCodes []string `json:"disease_codes" validate:"omitempty,dive,required"`
	Workers      int      `json:"workers" validate:"gte=0,lte=64"`
}

// TuneRequest starts a hyperparameter search for one disease code.
type TuneRequest struct {
	DiseaseCode string `json:"disease_code" default:"370" validate:"required"`
	Async       bool   `json:"async"`
}

// ModelPathRequest addresses one disease code's models.
type ModelPathRequest struct {
	DiseaseCode string `param:"disease_code" validate:"required"`
}

// ForecastQuery reads stored forecasts for one disease code.
type ForecastQuery struct {
	DiseaseCode string `param:"disease_code" validate:"required"`
	Limit       int    `query:"limit" default:"8" validate:"gte=1,lte=520"`
}
