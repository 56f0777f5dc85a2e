package repository

import (
	"context"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	pkgkafka "EpiCast/pkg/kafka"
)

// BatchPublisher is the producer surface the event publisher needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaEventPublisher emits lifecycle events keyed by disease code, so all
// events of one code stay ordered on one partition.
type KafkaEventPublisher struct {
	producer      BatchPublisher
	trainingTopic string
	forecastTopic string
}

func NewKafkaEventPublisher(p BatchPublisher, trainingTopic, forecastTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: p, trainingTopic: trainingTopic, forecastTopic: forecastTopic}
}

// ModelTrainedEvent announces a newly registered model version.
type ModelTrainedEvent struct {
	ModelID          string                 `json:"model_id"`
	DiseaseCode      string                 `json:"disease_code"`
	Params           models.Hyperparameters `json:"params"`
	Metrics          models.EvalMetrics     `json:"metrics"`
	LastTrainingDate string                 `json:"last_training_date"`
	Observations     int                    `json:"observations"`
	CreatedAt        time.Time              `json:"created_at"`
}

// ForecastsEvent carries one forecast run of a disease code.
type ForecastsEvent struct {
	ModelID       string                 `json:"model_id"`
	DiseaseCode   string                 `json:"disease_code"`
	InferenceDate time.Time              `json:"inference_date"`
	Predictions   []models.ForecastPoint `json:"predictions"`
}

func (p *KafkaEventPublisher) PublishModelTrained(ctx context.Context, m *models.TrainedModel) error {
	ev := ModelTrainedEvent{
		ModelID:          m.ModelID,
		DiseaseCode:      m.DiseaseCode,
		Params:           m.Hyperparameters,
		Metrics:          m.Metrics,
		LastTrainingDate: m.TrainingEndDate.Format(models.DateLayout),
		Observations:     m.NumObservations,
		CreatedAt:        m.CreatedAt,
	}
	return p.producer.PublishBatch(ctx, p.trainingTopic, []pkgkafka.Message{{
		Key:   m.DiseaseCode,
		Event: "model_trained",
		Value: ev,
	}})
}

func (p *KafkaEventPublisher) PublishForecasts(ctx context.Context, code string, rows []models.ForecastRecord) error {
	if len(rows) == 0 {
		return nil
	}
	ev := ForecastsEvent{
		ModelID:       rows[0].ModelID,
		DiseaseCode:   code,
		InferenceDate: rows[0].InferenceDate,
		Predictions:   make([]models.ForecastPoint, len(rows)),
	}
	for i, r := range rows {
		ev.Predictions[i] = models.ForecastPoint{
			Date:                r.Date.Format(models.DateLayout),
			PredictedOccurrence: r.PredictedOccurrence,
		}
	}
	return p.producer.PublishBatch(ctx, p.forecastTopic, []pkgkafka.Message{{
		Key:   code,
		Event: "forecasts_generated",
		Value: ev,
	}})
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
