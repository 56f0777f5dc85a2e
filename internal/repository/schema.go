package repository

import "fmt"

// SchemaStatements returns idempotent DDL for the tables this service owns,
// plus the incidence table it reads so a fresh environment can start empty.
func SchemaStatements(database, incidenceTable string) []string {
	q := func(t string) string { return database + "." + t }
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    date Date,
    disease_code String,
    reporting_area String,
    current_week_count Int64
) ENGINE = MergeTree ORDER BY (disease_code, date)`, q(incidenceTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    model_id String,
    inference_date DateTime,
    date Date,
    predicted_occurrence Float64,
    disease_code String
) ENGINE = MergeTree ORDER BY (disease_code, inference_date, date)`, q(predictionsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    model_id String,
    name String,
    artifact_root String,
    model_path String,
    disease_code String,
    created_at DateTime DEFAULT now()
) ENGINE = MergeTree ORDER BY (disease_code, created_at)`, q(modelRunsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    model_id String,
    metric_name String,
    metric_value Float64
) ENGINE = MergeTree ORDER BY (model_id, metric_name)`, q(modelMetricsTable)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    model_id String,
    parameter_name String,
    parameter_value String
) ENGINE = MergeTree ORDER BY (model_id, parameter_name)`, q(modelParamsTable)),
	}
}

const (
	predictionsTable  = "predictions"
	modelRunsTable    = "model_runs"
	modelMetricsTable = "model_metrics"
	modelParamsTable  = "model_parameters"
)
