package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"EpiCast/pkg/util"
)

// Window is a held-out suffix of a series: the last Months calendar months,
// or the last Periods observations when Periods > 0.
type Window struct {
	Months  int `yaml:"months" default:"3" validate:"gte=0"`
	Periods int `yaml:"periods" validate:"gte=0"`
}

// Grid is the hyperparameter search space.
type Grid struct {
	P         []int `yaml:"p" validate:"required,dive,gte=0"`
	D         []int `yaml:"d" validate:"required,dive,gte=0"`
	Q         []int `yaml:"q" validate:"required,dive,gte=0"`
	SeasonalP []int `yaml:"seasonal_p" validate:"required,dive,gte=0"`
	SeasonalD []int `yaml:"seasonal_d" validate:"required,dive,gte=0"`
	SeasonalQ []int `yaml:"seasonal_q" validate:"required,dive,gte=0"`
	S         []int `yaml:"s" validate:"required,dive,gte=0"`
}

// Retry bounds exponential backoff around registry I/O.
type Retry struct {
	Attempts   int           `yaml:"attempts" default:"3" validate:"gte=1"`
	BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
	BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
		// Run endpoints are token-bucket limited per client IP; zero burst disables.
		RunBurst     int     `yaml:"run_burst" default:"5" validate:"gte=0"`
		RunPerMinute float64 `yaml:"run_per_minute" default:"6" validate:"gte=0"`
		// Empty disables CORS.
		CORSOrigins []string `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"epicast" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		Compress         bool          `yaml:"compress" default:"true"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"gte=1"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		IncidenceTable   string        `yaml:"incidence_table" default:"cdc_occurrences" validate:"required"`
		InitSchema       bool          `yaml:"init_schema" default:"true"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled     bool          `yaml:"enabled" default:"true"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		PoolSize    int           `yaml:"pool_size" default:"10" validate:"gte=0"`
		Prefix      string        `yaml:"prefix" default:"epicast"`
		LocalSize   int           `yaml:"local_size" default:"1000" validate:"gte=0"`
		ForecastTTL time.Duration `yaml:"forecast_ttl" default:"1h"`
		LockTTL     time.Duration `yaml:"lock_ttl" default:"30m"`
		TuneQueue   string        `yaml:"tune_queue" default:"tune"`
		Workers     int           `yaml:"workers" default:"1" validate:"gte=1"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
		TriggerTopic  string   `yaml:"trigger_topic" default:"dataset.refreshed"`
		ForecastTopic string   `yaml:"forecast_topic" default:"forecast.generated"`
		TrainingTopic string   `yaml:"training_topic" default:"model.trained"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"snappy"`
		Consumer      struct {
			GroupID    string        `yaml:"group_id" default:"epicast"`
			Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"500ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"30s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"dataset.refreshed.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Registry struct {
		Backend      string `yaml:"backend" default:"badger" validate:"oneof=badger gcs"`
		Path         string `yaml:"path" default:"./data/registry"`
		InMemory     bool   `yaml:"in_memory"`
		Bucket       string `yaml:"bucket" validate:"required_if=Backend gcs"`
		Prefix       string `yaml:"prefix"`
		Retries      int    `yaml:"retries" default:"8"`
		ModelRoot    string `yaml:"model_root" default:"models"`
		TuningRoot   string `yaml:"tuning_root" default:"tunning_results"`
		SnapshotRoot string `yaml:"snapshot_root" default:"training-data"`
	} `yaml:"registry"`
	Forecast struct {
		Horizon          int    `yaml:"horizon" default:"8" validate:"gte=1"`
		StepDays         int    `yaml:"step_days" default:"7" validate:"gte=1"`
		Workers          int    `yaml:"workers" default:"4" validate:"gte=1"`
		CandidateWorkers int    `yaml:"candidate_workers" default:"1" validate:"gte=1"`
		DefaultCode      string `yaml:"default_code" default:"370"`
		ValidationWindow Window `yaml:"validation_window"`
		Grid             Grid   `yaml:"grid"`
	} `yaml:"forecast"`
	Trainer struct {
		TestWindow      Window `yaml:"test_window"`
		RefitFullSeries bool   `yaml:"refit_full_series" default:"true"`
		SaveSnapshot    bool   `yaml:"save_snapshot" default:"true"`
		MaxIterations   int    `yaml:"max_iterations" default:"1000"`
	} `yaml:"trainer"`
	Pipeline struct {
		Retry Retry `yaml:"retry"`
	} `yaml:"pipeline"`
}

// DefaultGrid mirrors the search space used for weekly incidence series.
func DefaultGrid() Grid {
	return Grid{
		P:         []int{0, 1, 2},
		D:         []int{0, 1},
		Q:         []int{0, 1, 2},
		SeasonalP: []int{0, 1},
		SeasonalD: []int{0, 1},
		SeasonalQ: []int{0, 1},
		S:         []int{4, 12, 52},
	}
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	c.Forecast.Grid = DefaultGrid()
	return nil
}

// Parse decodes YAML bytes over the defaults and validates. Keys absent from
// the document keep their default values.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides deployment-specific fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("REGISTRY_BACKEND"); v != "" {
		c.Registry.Backend = v
	}
	if v := getenv("GCS_BUCKET"); v != "" {
		c.Registry.Bucket = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

var validate = validator.New()

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	w := c.Forecast.ValidationWindow
	if w.Months == 0 && w.Periods == 0 {
		return fmt.Errorf("forecast.validation_window must set months or periods")
	}
	w = c.Trainer.TestWindow
	if w.Months == 0 && w.Periods == 0 {
		return fmt.Errorf("trainer.test_window must set months or periods")
	}
	return nil
}
