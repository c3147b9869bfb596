// Package config loads the pipeline's configuration from a YAML file with
// environment-variable overrides, following dsmolchanov-nerve's
// internal/config/config.go: a Default() baseline, Load(path) reading YAML
// over it, then applyEnv applying MAILSUB_-prefixed overrides. lm.max_tokens,
// lm.temperature and lm.retry_delays_ms have no environment override.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables the pipeline exposes, plus the
// ambient stack additions (database, redis, log, http).
type Config struct {
	Classifier struct {
		KeywordConfidenceThreshold float64 `yaml:"keyword_confidence_threshold"`
		ProcessingBatchSize        int     `yaml:"processing_batch_size"`
		ProcessingDelayMS          int     `yaml:"processing_delay_ms"`
	} `yaml:"classifier"`

	Sync struct {
		MonthsBack                  int `yaml:"months_back"`
		StaleProcessingThresholdMin int `yaml:"stale_processing_threshold_min"`
	} `yaml:"sync"`

	LM struct {
		APIKey               string  `yaml:"api_key"`
		Endpoint             string  `yaml:"endpoint"`
		Model                string  `yaml:"model"`
		MaxTokens            int     `yaml:"max_tokens"`
		Temperature          float64 `yaml:"temperature"`
		TimeoutMS            int     `yaml:"timeout_ms"`
		RetryDelaysMS        []int   `yaml:"retry_delays_ms"`
		ContentTruncateChars int     `yaml:"content_truncate_chars"`
	} `yaml:"lm"`

	TokenBroker struct {
		RefreshBufferMS int `yaml:"refresh_buffer_ms"`
	} `yaml:"token_broker"`

	Database struct {
		DSN             string `yaml:"dsn"`
		MigrationsTable string `yaml:"migrations_table"`
		MigrationsDir   string `yaml:"migrations_dir"`
	} `yaml:"database"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
}

// Default returns the configuration with every literal default pre-filled.
func Default() Config {
	var cfg Config
	cfg.Classifier.KeywordConfidenceThreshold = 0.3
	cfg.Classifier.ProcessingBatchSize = 50
	cfg.Classifier.ProcessingDelayMS = 100
	cfg.Sync.MonthsBack = 12
	cfg.Sync.StaleProcessingThresholdMin = 30
	cfg.LM.Model = "claude-3-haiku-20240307"
	cfg.LM.MaxTokens = 500
	cfg.LM.Temperature = 0
	cfg.LM.TimeoutMS = 15000
	cfg.LM.RetryDelaysMS = []int{10000, 30000, 90000}
	cfg.LM.ContentTruncateChars = 4000
	cfg.TokenBroker.RefreshBufferMS = 300000
	cfg.Database.MigrationsTable = "schema_migrations"
	cfg.Database.MigrationsDir = "internal/adapters/storage/migrations"
	cfg.Log.Level = "info"
	cfg.HTTP.Addr = ":8080"
	return cfg
}

// Load reads path (if it exists) over the defaults, then applies
// MAILSUB_-prefixed environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// RetryDelays converts RetryDelaysMS to time.Duration, in schedule order.
func (c Config) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.LM.RetryDelaysMS))
	for i, ms := range c.LM.RetryDelaysMS {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MAILSUB_KEYWORD_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Classifier.KeywordConfidenceThreshold = f
		}
	}
	if v := os.Getenv("MAILSUB_PROCESSING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Classifier.ProcessingBatchSize = n
		}
	}
	if v := os.Getenv("MAILSUB_PROCESSING_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Classifier.ProcessingDelayMS = n
		}
	}
	if v := os.Getenv("MAILSUB_MONTHS_BACK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MonthsBack = n
		}
	}
	if v := os.Getenv("MAILSUB_STALE_PROCESSING_THRESHOLD_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.StaleProcessingThresholdMin = n
		}
	}
	if v := os.Getenv("MAILSUB_LM_API_KEY"); v != "" {
		cfg.LM.APIKey = v
	}
	if v := os.Getenv("MAILSUB_LM_ENDPOINT"); v != "" {
		cfg.LM.Endpoint = v
	}
	if v := os.Getenv("MAILSUB_LM_MODEL"); v != "" {
		cfg.LM.Model = v
	}
	if v := os.Getenv("MAILSUB_LM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LM.TimeoutMS = n
		}
	}
	if v := os.Getenv("MAILSUB_LM_CONTENT_TRUNCATE_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LM.ContentTruncateChars = n
		}
	}
	if v := os.Getenv("MAILSUB_TOKEN_REFRESH_BUFFER_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenBroker.RefreshBufferMS = n
		}
	}
	if v := os.Getenv("MAILSUB_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MAILSUB_DATABASE_MIGRATIONS_TABLE"); v != "" {
		cfg.Database.MigrationsTable = v
	}
	if v := os.Getenv("MAILSUB_DATABASE_MIGRATIONS_DIR"); v != "" {
		cfg.Database.MigrationsDir = v
	}
	if v := os.Getenv("MAILSUB_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MAILSUB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MAILSUB_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// LMEnabled reports whether the LM Classifier has credentials configured;
// lm_enabled is derived from API key presence rather than a separate flag.
func (c Config) LMEnabled() bool {
	return strings.TrimSpace(c.LM.APIKey) != ""
}
