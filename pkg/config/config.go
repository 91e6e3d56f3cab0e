// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Kafka, Redis, PhraseTable, Backup, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	PhraseTable PhraseTableConfig `yaml:"phraseTable"`
	Backup      BackupConfig      `yaml:"backup"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst"`
	SlowRequest     time.Duration `yaml:"slowRequest"`
}

// KafkaConfig holds Kafka broker and update-stream settings. Each partition
// of the updates topic is one update stream; message offsets are sequence ids.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	UpdatesTopic string   `yaml:"updatesTopic"`
	Partitions   []int    `yaml:"partitions"`
}

// RedisConfig holds Redis connection and option-cache parameters.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	OpTimeout time.Duration `yaml:"opTimeout"`
}

// PhraseTableConfig controls the phrase table model, sampling, scoring and
// the incremental update policy.
type PhraseTableConfig struct {
	ModelPath              string        `yaml:"modelPath"`
	Create                 bool          `yaml:"create"`
	PrefixLength           int           `yaml:"prefixLength"`
	Samples                int           `yaml:"samples"`
	UpdateBufferSize       int           `yaml:"updateBufferSize"`
	UpdateMaxDelay         time.Duration `yaml:"updateMaxDelay"`
	Confidence             float64       `yaml:"confidence"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	LexiconPath            string        `yaml:"lexiconPath"`
	NullProbability        float64       `yaml:"nullProbability"`
	Parallelism            int           `yaml:"parallelism"`
}

// BackupConfig points at the S3-compatible bucket model backups go to.
type BackupConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"accessKey"`
	SecretKey string        `yaml:"secretKey"`
	Bucket    string        `yaml:"bucket"`
	Prefix    string        `yaml:"prefix"`
	Region    string        `yaml:"region"`
	UseSSL    bool          `yaml:"useSSL"`
	Interval  time.Duration `yaml:"interval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.PhraseTable.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or
// environment variables.
func Default() *Config {
	return defaultConfig()
}

// DefaultPhraseTable returns the default phrase table settings rooted at
// modelPath.
func DefaultPhraseTable(modelPath string) PhraseTableConfig {
	cfg := defaultConfig().PhraseTable
	cfg.ModelPath = modelPath
	return cfg
}

// Validate checks the phrase table settings for values the core cannot run
// with.
func (p PhraseTableConfig) Validate() error {
	if p.ModelPath == "" {
		return fmt.Errorf("phraseTable.modelPath is required")
	}
	if p.PrefixLength < 1 || p.PrefixLength > 255 {
		return fmt.Errorf("phraseTable.prefixLength must be in [1, 255], got %d", p.PrefixLength)
	}
	if p.Samples < 0 {
		return fmt.Errorf("phraseTable.samples must not be negative, got %d", p.Samples)
	}
	if p.UpdateBufferSize < 1 {
		return fmt.Errorf("phraseTable.updateBufferSize must be positive, got %d", p.UpdateBufferSize)
	}
	if p.Confidence < 0 || p.Confidence >= 1 {
		return fmt.Errorf("phraseTable.confidence must be in [0, 1), got %g", p.Confidence)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       200,
			RateBurst:       400,
			SlowRequest:     500 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			UpdatesTopic: "phrase-table-updates",
			Partitions:   []int{0, 1},
		},
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			Password:  "",
			DB:        0,
			PoolSize:  10,
			CacheTTL:  60 * time.Second,
			OpTimeout: 50 * time.Millisecond,
		},
		PhraseTable: PhraseTableConfig{
			ModelPath:              "data/model",
			Create:                 true,
			PrefixLength:           4,
			Samples:                1000,
			UpdateBufferSize:       10000,
			UpdateMaxDelay:         time.Second,
			Confidence:             0.01,
			MergeInterval:          time.Minute,
			MaxSegmentsBeforeMerge: 16,
			NullProbability:        1e-4,
			Parallelism:            4,
		},
		Backup: BackupConfig{
			Enabled:  false,
			Endpoint: "localhost:9000",
			Bucket:   "phrase-table",
			Prefix:   "model",
			Interval: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads PT_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PT_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("PT_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PT_KAFKA_UPDATES_TOPIC"); v != "" {
		cfg.Kafka.UpdatesTopic = v
	}
	if v := os.Getenv("PT_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("PT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PT_MODEL_PATH"); v != "" {
		cfg.PhraseTable.ModelPath = v
	}
	if v := os.Getenv("PT_PREFIX_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PhraseTable.PrefixLength = n
		}
	}
	if v := os.Getenv("PT_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PhraseTable.Samples = n
		}
	}
	if v := os.Getenv("PT_UPDATE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PhraseTable.UpdateBufferSize = n
		}
	}
	if v := os.Getenv("PT_UPDATE_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PhraseTable.UpdateMaxDelay = d
		}
	}
	if v := os.Getenv("PT_LEXICON_PATH"); v != "" {
		cfg.PhraseTable.LexiconPath = v
	}
	if v := os.Getenv("PT_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = f
		}
	}
	if v := os.Getenv("PT_BACKUP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Backup.Enabled = b
		}
	}
	if v := os.Getenv("PT_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("PT_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("PT_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("PT_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("PT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PT_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
