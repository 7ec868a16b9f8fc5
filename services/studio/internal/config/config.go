package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                  string `yaml:"port"`
	LogLevel              string `yaml:"logLevel"`
	DatabaseURL           string `yaml:"databaseURL"`
	RedisAddr             string `yaml:"redisAddr"`
	RedisPassword         string `yaml:"redisPassword"`
	LLMBaseURL            string `yaml:"llmBaseURL"`
	LLMAPIKey             string `yaml:"llmApiKey"`
	LLMModel              string `yaml:"llmModel"`
	ImageModel            string `yaml:"imageModel"`
	ImageSize             string `yaml:"imageSize"`
	MinioEndpoint         string `yaml:"minioEndpoint"`
	MinioAccessKey        string `yaml:"minioAccessKey"`
	MinioSecretKey        string `yaml:"minioSecretKey"`
	MinioBucket           string `yaml:"minioBucket"`
	MinioUseSSL           bool   `yaml:"minioUseSSL"`
	TypesetURL            string `yaml:"typesetURL"`
	WorkDir               string `yaml:"workDir"`
	SequentialConcurrency int    `yaml:"sequentialConcurrency"`
	FanOutConcurrency     int    `yaml:"fanOutConcurrency"`
	QueueMaxRetries       int    `yaml:"queueMaxRetries"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STUDIO_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("STUDIO_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("STUDIO_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("STUDIO_IMAGE_MODEL"); v != "" {
		cfg.ImageModel = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("STUDIO_TYPESET_URL"); v != "" {
		cfg.TypesetURL = v
	}
	if v := os.Getenv("STUDIO_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("STUDIO_SEQUENTIAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SequentialConcurrency = n
		}
	}
	if v := os.Getenv("STUDIO_FANOUT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FanOutConcurrency = n
		}
	}
	if v := os.Getenv("STUDIO_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if cfg.SequentialConcurrency <= 0 {
		cfg.SequentialConcurrency = 1
	}
	if cfg.FanOutConcurrency <= 0 {
		cfg.FanOutConcurrency = 5
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.LLMBaseURL == "" {
		return errors.New("config: llmBaseURL is required (set in config.yaml or STUDIO_LLM_BASE_URL)")
	}
	if cfg.LLMModel == "" {
		return errors.New("config: llmModel is required (set in config.yaml or STUDIO_LLM_MODEL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.TypesetURL == "" {
		return errors.New("config: typesetURL is required (set in config.yaml or STUDIO_TYPESET_URL)")
	}
	return nil
}
