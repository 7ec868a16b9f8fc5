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
	Port               string `yaml:"port"`
	LogLevel           string `yaml:"logLevel"`
	DatabaseURL        string `yaml:"databaseURL"`
	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	VendorBaseURL      string `yaml:"vendorBaseURL"`
	VendorClientKey    string `yaml:"vendorClientKey"`
	VendorClientSecret string `yaml:"vendorClientSecret"`
	PaymentBaseURL     string `yaml:"paymentBaseURL"`
	PaymentAPIKey      string `yaml:"paymentApiKey"`
	WebhookSecret      string `yaml:"webhookSecret"`
	SuccessURL         string `yaml:"successURL"`
	CancelURL          string `yaml:"cancelURL"`
	PictureMarginCents int64  `yaml:"pictureMarginCents"`
	TextMarginCents    int64  `yaml:"textMarginCents"`
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
	if v := os.Getenv("COMMERCE_VENDOR_BASE_URL"); v != "" {
		cfg.VendorBaseURL = v
	}
	if v := os.Getenv("COMMERCE_VENDOR_CLIENT_KEY"); v != "" {
		cfg.VendorClientKey = v
	}
	if v := os.Getenv("COMMERCE_VENDOR_CLIENT_SECRET"); v != "" {
		cfg.VendorClientSecret = v
	}
	if v := os.Getenv("COMMERCE_PAYMENT_BASE_URL"); v != "" {
		cfg.PaymentBaseURL = v
	}
	if v := os.Getenv("COMMERCE_PAYMENT_API_KEY"); v != "" {
		cfg.PaymentAPIKey = v
	}
	if v := os.Getenv("COMMERCE_WEBHOOK_SECRET"); v != "" {
		cfg.WebhookSecret = v
	}
	if v := os.Getenv("COMMERCE_PICTURE_MARGIN_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PictureMarginCents = n
		}
	}
	if v := os.Getenv("COMMERCE_TEXT_MARGIN_CENTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TextMarginCents = n
		}
	}
	if cfg.PictureMarginCents <= 0 {
		cfg.PictureMarginCents = 1000
	}
	if cfg.TextMarginCents <= 0 {
		cfg.TextMarginCents = 800
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
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml or MINIO_ENDPOINT)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml or MINIO_BUCKET)")
	}
	if cfg.VendorBaseURL == "" {
		return errors.New("config: vendorBaseURL is required (set in config.yaml or COMMERCE_VENDOR_BASE_URL)")
	}
	if cfg.PaymentBaseURL == "" {
		return errors.New("config: paymentBaseURL is required (set in config.yaml or COMMERCE_PAYMENT_BASE_URL)")
	}
	if cfg.WebhookSecret == "" {
		return errors.New("config: webhookSecret is required (set in config.yaml or COMMERCE_WEBHOOK_SECRET)")
	}
	return nil
}
