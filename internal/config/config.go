// Package config loads service settings from code defaults, an optional
// TOML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/example/tumor-report/internal/attributes"
	"github.com/example/tumor-report/internal/classifier"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Classifier backends. BackendNone always answers in demo mode.
const (
	BackendNone      = "none"
	BackendGRPC      = "grpc"
	BackendONNX      = "onnx"
	BackendTFServing = "tfserving"
)

type HTTPConfig struct {
	Addr            string        `toml:"addr" env:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `toml:"-" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level       string `toml:"level" env:"LOG_LEVEL"`
	Development bool   `toml:"development" env:"LOG_DEVELOPMENT"`
}

type StorageConfig struct {
	Backend            string `toml:"backend" env:"STORAGE_BACKEND"`
	Root               string `toml:"root" env:"STORAGE_ROOT"`
	S3Bucket           string `toml:"s3_bucket" env:"S3_BUCKET"`
	S3Prefix           string `toml:"s3_prefix" env:"S3_PREFIX"`
	S3EndpointURL      string `toml:"s3_endpoint_url" env:"S3_ENDPOINT_URL"`
	AWSRegion          string `toml:"aws_region" env:"AWS_REGION"`
	AWSAccessKeyID     string `toml:"-" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `toml:"-" env:"AWS_SECRET_ACCESS_KEY"`
}

type ClassifierConfig struct {
	Backend        string        `toml:"backend" env:"CLASSIFIER_BACKEND"`
	Addr           string        `toml:"addr" env:"CLASSIFIER_ADDR"`
	Timeout        time.Duration `toml:"-" env:"CLASSIFIER_TIMEOUT"`
	ONNXModelPath  string        `toml:"onnx_model_path" env:"ONNX_MODEL_PATH"`
	ONNXRuntimeLib string        `toml:"onnx_runtime_lib" env:"ONNX_RUNTIME_LIB"`
	ONNXInputName  string        `toml:"onnx_input_name" env:"ONNX_INPUT_NAME"`
	ONNXOutputName string        `toml:"onnx_output_name" env:"ONNX_OUTPUT_NAME"`
	TFServingURL   string        `toml:"tfserving_url" env:"TFSERVING_URL"`
	TFServingModel string        `toml:"tfserving_model" env:"TFSERVING_MODEL"`
	DemoStrategy   string        `toml:"demo_strategy" env:"DEMO_STRATEGY"`
}

type CacheConfig struct {
	RedisAddr string        `toml:"redis_addr" env:"REDIS_ADDR"`
	ReportTTL time.Duration `toml:"-" env:"REPORT_CACHE_TTL"`
}

type RunLogConfig struct {
	DSN string `toml:"dsn" env:"RUNLOG_DSN"`
}

type EventsConfig struct {
	AMQPURL  string `toml:"amqp_url" env:"AMQP_URL"`
	Exchange string `toml:"exchange" env:"AMQP_EXCHANGE"`
}

// Config is the complete service configuration. Empty RedisAddr, DSN and
// AMQPURL turn the matching optional component off.
type Config struct {
	HTTP       HTTPConfig        `toml:"http"`
	Log        LogConfig         `toml:"log"`
	Storage    StorageConfig     `toml:"storage"`
	Classifier ClassifierConfig  `toml:"classifier"`
	Policy     attributes.Policy `toml:"policy"`
	Cache      CacheConfig       `toml:"cache"`
	RunLog     RunLogConfig      `toml:"runlog"`
	Events     EventsConfig      `toml:"events"`
}

func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{Backend: StorageLocal, Root: "./data", AWSRegion: "us-east-1"},
		Classifier: ClassifierConfig{
			Backend:        BackendNone,
			Timeout:        30 * time.Second,
			ONNXInputName:  "input",
			ONNXOutputName: "output",
			TFServingModel: "brain_tumor",
			DemoStrategy:   classifier.DemoRandom,
		},
		Policy: attributes.DefaultPolicy(),
		Cache:  CacheConfig{ReportTTL: 24 * time.Hour},
		Events: EventsConfig{Exchange: "reports"},
	}
}

// Load reads the optional .env file at envFile, then the TOML file named by
// CONFIG_FILE, then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading env file '%s': %w", envFile, err)
		}
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return nil
}

// Validate rejects unknown enum values and backends missing their settings.
func (c Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http address is required"))
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("STORAGE_ROOT is required for local storage"))
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Classifier.Backend {
	case BackendNone:
	case BackendGRPC:
		if c.Classifier.Addr == "" {
			errs = append(errs, errors.New("CLASSIFIER_ADDR is required for the grpc classifier"))
		}
	case BackendONNX:
		if c.Classifier.ONNXModelPath == "" || c.Classifier.ONNXRuntimeLib == "" {
			errs = append(errs, errors.New("ONNX_MODEL_PATH and ONNX_RUNTIME_LIB are required for the onnx classifier"))
		}
	case BackendTFServing:
		if c.Classifier.TFServingURL == "" {
			errs = append(errs, errors.New("TFSERVING_URL is required for the tfserving classifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown classifier backend %q", c.Classifier.Backend))
	}
	if c.Classifier.Timeout < 0 {
		errs = append(errs, errors.New("classifier timeout must not be negative"))
	}

	switch c.Classifier.DemoStrategy {
	case classifier.DemoRandom, classifier.DemoHeuristic:
	default:
		errs = append(errs, fmt.Errorf("unknown demo strategy %q", c.Classifier.DemoStrategy))
	}

	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
