package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tumor-report/internal/attributes"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, BackendNone, cfg.Classifier.Backend)
	assert.Equal(t, 30*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, attributes.DefaultPolicy(), cfg.Policy)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Empty(t, cfg.RunLog.DSN)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, "config.toml", `
[http]
addr = ":9000"

[classifier]
backend = "tfserving"
tfserving_url = "http://tfserving:8501"
demo_strategy = "heuristic"

[policy]
window_policy = "size_threshold"
urgent_above_cm = 4.5

[runlog]
dsn = "file:runs.db"
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("CLASSIFIER_TIMEOUT", "2s")
	t.Setenv("REPORT_CACHE_TTL", "1h")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr, "environment overrides the file")
	assert.Equal(t, BackendTFServing, cfg.Classifier.Backend)
	assert.Equal(t, "http://tfserving:8501", cfg.Classifier.TFServingURL)
	assert.Equal(t, "brain_tumor", cfg.Classifier.TFServingModel)
	assert.Equal(t, "heuristic", cfg.Classifier.DemoStrategy)
	assert.Equal(t, 2*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, attributes.WindowSizeThreshold, cfg.Policy.WindowPolicy)
	assert.Equal(t, 4.5, cfg.Policy.UrgentAboveCM)
	assert.Equal(t, 0.5, cfg.Policy.MinSizeCM, "unset policy keys keep their defaults")
	assert.Equal(t, time.Hour, cfg.Cache.ReportTTL)
	assert.Equal(t, "file:runs.db", cfg.RunLog.DSN)
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	path := writeFile(t, ".env", "STORAGE_ROOT=/srv/reports\nWINDOW_POLICY=size_threshold\n")
	t.Setenv("STORAGE_ROOT", "")
	os.Unsetenv("STORAGE_ROOT")
	t.Setenv("WINDOW_POLICY", "")
	os.Unsetenv("WINDOW_POLICY")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/reports", cfg.Storage.Root)
	assert.Equal(t, attributes.WindowSizeThreshold, cfg.Policy.WindowPolicy)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeFile(t, "config.toml", "[http\naddr="))
	_, err := Load("")
	assert.ErrorContains(t, err, "failed to parse TOML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "ftp" }, `unknown storage backend "ftp"`},
		{"s3 bucket", func(c *Config) { c.Storage.Backend = StorageS3 }, "S3_BUCKET"},
		{"classifier backend", func(c *Config) { c.Classifier.Backend = "magic" }, `unknown classifier backend "magic"`},
		{"grpc addr", func(c *Config) { c.Classifier.Backend = BackendGRPC }, "CLASSIFIER_ADDR"},
		{"onnx model", func(c *Config) { c.Classifier.Backend = BackendONNX }, "ONNX_MODEL_PATH"},
		{"tfserving url", func(c *Config) { c.Classifier.Backend = BackendTFServing }, "TFSERVING_URL"},
		{"demo strategy", func(c *Config) { c.Classifier.DemoStrategy = "oracle" }, `unknown demo strategy "oracle"`},
		{"window policy", func(c *Config) { c.Policy.WindowPolicy = "coin" }, `unknown window policy "coin"`},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
