package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(8), cfg.Pipeline.BatchConcurrency)
	assert.Equal(t, int64(3), cfg.Pipeline.StageConcurrency)
	assert.Equal(t, 3, cfg.Pipeline.DLQMaxRetries)
	assert.Equal(t, int64(200), cfg.Upload.MaxUploadMB)
	assert.Contains(t, cfg.Upload.AllowedExtensions, ".xml")
	assert.Contains(t, cfg.Upload.AllowedMIMEs, "application/pdf")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./data/learning.db", cfg.Store.Path)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, 3, cfg.OCR.RetryMaxAttempts)
	assert.Equal(t, 500, cfg.OCR.RetryBackoffMS)
	assert.Equal(t, 5, cfg.OCR.BreakerThreshold)
	assert.Equal(t, 30, cfg.OCR.BreakerResetSecs)
	assert.True(t, cfg.XAI.Offline)
	assert.Equal(t, int64(1024), cfg.XAI.MaxTokens)
	assert.True(t, cfg.Export.EnableSPED)
	assert.True(t, cfg.Export.ProcessingLog)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
pipeline:
  batch_concurrency: 4
store:
  driver: postgres
  database_url: postgres://localhost/fiscal
log:
  level: debug
  format: console
server:
  port: 9090
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(4), cfg.Pipeline.BatchConcurrency)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, int64(3), cfg.Pipeline.StageConcurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FISCAL_STORE_DRIVER", "postgres")
	t.Setenv("FISCAL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("FISCAL_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.BatchConcurrency = 8
	cfg.Pipeline.StageConcurrency = 3
	cfg.Upload.MaxUploadMB = 200
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = "./data/learning.db"
	cfg.OCR.Provider = "local"
	cfg.XAI.Offline = true
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.BatchConcurrency = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "batch_concurrency must be between 1 and 64")

	cfg.Pipeline.BatchConcurrency = 65
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Pipeline.BatchConcurrency = 64
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateStoreDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/fiscal"
	assert.NoError(t, cfg.Validate("run"))

	cfg.Store.Driver = "mongodb"
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateRemoteOCRNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "remote"

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.key is required")

	cfg.OCR.Key = "k"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateOnlineXAINeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.XAI.Offline = false

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "xai.key is required")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
