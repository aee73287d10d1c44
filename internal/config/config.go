package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	OCR      OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	XAI      XAIConfig      `yaml:"xai" mapstructure:"xai"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PipelineConfig bounds batch processing.
type PipelineConfig struct {
	BatchConcurrency int64 `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	StageConcurrency int64 `yaml:"stage_concurrency" mapstructure:"stage_concurrency"`
	DLQMaxRetries    int   `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// UploadConfig enforces the ingestion policy.
type UploadConfig struct {
	MaxUploadMB       int64    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	AllowedMIMEs      []string `yaml:"allowed_mimes" mapstructure:"allowed_mimes"`
}

// StoreConfig configures the classifier feedback store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OCRConfig configures text extraction for raw payloads.
type OCRConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"`
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMS   int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// XAIConfig configures the explanation assistant.
type XAIConfig struct {
	Offline   bool   `yaml:"offline" mapstructure:"offline"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExportConfig toggles report exports.
type ExportConfig struct {
	EnableSPED    bool   `yaml:"enable_sped" mapstructure:"enable_sped"`
	ProcessingLog bool   `yaml:"processing_log" mapstructure:"processing_log"`
	LogDir        string `yaml:"log_dir" mapstructure:"log_dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration for a given run mode ("run" or
// "serve"). Errors name every offending key.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Pipeline.BatchConcurrency < 1 || c.Pipeline.BatchConcurrency > 64 {
		problems = append(problems, "pipeline.batch_concurrency must be between 1 and 64")
	}
	if c.Pipeline.StageConcurrency < 1 || c.Pipeline.StageConcurrency > 16 {
		problems = append(problems, "pipeline.stage_concurrency must be between 1 and 16")
	}
	if c.Upload.MaxUploadMB < 1 {
		problems = append(problems, "upload.max_upload_mb must be > 0")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.OCR.Provider == "remote" && c.OCR.Key == "" {
		problems = append(problems, "ocr.key is required for the remote provider")
	}
	if !c.XAI.Offline && c.XAI.Key == "" {
		problems = append(problems, "xai.key is required when xai.offline is false")
	}

	switch mode {
	case "run":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FISCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("pipeline.batch_concurrency", 8)
	v.SetDefault("pipeline.stage_concurrency", 3)
	v.SetDefault("pipeline.dlq_max_retries", 3)
	v.SetDefault("upload.max_upload_mb", 200)
	v.SetDefault("upload.allowed_extensions", []string{".zip", ".xml", ".csv", ".xlsx", ".pdf", ".png", ".jpg", ".jpeg"})
	v.SetDefault("upload.allowed_mimes", []string{
		"application/zip",
		"application/xml",
		"text/xml",
		"text/csv",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/pdf",
		"image/jpeg",
		"image/png",
	})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "./data/learning.db")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.base_url", "https://api.nexus-ocr.dev")
	v.SetDefault("ocr.retry_max_attempts", 3)
	v.SetDefault("ocr.retry_backoff_ms", 500)
	v.SetDefault("ocr.breaker_threshold", 5)
	v.SetDefault("ocr.breaker_reset_secs", 30)
	v.SetDefault("xai.offline", true)
	v.SetDefault("xai.max_tokens", 1024)
	v.SetDefault("export.enable_sped", true)
	v.SetDefault("export.processing_log", true)
	v.SetDefault("export.log_dir", "./logs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
