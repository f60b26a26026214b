package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Provider  ProviderConfig
	Poll      PollConfig
	Extract   ExtractConfig
	Templates TemplatesConfig
	DB        DBConfig
	S3        S3Config
	Queue     QueueConfig
	CORS      CORSConfig
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProviderConfig holds external OCR provider settings.
type ProviderConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
	MaxRetries  int    `mapstructure:"max_retries"`
	RateLimit   int    `mapstructure:"rate_limit"`
	RateBurst   int    `mapstructure:"rate_burst"`
}

// PollConfig holds batch completion polling settings.
type PollConfig struct {
	InitialIntervalSecs int     `mapstructure:"initial_interval_secs"`
	BackoffFactor       float64 `mapstructure:"backoff_factor"`
	MaxIntervalSecs     int     `mapstructure:"max_interval_secs"`
	TimeoutSecs         int     `mapstructure:"timeout_secs"`
}

// ExtractConfig bounds the pipeline's concurrency and input sizes.
type ExtractConfig struct {
	UploadFan     int   `mapstructure:"upload_fan"`
	ExtractFan    int   `mapstructure:"extract_fan"`
	MaxFileSizeMB int64 `mapstructure:"max_file_size_mb"`
}

// TemplatesConfig selects where template definitions are loaded from.
type TemplatesConfig struct {
	Source string `mapstructure:"source"` // "file" or "postgres"
	Dir    string `mapstructure:"dir"`
}

// DBConfig holds PostgreSQL connection settings for the template table.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// S3Config holds archive retention storage settings. Retention is off
// when the bucket is empty.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// QueueConfig holds batch worker settings.
type QueueConfig struct {
	PollIntervalSecs int `mapstructure:"poll_interval_secs"`
	Concurrency      int `mapstructure:"concurrency"`
	JobTimeoutSecs   int `mapstructure:"job_timeout_secs"`
}

// Load reads configuration from environment variables with the PIAOJU_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIAOJU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.environment", "development")

	// Log defaults
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.format", "console")

	// Provider defaults
	v.SetDefault("provider.base_url", "http://localhost:9090")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout_secs", 30)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.rate_limit", 10)
	v.SetDefault("provider.rate_burst", 10)

	// Poll defaults
	v.SetDefault("poll.initial_interval_secs", 2)
	v.SetDefault("poll.backoff_factor", 1.5)
	v.SetDefault("poll.max_interval_secs", 30)
	v.SetDefault("poll.timeout_secs", 300)

	// Extract defaults
	v.SetDefault("extract.upload_fan", 4)
	v.SetDefault("extract.extract_fan", 8)
	v.SetDefault("extract.max_file_size_mb", 50)

	// Template defaults
	v.SetDefault("templates.source", "file")
	v.SetDefault("templates.dir", "templates")

	// DB defaults
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "piaoju")
	v.SetDefault("db.password", "piaoju_secret")
	v.SetDefault("db.name", "piaoju_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)

	// S3 defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	// Queue defaults
	v.SetDefault("queue.poll_interval_secs", 1)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.job_timeout_secs", 900)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// InitLogger initializes the global zap logger from log settings.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return nil
}
