package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the application configuration
type AppConfig struct {
	Env          string             `mapstructure:"env"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Annotations  AnnotationConfig   `mapstructure:"annotations"`
	Reconciler   ReconcilerConfig   `mapstructure:"reconciler"`
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig selects between postgres (production) and sqlite (local/dev).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty URL switches the cache to in-process memory.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type AuthConfig struct {
	SymmetricKey      string        `mapstructure:"symmetric_key"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `mapstructure:"refresh_token_ttl"`
	ResetCodeTTL      time.Duration `mapstructure:"reset_code_ttl"`
	InternalToken     string        `mapstructure:"internal_token"`
	BootstrapEmail    string        `mapstructure:"bootstrap_email"`
	BootstrapPassword string        `mapstructure:"bootstrap_password"`
	BootstrapName     string        `mapstructure:"bootstrap_name"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// StorageConfig selects the blob store. Driver is "local" or "s3".
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	BasePath      string `mapstructure:"base_path"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	Endpoint      string `mapstructure:"endpoint"`
	ThumbnailSize int    `mapstructure:"thumbnail_size"`
	MaxPixels     int64  `mapstructure:"max_pixels"`
}

type SegmentationConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailRatio  float64       `mapstructure:"breaker_fail_ratio"`
	ModelName         string        `mapstructure:"model_name"`
	ModelVersion      string        `mapstructure:"model_version"`
	DefaultConfidence float64       `mapstructure:"default_confidence"`
}

// AnnotationConfig carries the minimum-evidence policy. Zero disables it.
type AnnotationConfig struct {
	MinImages int `mapstructure:"min_images"`
}

type ReconcilerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional config.yaml and the
// RETINA_* environment.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RETINA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers every default on v. AutomaticEnv only sees keys
// that have a default, so every setting is listed here.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")

	v.SetDefault("server.addr", ":8930")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 20<<20)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 40)
	v.SetDefault("database.max_idle_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "10m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", "30s")
	v.SetDefault("redis.read_timeout", "10s")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("auth.symmetric_key", "")
	v.SetDefault("auth.access_token_ttl", "24h")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.reset_code_ttl", "15m")
	v.SetDefault("auth.internal_token", "")
	v.SetDefault("auth.bootstrap_email", "")
	v.SetDefault("auth.bootstrap_password", "")
	v.SetDefault("auth.bootstrap_name", "Administrador")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.base_path", "./media")
	v.SetDefault("storage.public_base_url", "/media")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.thumbnail_size", 320)
	v.SetDefault("storage.max_pixels", 50_000_000)

	v.SetDefault("segmentation.base_url", "http://localhost:5001/api")
	v.SetDefault("segmentation.timeout", "60s")
	v.SetDefault("segmentation.max_retries", 2)
	v.SetDefault("segmentation.initial_backoff", "500ms")
	v.SetDefault("segmentation.max_backoff", "5s")
	v.SetDefault("segmentation.requests_per_second", 4)
	v.SetDefault("segmentation.breaker_timeout", "60s")
	v.SetDefault("segmentation.breaker_fail_ratio", 0.6)
	v.SetDefault("segmentation.model_name", "segformer_for_optic_disc_cup_segmentation")
	v.SetDefault("segmentation.model_version", "1.0")
	v.SetDefault("segmentation.default_confidence", 0.95)

	v.SetDefault("annotations.min_images", 2)

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "5m")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("rate_limit.requests_per_second", 15)
	v.SetDefault("rate_limit.burst", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if len(c.Auth.SymmetricKey) != 32 {
		return fmt.Errorf("auth.symmetric_key must be 32 bytes long, got %d", len(c.Auth.SymmetricKey))
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.BasePath == "" {
			return errors.New("storage.base_path is required for local storage")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.MaxPixels < 0 {
		return errors.New("storage.max_pixels cannot be negative")
	}
	if c.Segmentation.BaseURL == "" {
		return errors.New("segmentation.base_url is required")
	}
	if c.Segmentation.MaxRetries < 0 {
		return errors.New("segmentation.max_retries cannot be negative")
	}
	if c.Annotations.MinImages < 0 {
		return errors.New("annotations.min_images cannot be negative")
	}
	return nil
}

// GetBearerToken returns the static token guarding the internal routes
func (c *AppConfig) GetBearerToken() string {
	return c.Auth.InternalToken
}

// IsDevelopment reports whether verbose SQL logging and debug mode apply.
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}
