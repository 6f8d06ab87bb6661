package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Weather    WeatherConfig    `yaml:"weather"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
	CardAPI    CardAPIConfig    `yaml:"cardApi"`
	Session    SessionConfig    `yaml:"session"`
	Cards      CardsConfig      `yaml:"cards"`
	Cache      CacheConfig      `yaml:"cache"`
	Recipients RecipientsConfig `yaml:"recipients"`
	Widget     WidgetConfig     `yaml:"widget"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address      string          `yaml:"address" envconfig:"HTTP_ADDRESS" validate:"required"`
	ReadTimeout  time.Duration   `yaml:"readTimeout" envconfig:"HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration   `yaml:"writeTimeout" envconfig:"HTTP_WRITE_TIMEOUT"`
	AllowOrigins []string        `yaml:"allowOrigins" envconfig:"HTTP_ALLOW_ORIGINS"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" envconfig:"HTTP_RATE_LIMIT_ENABLED"`
	RequestsPerMinute int  `yaml:"requestsPerMinute" envconfig:"HTTP_RATE_LIMIT_RPM"`
	Burst             int  `yaml:"burst" envconfig:"HTTP_RATE_LIMIT_BURST"`

	// Generation limits apply on top of the general limit to the card
	// generation routes. Zero disables the extra limit.
	GenerationPerMinute int `yaml:"generationPerMinute" envconfig:"HTTP_RATE_LIMIT_GENERATION_RPM"`
	GenerationBurst     int `yaml:"generationBurst" envconfig:"HTTP_RATE_LIMIT_GENERATION_BURST"`
}

// WeatherConfig points at the upstream weather provider.
type WeatherConfig struct {
	BaseURL string        `yaml:"baseUrl" envconfig:"WEATHER_BASE_URL" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" envconfig:"WEATHER_TIMEOUT" validate:"gt=0"`
}

// GeocodingConfig points at the forward/reverse geocoding service.
type GeocodingConfig struct {
	BaseURL   string        `yaml:"baseUrl" envconfig:"GEOCODING_BASE_URL" validate:"required,url"`
	UserAgent string        `yaml:"userAgent" envconfig:"GEOCODING_USER_AGENT"`
	Language  string        `yaml:"language" envconfig:"GEOCODING_LANGUAGE"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"GEOCODING_TIMEOUT" validate:"gt=0"`
}

// CardAPIConfig configures the remote card generation endpoint.
type CardAPIConfig struct {
	BaseURL  string        `yaml:"baseUrl" envconfig:"CARD_API_BASE_URL" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"CARD_API_TIMEOUT" validate:"gt=0"`
	DeviceID string        `yaml:"deviceId" envconfig:"CARD_API_DEVICE_ID"`
	Breaker  BreakerConfig `yaml:"breaker"`

	// DeviceIDFile persists a generated device id across restarts when DeviceID is empty.
	DeviceIDFile string `yaml:"deviceIdFile" envconfig:"CARD_API_DEVICE_ID_FILE"`
}

// BreakerConfig tunes the circuit breaker guarding an upstream.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"maxFailures" envconfig:"CARD_API_BREAKER_MAX_FAILURES"`
	OpenTimeout time.Duration `yaml:"openTimeout" envconfig:"CARD_API_BREAKER_OPEN_TIMEOUT"`
}

// SessionConfig selects where bearer tokens for the card endpoint come from.
type SessionConfig struct {
	// Mode is one of static, oauth2 or file.
	Mode         string   `yaml:"mode" envconfig:"SESSION_MODE" validate:"oneof=static oauth2 file"`
	Token        string   `yaml:"token" envconfig:"SESSION_TOKEN"`
	TokenURL     string   `yaml:"tokenUrl" envconfig:"SESSION_TOKEN_URL"`
	ClientID     string   `yaml:"clientId" envconfig:"SESSION_CLIENT_ID"`
	ClientSecret string   `yaml:"clientSecret" envconfig:"SESSION_CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" envconfig:"SESSION_SCOPES"`
	FilePath     string   `yaml:"filePath" envconfig:"SESSION_FILE_PATH"`
	FileKey      string   `yaml:"fileKey" envconfig:"SESSION_FILE_KEY"`
}

// CardsConfig holds request defaults and bounds.
type CardsConfig struct {
	DefaultLocale   string `yaml:"defaultLocale" envconfig:"CARDS_DEFAULT_LOCALE" validate:"required"`
	DefaultTone     string `yaml:"defaultTone" envconfig:"CARDS_DEFAULT_TONE" validate:"required"`
	DefaultCount    int    `yaml:"defaultCount" envconfig:"CARDS_DEFAULT_COUNT" validate:"min=1,max=10"`
	DefaultMaxChars int    `yaml:"defaultMaxChars" envconfig:"CARDS_DEFAULT_MAX_CHARS" validate:"min=1,max=500"`
	TokenEncoding   string `yaml:"tokenEncoding" envconfig:"CARDS_TOKEN_ENCODING"`
}

// CacheConfig selects the card cache backend.
type CacheConfig struct {
	Backend   string        `yaml:"backend" envconfig:"CACHE_BACKEND" validate:"oneof=memory valkey"`
	Addr      string        `yaml:"addr" envconfig:"CACHE_VALKEY_ADDR"`
	Prefix    string        `yaml:"prefix" envconfig:"CACHE_PREFIX"`
	Retention time.Duration `yaml:"retention" envconfig:"CACHE_RETENTION" validate:"gt=0"`
}

// RecipientsConfig contains the recipient store connection.
type RecipientsConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn" envconfig:"RECIPIENTS_POSTGRES_DSN"`
	MaxConns int32  `yaml:"maxConns" envconfig:"RECIPIENTS_POSTGRES_MAX_CONNS"`
	MinConns int32  `yaml:"minConns" envconfig:"RECIPIENTS_POSTGRES_MIN_CONNS"`
}

// WidgetConfig lists the external surfaces receiving published snapshots.
type WidgetConfig struct {
	PublishTimeout time.Duration      `yaml:"publishTimeout" envconfig:"WIDGET_PUBLISH_TIMEOUT" validate:"gt=0"`
	Valkey         WidgetValkeyConfig `yaml:"valkey"`
	Object         WidgetObjectConfig `yaml:"object"`
	FCM            WidgetFCMConfig    `yaml:"fcm"`
}

// WidgetValkeyConfig publishes snapshots as Valkey keys.
type WidgetValkeyConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"WIDGET_VALKEY_ENABLED"`
	Addr    string `yaml:"addr" envconfig:"WIDGET_VALKEY_ADDR"`
	Prefix  string `yaml:"prefix" envconfig:"WIDGET_VALKEY_PREFIX"`
}

// WidgetObjectConfig publishes snapshots as objects in S3-compatible storage.
type WidgetObjectConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"WIDGET_OBJECT_ENABLED"`
	Endpoint  string `yaml:"endpoint" envconfig:"WIDGET_OBJECT_ENDPOINT"`
	AccessKey string `yaml:"accessKey" envconfig:"WIDGET_OBJECT_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" envconfig:"WIDGET_OBJECT_SECRET_KEY"`
	Bucket    string `yaml:"bucket" envconfig:"WIDGET_OBJECT_BUCKET"`
	Region    string `yaml:"region" envconfig:"WIDGET_OBJECT_REGION"`
}

// WidgetFCMConfig sends a data push so devices reload their widgets.
type WidgetFCMConfig struct {
	Enabled         bool   `yaml:"enabled" envconfig:"WIDGET_FCM_ENABLED"`
	CredentialsFile string `yaml:"credentialsFile" envconfig:"WIDGET_FCM_CREDENTIALS_FILE"`
	Topic           string `yaml:"topic" envconfig:"WIDGET_FCM_TOPIC"`
}

// PipelineConfig controls refresh orchestration.
type PipelineConfig struct {
	Concurrency     int           `yaml:"concurrency" envconfig:"PIPELINE_CONCURRENCY" validate:"min=1"`
	GenerateTimeout time.Duration `yaml:"generateTimeout" envconfig:"PIPELINE_GENERATE_TIMEOUT" validate:"gt=0"`
	RefreshInterval time.Duration `yaml:"refreshInterval" envconfig:"PIPELINE_REFRESH_INTERVAL"`
	DefaultTimeZone string        `yaml:"defaultTimeZone" envconfig:"PIPELINE_DEFAULT_TIMEZONE"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig configures retries of transient generation failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" envconfig:"PIPELINE_RETRY_MAX_ATTEMPTS" validate:"min=1"`
	BaseBackoff time.Duration `yaml:"baseBackoff" envconfig:"PIPELINE_RETRY_BASE_BACKOFF" validate:"gt=0"`
	MaxBackoff  time.Duration `yaml:"maxBackoff" envconfig:"PIPELINE_RETRY_MAX_BACKOFF" validate:"gt=0"`
}

// Load reads configuration from a YAML file, an optional .env file and
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 40 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute:   60,
				Burst:               20,
				GenerationPerMinute: 6,
				GenerationBurst:     3,
			},
		},
		Weather: WeatherConfig{
			BaseURL: "https://api.open-meteo.com",
			Timeout: 12 * time.Second,
		},
		Geocoding: GeocodingConfig{
			BaseURL:   "https://nominatim.openstreetmap.org",
			UserAgent: "weathercards/1.0",
			Language:  "zh-CN",
			Timeout:   10 * time.Second,
		},
		CardAPI: CardAPIConfig{
			BaseURL:      "http://localhost:9090",
			Timeout:      12 * time.Second,
			DeviceIDFile: ".device-id",
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Session: SessionConfig{
			Mode: "static",
		},
		Cards: CardsConfig{
			DefaultLocale:   "zh-CN",
			DefaultTone:     "warm",
			DefaultCount:    5,
			DefaultMaxChars: 60,
			TokenEncoding:   "cl100k_base",
		},
		Cache: CacheConfig{
			Backend:   "memory",
			Prefix:    "cards",
			Retention: 7 * 24 * time.Hour,
		},
		Recipients: RecipientsConfig{
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
		Widget: WidgetConfig{
			PublishTimeout: 5 * time.Second,
			Valkey: WidgetValkeyConfig{
				Prefix: "widget",
			},
			FCM: WidgetFCMConfig{
				Topic: "widget-sync",
			},
		},
		Pipeline: PipelineConfig{
			Concurrency:     4,
			GenerateTimeout: 12 * time.Second,
			DefaultTimeZone: "Asia/Shanghai",
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseBackoff: 300 * time.Millisecond,
				MaxBackoff:  5 * time.Second,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Cache.Backend == "valkey" && strings.TrimSpace(c.Cache.Addr) == "" {
		return errors.New("cache.addr cannot be empty when the valkey backend is selected")
	}
	if c.Pipeline.Retry.MaxBackoff < c.Pipeline.Retry.BaseBackoff {
		return errors.New("pipeline.retry.maxBackoff must not be smaller than baseBackoff")
	}
	switch c.Session.Mode {
	case "oauth2":
		if c.Session.TokenURL == "" || c.Session.ClientID == "" {
			return errors.New("session.tokenUrl and session.clientId are required in oauth2 mode")
		}
	case "file":
		if c.Session.FilePath == "" || len(c.Session.FileKey) != 32 {
			return errors.New("session.filePath and a 32 byte session.fileKey are required in file mode")
		}
	}
	if c.Widget.Valkey.Enabled && strings.TrimSpace(c.Widget.Valkey.Addr) == "" {
		return errors.New("widget.valkey.addr cannot be empty when the valkey surface is enabled")
	}
	if c.Widget.Object.Enabled && (c.Widget.Object.Endpoint == "" || c.Widget.Object.Bucket == "") {
		return errors.New("widget.object.endpoint and widget.object.bucket are required when the object surface is enabled")
	}
	if c.Widget.FCM.Enabled && strings.TrimSpace(c.Widget.FCM.Topic) == "" {
		return errors.New("widget.fcm.topic cannot be empty when fcm is enabled")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
		if c.HTTP.RateLimit.GenerationPerMinute < 0 || c.HTTP.RateLimit.GenerationBurst < 0 {
			return errors.New("http.rateLimit generation limits must not be negative")
		}
	}
	return nil
}
