package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMinIO    = "minio"
	DriverMemory   = "memory"
)

type Config struct {
	GuidanceProvider     string        `envconfig:"GUIDANCE_PROVIDER" default:"gemini"`
	GeminiAPIKey         string        `envconfig:"GEMINI_API_KEY"`
	GeminiTextModel      string        `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash"`
	GeminiImageModel     string        `envconfig:"GEMINI_IMAGE_MODEL" default:"gemini-2.5-flash-image"`
	OpenAIAPIKey         string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel          string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIImageModel     string        `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`
	GuidanceTimeout      time.Duration `envconfig:"GUIDANCE_TIMEOUT" default:"60s"`
	GuidanceHistoryLimit int           `envconfig:"GUIDANCE_HISTORY_LIMIT" default:"10"`

	StoreDriver    string `envconfig:"STORE_DRIVER" default:"sqlite"`
	DatabaseURL    string `envconfig:"DATABASE_URL" default:"wellness.db"`
	MinIOEndpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinIOAccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `envconfig:"MINIO_SECRET_KEY"`
	MinIOBucket    string `envconfig:"MINIO_BUCKET" default:"wellness"`
	MinIOSecure    bool   `envconfig:"MINIO_SECURE" default:"false"`

	HTTPPort  string        `envconfig:"HTTP_PORT" default:"8080"`
	LogLevel  string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile   string        `envconfig:"LOG_FILE"`
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
}

var AppConfig Config

// LoadConfig reads an optional .env file, parses the environment into AppConfig
// and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses the environment into AppConfig without validating it, for tools
// that never call the guidance provider.
func Load() (*Config, error) {
	// A missing .env file is fine; the environment is authoritative.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	AppConfig = cfg
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.GuidanceProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unsupported GUIDANCE_PROVIDER: %s", c.GuidanceProvider)
	}

	switch c.StoreDriver {
	case DriverSQLite, DriverPostgres, DriverMinIO, DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}

	if c.GuidanceHistoryLimit < 0 {
		return fmt.Errorf("GUIDANCE_HISTORY_LIMIT must not be negative")
	}
	return nil
}
