package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverGorm     = "gorm"

	// FallbackDisabled as GEMINI_FALLBACK_MODEL turns the fallback model off.
	FallbackDisabled = "none"
)

type Config struct {
	// Server
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	Env             string        `yaml:"env" env:"ENV" env-default:"development"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`

	// Database
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-required:"true"`
	StoreDriver string `yaml:"store_driver" env:"STORE_DRIVER" env-default:"postgres"`

	// Redis
	RedisURL        string        `yaml:"redis_url" env:"REDIS_URL" env-required:"true"`
	StudySessionTTL time.Duration `yaml:"study_session_ttl" env:"STUDY_SESSION_TTL" env-default:"24h"`

	// JWT
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`

	// Gemini AI
	GeminiAPIKey         string        `yaml:"gemini_api_key" env:"GEMINI_API_KEY" env-required:"true"`
	GeminiModel          string        `yaml:"gemini_model" env:"GEMINI_MODEL" env-default:"gemini-2.5-flash"`
	GeminiFallbackModel  string        `yaml:"gemini_fallback_model" env:"GEMINI_FALLBACK_MODEL" env-default:"gemini-2.0-flash"`
	GeminiMaxAttempts    int           `yaml:"gemini_max_attempts" env:"GEMINI_MAX_ATTEMPTS" env-default:"2"`
	GeminiRetryDelay     time.Duration `yaml:"gemini_retry_delay" env:"GEMINI_RETRY_DELAY" env-default:"500ms"`
	GeminiTimeout        time.Duration `yaml:"gemini_timeout" env:"GEMINI_TIMEOUT" env-default:"60s"`
	GeminiConcurrentReqs int           `yaml:"gemini_concurrent_requests" env:"GEMINI_CONCURRENT_REQUESTS" env-default:"5"`

	// Rate limits, per client IP per minute
	AuthRateLimit     int `yaml:"auth_rate_limit" env:"AUTH_RATE_LIMIT" env-default:"10"`
	GenerateRateLimit int `yaml:"generate_rate_limit" env:"GENERATE_RATE_LIMIT" env-default:"5"`

	// SMTP
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass string `yaml:"smtp_pass" env:"SMTP_PASS"`
	SMTPFrom string `yaml:"smtp_from" env:"SMTP_FROM" env-default:"Vibecards <vibecards@resend.dev>"`

	MailWorkers   int `yaml:"mail_workers" env:"MAIL_WORKERS" env-default:"2"`
	MailQueueSize int `yaml:"mail_queue_size" env:"MAIL_QUEUE_SIZE" env-default:"100"`

	// Frontend
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL" env-default:"http://localhost:3000"`
}

// Load reads .env if present, then the YAML file named by CONFIG_PATH or the
// process environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	var cfg Config
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(cfg.GeminiFallbackModel), FallbackDisabled) {
		cfg.GeminiFallbackModel = ""
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverGorm {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverGorm, c.StoreDriver))
	}
	if c.GeminiMaxAttempts < 1 {
		errs = append(errs, errors.New("GEMINI_MAX_ATTEMPTS must be at least 1"))
	}
	if c.GeminiConcurrentReqs < 1 {
		errs = append(errs, errors.New("GEMINI_CONCURRENT_REQUESTS must be at least 1"))
	}
	if c.GeminiTimeout <= 0 {
		errs = append(errs, errors.New("GEMINI_TIMEOUT must be positive"))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if c.AuthRateLimit < 1 || c.GenerateRateLimit < 1 {
		errs = append(errs, errors.New("rate limits must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
