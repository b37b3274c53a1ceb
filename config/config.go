// Package config loads process configuration from the environment and
// season definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig           `envPrefix:"APP_"`
	Meetup        MeetupConfig        `envPrefix:"MEETUP_"`
	Database      DatabaseConfig      `envPrefix:"DATABASE_"`
	Redis         RedisConfig         `envPrefix:"REDIS_"`
	HTTP          HTTPConfig          `envPrefix:"HTTP_"`
	Observability ObservabilityConfig `envPrefix:"OBSERVABILITY_"`
}

// AppConfig holds general settings.
type AppConfig struct {
	Name        string      `env:"NAME" envDefault:"meetupstats"`
	Environment Environment `env:"ENV" envDefault:"development" validate:"oneof=development production"`
	// Timezone is used for season dates and event times without an offset.
	Timezone string `env:"TIMEZONE" envDefault:"America/New_York" validate:"timezone"`
	// DataDir is where dataset files are written by default.
	DataDir string `env:"DATA_DIR" envDefault:"data"`
}

// MeetupConfig holds Meetup GraphQL API settings.
type MeetupConfig struct {
	Endpoint string `env:"ENDPOINT" envDefault:"https://api.meetup.com/gql" validate:"required,url"`
	// Token wins over TokenFile when both are set.
	Token     string `env:"TOKEN"`
	TokenFile string `env:"TOKEN_FILE"`
	Group     string `env:"GROUP"`

	Timeout          time.Duration `env:"TIMEOUT" envDefault:"30s" validate:"gt=0"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"10" validate:"min=1"`
	RequestsPerSec   float64       `env:"REQUESTS_PER_SECOND" envDefault:"2" validate:"gt=0"`
	Burst            int           `env:"BURST" envDefault:"4" validate:"min=1"`
	BreakerThreshold int           `env:"BREAKER_THRESHOLD" envDefault:"5" validate:"min=1"`
	BreakerTimeout   time.Duration `env:"BREAKER_TIMEOUT" envDefault:"1m" validate:"gt=0"`
	ProgressEvery    int           `env:"PROGRESS_EVERY" envDefault:"10" validate:"min=1"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL disables the
// database.
type DatabaseConfig struct {
	URL             string        `env:"URL"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"4" validate:"min=1"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	ConnectTimeout  time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	// Migrate applies pending migrations at start-up.
	Migrate bool `env:"MIGRATE" envDefault:"true"`
}

// RedisConfig holds the page cache settings. An empty Addr disables the
// cache.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0" validate:"min=0,max=15"`
	PageTTL  time.Duration `env:"PAGE_TTL" envDefault:"6h" validate:"gt=0"`
}

// HTTPConfig holds the report API server settings.
type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080" validate:"required"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	HealthTimeout   time.Duration `env:"HEALTH_TIMEOUT" envDefault:"2s" validate:"gt=0"`
}

// ObservabilityConfig holds logging and telemetry settings.
type ObservabilityConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	LogOutput string `env:"LOG_OUTPUT" envDefault:"stderr"`

	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	SampleRatio    float64 `env:"SAMPLE_RATIO" envDefault:"1" validate:"min=0,max=1"`
}

// Load reads an optional .env file, parses the environment and validates
// the result. Variables already set in the environment win over .env.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("configuration errors:\n  - %s", strings.Join(msgs, "\n  - "))
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// Location returns the configured time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
