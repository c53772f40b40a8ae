package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"chainintel/internal/simulator"
	"chainintel/internal/store"
	"chainintel/internal/telemetry"
)

// envPrefix is the prefix for all environment variables, e.g.
// CHAINTEL_SERVER_PORT.
const envPrefix = "CHAINTEL"

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security   SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Database   store.Config     `yaml:"database" envconfig:"DATABASE"`
	Telemetry  telemetry.Config `yaml:"telemetry" envconfig:"TELEMETRY"`
	Simulation SimulationConfig `yaml:"simulation" envconfig:"SIMULATION"`
	Forecast   ForecastConfig   `yaml:"forecast" envconfig:"FORECAST"`
	WebSocket  WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
	Export     ExportConfig     `yaml:"export" envconfig:"EXPORT"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// ForecastTimeout bounds a single forecast request; fits are CPU-bound
	// and can run long on large horizons.
	ForecastTimeout time.Duration `yaml:"forecast_timeout" envconfig:"FORECAST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// SimulationConfig controls the synthetic-history fallback. Disabled by
// default: absence of real history is surfaced as an error unless simulation
// is explicitly turned on.
type SimulationConfig struct {
	Enabled   bool             `yaml:"enabled" envconfig:"ENABLED"`
	Generator simulator.Config `yaml:"generator" envconfig:"GENERATOR"`
}

// ForecastConfig carries the model defaults and the run parameters the
// service applies when a request leaves them unset.
type ForecastConfig struct {
	ChangepointFlexibility  float64 `yaml:"changepoint_flexibility" envconfig:"CHANGEPOINT_FLEXIBILITY"`
	IntervalWidth           float64 `yaml:"interval_width" envconfig:"INTERVAL_WIDTH"`
	WeeklySeasonality       bool    `yaml:"weekly_seasonality" envconfig:"WEEKLY_SEASONALITY"`
	DefaultHorizonDays      int     `yaml:"default_horizon_days" envconfig:"DEFAULT_HORIZON_DAYS"`
	DefaultValidationWindow int     `yaml:"default_validation_window" envconfig:"DEFAULT_VALIDATION_WINDOW"`
	HistoryDays             int     `yaml:"history_days" envconfig:"HISTORY_DAYS"`
	// MaxConcurrentFits gates CPU-bound fitting so forecast bursts cannot
	// starve the rest of the service.
	MaxConcurrentFits int64 `yaml:"max_concurrent_fits" envconfig:"MAX_CONCURRENT_FITS"`
}

// WebSocketConfig contains WebSocket configuration.
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// ExportConfig contains report export configuration.
type ExportConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

// defaultConfig returns the built-in defaults. File and environment values
// are layered on top of these.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ForecastTimeout: 2 * time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/chainintel.log",
		},
		Database: store.Config{
			MaxOpenConns:    store.DefaultMaxOpenConns,
			MaxIdleConns:    store.DefaultMaxIdleConns,
			ConnMaxLifetime: store.DefaultConnMaxLifetime,
		},
		Telemetry: telemetry.Config{
			Timeout:   telemetry.DefaultTimeout,
			BatchSize: telemetry.DefaultBatchSize,
		},
		Simulation: SimulationConfig{
			Generator: simulator.Config{
				Seed:            simulator.DefaultSeed,
				Days:            simulator.DefaultDays,
				CurrentTotal:    simulator.DefaultCurrentTotal,
				BaseDailyGrowth: simulator.DefaultBaseDailyGrowth,
				MaxVariance:     simulator.DefaultMaxVariance,
			},
		},
		Forecast: ForecastConfig{
			ChangepointFlexibility:  0.001,
			IntervalWidth:           0.90,
			WeeklySeasonality:       false,
			DefaultHorizonDays:      180,
			DefaultValidationWindow: 14,
			HistoryDays:             90,
			MaxConcurrentFits:       4,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Export: ExportConfig{
			Dir: "reports",
		},
	}
}

// Load loads configuration from built-in defaults, then a YAML file when
// present, then environment variables. Later layers win.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration using the given YAML file path.
func LoadFrom(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	// Environment overrides file and default values.
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// configFilePath returns the config file location, overridable via
// CHAINTEL_CONFIG_FILE.
func configFilePath() string {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}
	return "config.yaml"
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Forecast.IntervalWidth <= 0 || c.Forecast.IntervalWidth >= 1 {
		return fmt.Errorf("interval width must be in (0, 1), got %v", c.Forecast.IntervalWidth)
	}
	if c.Forecast.ChangepointFlexibility <= 0 {
		return fmt.Errorf("changepoint flexibility must be positive, got %v", c.Forecast.ChangepointFlexibility)
	}
	if c.Forecast.DefaultHorizonDays < 1 {
		return fmt.Errorf("default horizon must be positive, got %d", c.Forecast.DefaultHorizonDays)
	}
	if c.Forecast.DefaultValidationWindow < 1 {
		return fmt.Errorf("default validation window must be positive, got %d", c.Forecast.DefaultValidationWindow)
	}
	if c.Forecast.MaxConcurrentFits < 1 {
		return fmt.Errorf("max concurrent fits must be positive, got %d", c.Forecast.MaxConcurrentFits)
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive when enabled, got %v", c.Security.RateLimit.RPS)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
