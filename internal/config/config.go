package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds the server settings. Fund parameters only apply when no fund
// exists yet in the configured store.
type Config struct {
	AdminID          string          `env:"ADMIN_ID,required"`
	ContributionGoal decimal.Decimal `env:"CONTRIBUTION_GOAL" envDefault:"5"`
	DurationSeconds  int64           `env:"DURATION_SECONDS" envDefault:"2629743"`
	MinContribution  decimal.Decimal `env:"MIN_CONTRIBUTION" envDefault:"0.1"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix string   `env:"KAFKA_TOPIC_PREFIX" envDefault:"crowdfund."`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses command-line flags, loads the optional env file they name and
// reads the environment. Flags take precedence over the environment.
func Load(args []string) (Config, error) {
	flags := pflag.NewFlagSet("crowdfund-server", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "file with KEY=value lines loaded into the environment")
	addr := flags.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	logLevel := flags.String("log-level", "", "log level (overrides LOG_LEVEL)")
	driver := flags.String("store", "", "store driver: memory or postgres (overrides STORE_DRIVER)")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := loadEnvFile(*envFile); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *driver != "" {
		cfg.StoreDriver = *driver
	}
	return cfg, cfg.Validate()
}

// loadEnvFile loads path if it exists. Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first setting that cannot be used to run the server.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AdminID) == "" {
		return errors.New("ADMIN_ID must not be blank")
	}
	if !c.ContributionGoal.IsPositive() {
		return errors.New("CONTRIBUTION_GOAL must be positive")
	}
	if c.DurationSeconds <= 0 {
		return errors.New("DURATION_SECONDS must be positive")
	}
	if c.MinContribution.IsNegative() {
		return errors.New("MIN_CONTRIBUTION must not be negative")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// Duration is the fund lifetime from creation to deadline.
func (c Config) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(level)
	switch c.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	return log, nil
}
