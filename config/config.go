/*
config.go - Service configuration from the environment

PURPOSE:
  Loads every runtime setting from environment variables (and an
  optional .env file) into one immutable Config that main() injects
  into the store, the ledger, the audit sinks and the HTTP server.

VARIABLES:
  PORT               HTTP port (8080)
  API_KEY            Shared secret for X-API-Key (required)
  STORE_DRIVER       sqlite | postgres | memory (sqlite)
  DB_PATH            SQLite file (database.db)
  DATABASE_URL       Postgres DSN, required for STORE_DRIVER=postgres
  AUDIT_CSV_PATH     Audit CSV file (redemptions.csv), empty disables it
  AMQP_URL           Broker for audit events, empty disables it
  AMQP_EXCHANGE      Topic exchange (coin.redemptions)
  MAX_MONTHLY_COINS  Monthly redeem cap (50000000)
  COINS_PER_DOLLAR   Conversion rate (1000000)
  MAX_EXCHANGE_USD   Largest single exchange (100)
  EXPIRY_WINDOW      Age after which pending requests expire (24h)
  EXPIRE_SCHEDULE    Cron spec for the expiry sweep, empty disables it
  RESET_SCHEDULE     Cron spec for the monthly reset, empty disables it
  LOG_LEVEL          logrus level (info)
  LOG_FORMAT         json | text (json)
  CORS_ORIGINS       Comma separated allowed origins

SEE ALSO:
  - cmd/server/main.go: Consumer
  - coin/types.go: coin.Config defaults
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/flipfactory/coin-ledger/coin"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the service.
type Config struct {
	Port        int
	APIKey      string
	StoreDriver string
	DBPath      string
	DatabaseURL string

	AuditCSVPath string
	AMQPURL      string
	AMQPExchange string

	Ledger coin.Config

	ExpireSchedule string
	ResetSchedule  string

	LogLevel    logrus.Level
	LogFormat   string
	CORSOrigins []string
}

var keys = []string{
	"PORT", "API_KEY", "STORE_DRIVER", "DB_PATH", "DATABASE_URL",
	"AUDIT_CSV_PATH", "AMQP_URL", "AMQP_EXCHANGE",
	"MAX_MONTHLY_COINS", "COINS_PER_DOLLAR", "MAX_EXCHANGE_USD", "EXPIRY_WINDOW",
	"EXPIRE_SCHEDULE", "RESET_SCHEDULE",
	"LOG_LEVEL", "LOG_FORMAT", "CORS_ORIGINS",
}

// LoadDotEnv loads the given files (".env" when none) into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("STORE_DRIVER", DriverSQLite)
	viper.SetDefault("DB_PATH", "database.db")
	viper.SetDefault("AUDIT_CSV_PATH", "redemptions.csv")
	viper.SetDefault("AMQP_EXCHANGE", "coin.redemptions")
	viper.SetDefault("MAX_MONTHLY_COINS", coin.DefaultMaxMonthlyCoins)
	viper.SetDefault("COINS_PER_DOLLAR", coin.DefaultCoinsPerDollar)
	viper.SetDefault("MAX_EXCHANGE_USD", coin.DefaultMaxExchangeUSD.String())
	viper.SetDefault("EXPIRY_WINDOW", coin.DefaultExpiryWindow.String())
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	cfg := &Config{
		Port:           viper.GetInt("PORT"),
		APIKey:         strings.TrimSpace(viper.GetString("API_KEY")),
		StoreDriver:    strings.ToLower(strings.TrimSpace(viper.GetString("STORE_DRIVER"))),
		DBPath:         viper.GetString("DB_PATH"),
		DatabaseURL:    viper.GetString("DATABASE_URL"),
		AuditCSVPath:   viper.GetString("AUDIT_CSV_PATH"),
		AMQPURL:        viper.GetString("AMQP_URL"),
		AMQPExchange:   viper.GetString("AMQP_EXCHANGE"),
		ExpireSchedule: strings.TrimSpace(viper.GetString("EXPIRE_SCHEDULE")),
		ResetSchedule:  strings.TrimSpace(viper.GetString("RESET_SCHEDULE")),
		LogFormat:      strings.ToLower(viper.GetString("LOG_FORMAT")),
		CORSOrigins:    splitList(viper.GetString("CORS_ORIGINS")),
	}

	var errs []error

	maxUSD, err := decimal.NewFromString(viper.GetString("MAX_EXCHANGE_USD"))
	if err != nil {
		errs = append(errs, fmt.Errorf("MAX_EXCHANGE_USD: %w", err))
	}
	window, err := time.ParseDuration(viper.GetString("EXPIRY_WINDOW"))
	if err != nil {
		errs = append(errs, fmt.Errorf("EXPIRY_WINDOW: %w", err))
	}
	cfg.Ledger = coin.Config{
		CoinsPerDollar:  viper.GetInt64("COINS_PER_DOLLAR"),
		MaxMonthlyCoins: viper.GetInt64("MAX_MONTHLY_COINS"),
		MaxExchangeUSD:  maxUSD,
		ExpiryWindow:    window,
	}

	level, err := logrus.ParseLevel(viper.GetString("LOG_LEVEL"))
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if len(errs) == 0 {
		errs = append(errs, cfg.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite store"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
