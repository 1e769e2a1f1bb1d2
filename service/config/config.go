package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/knockturn/service/money"
)

// Sweep modes select who drives the periodic expiry sweep.
const (
	SweepModeLocal    = "local"
	SweepModeTemporal = "temporal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
	PublicURL   string

	// Database configuration
	DatabaseURL string

	// Wallet configuration
	WalletURL      string
	WalletUser     string
	WalletPassword string
	WalletTimeout  time.Duration

	// Fee schedule applied to payouts
	Fees money.FeeSchedule

	// Lifecycle configuration
	NewPayoutTTL        time.Duration
	PendingPayoutTTL    time.Duration
	NewPaymentTTL       time.Duration
	PendingPaymentTTL   time.Duration
	PayoutConfirmations int

	// Sweeper configuration
	SweepInterval time.Duration
	SweepMode     string

	// NATS configuration
	NATSURL    string
	NATSStream string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.PublicURL = strings.TrimRight(getEnvOrDefault("PUBLIC_URL", "http://localhost:8080"), "/")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Wallet configuration
	cfg.WalletURL = os.Getenv("WALLET_URL")
	if cfg.WalletURL == "" {
		errs = append(errs, fmt.Errorf("WALLET_URL is required"))
	} else if u, err := url.Parse(cfg.WalletURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("WALLET_URL: invalid url %q", cfg.WalletURL))
	}
	cfg.WalletUser = getEnvOrDefault("WALLET_USER", "grin")
	cfg.WalletPassword = os.Getenv("WALLET_PASSWORD")

	if d, err := parseDuration("WALLET_TIMEOUT", "30s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.WalletTimeout = d
	}

	// Fee schedule
	defaults := money.DefaultFeeSchedule()
	if v, err := parseInt64("TRANSFER_FEE", defaults.TransferFee); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Fees.TransferFee = v
	}
	if v, err := parseFloat("SERVICE_SHARE", defaults.ServiceShare); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Fees.ServiceShare = v
	}
	if v, err := parseInt64("MINIMAL_WITHDRAW", defaults.MinimalWithdraw); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Fees.MinimalWithdraw = v
	}

	// Lifecycle configuration
	if d, err := parseDuration("NEW_PAYOUT_TTL", "120h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.NewPayoutTTL = d
	}
	if d, err := parseDuration("PENDING_PAYOUT_TTL", "24h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PendingPayoutTTL = d
	}
	if d, err := parseDuration("NEW_PAYMENT_TTL", "24h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.NewPaymentTTL = d
	}
	if d, err := parseDuration("PENDING_PAYMENT_TTL", "48h"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PendingPaymentTTL = d
	}
	if n, err := parseInt("PAYOUT_CONFIRMATIONS", 10); err != nil {
		errs = append(errs, err)
	} else {
		cfg.PayoutConfirmations = n
	}

	// Sweeper configuration
	if d, err := parseDuration("SWEEP_INTERVAL", "5s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SweepInterval = d
	}
	cfg.SweepMode = getEnvOrDefault("SWEEP_MODE", SweepModeLocal)

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")
	cfg.NATSStream = getEnvOrDefault("NATS_STREAM", "KNOCKTURN_TRANSACTIONS")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "knockturn-sweeper")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.WalletURL == "" {
		errs = append(errs, fmt.Errorf("WalletURL is required"))
	}

	if c.WalletTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WalletTimeout must be positive"))
	}

	if c.Fees.TransferFee < 0 {
		errs = append(errs, fmt.Errorf("TransferFee cannot be negative"))
	}

	if c.Fees.ServiceShare < 0 || c.Fees.ServiceShare >= 1 {
		errs = append(errs, fmt.Errorf("ServiceShare must be in [0, 1)"))
	}

	if c.Fees.MinimalWithdraw <= 0 {
		errs = append(errs, fmt.Errorf("MinimalWithdraw must be positive"))
	} else if _, err := c.Fees.Net(c.Fees.MinimalWithdraw); err != nil {
		errs = append(errs, fmt.Errorf("fees exceed MinimalWithdraw"))
	}

	if c.NewPayoutTTL <= 0 || c.PendingPayoutTTL <= 0 || c.NewPaymentTTL <= 0 || c.PendingPaymentTTL <= 0 {
		errs = append(errs, fmt.Errorf("TTLs must be positive"))
	}

	if c.PayoutConfirmations < 1 {
		errs = append(errs, fmt.Errorf("PayoutConfirmations must be at least 1"))
	}

	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Errorf("SweepInterval must be at least 1 second"))
	}

	if c.SweepMode != SweepModeLocal && c.SweepMode != SweepModeTemporal {
		errs = append(errs, fmt.Errorf("SweepMode must be %q or %q", SweepModeLocal, SweepModeTemporal))
	}

	if c.SweepMode == SweepModeTemporal {
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required"))
		}
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q: %w", key, value, err)
	}
	return result, nil
}
