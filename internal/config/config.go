package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "NhaTrangRewards"
	defaultAppEnv          = "development"
	defaultPort            = "3000"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	defaultLedgerNetwork     = "testnet"
	defaultKeyType           = "ed25519"
	defaultProvisionAttempts = 3
	defaultRetryDelay        = 2 * time.Second
	defaultSettlingDelay     = 2 * time.Second
	defaultWelcomeBonus      = 50
	defaultCreditRateLimit   = 30
	defaultBalanceSchedule   = "@every 5m"
	defaultMemorySupply      = 1_000_000_000
	defaultMemoryToken       = "0.0.5005"
)

// NetworkMemory selects the in-process ledger instead of a Hedera network.
const NetworkMemory = "memory"

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName             string
	AppEnv              string
	Port                string
	LogLevel            string
	DatabaseURL         string
	RedisURL            string
	ShutdownPeriod      time.Duration
	IdempotencyTTL      time.Duration
	IdempotencyRequired bool

	Ledger  LedgerConfig
	Rewards RewardsConfig
}

// LedgerConfig holds the ledger network and operator settings.
type LedgerConfig struct {
	Network           string
	OperatorAccountID string
	OperatorKey       string
	KeyType           string
	TokenID           string
	ProvisionAttempts int
	RetryDelay        time.Duration
	SettlingDelay     time.Duration
	MaxTPS            float64
	// MemorySupply seeds the operator treasury when Network is "memory".
	MemorySupply int64
}

// RewardsConfig holds loyalty program settings.
type RewardsConfig struct {
	WelcomeBonus     int64
	CreditAPIKeyHash string
	CreditRateLimit  int
	BalanceSchedule  string
	BalanceLowWater  int64
}

// Load reads configuration values from the environment and populates a Config instance. A .env
// file in the working directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		Ledger: LedgerConfig{
			Network:           strings.ToLower(getEnv("LEDGER_NETWORK", defaultLedgerNetwork)),
			OperatorAccountID: strings.TrimSpace(os.Getenv("OPERATOR_ACCOUNT_ID")),
			OperatorKey:       strings.TrimSpace(os.Getenv("OPERATOR_PRIVATE_KEY")),
			KeyType:           strings.ToLower(getEnv("OPERATOR_KEY_TYPE", defaultKeyType)),
			TokenID:           strings.TrimSpace(os.Getenv("TOKEN_ID")),
		},
		Rewards: RewardsConfig{
			CreditAPIKeyHash: strings.TrimSpace(os.Getenv("CREDIT_API_KEY_HASH")),
			BalanceSchedule:  getEnv("OPERATOR_BALANCE_SCHEDULE", defaultBalanceSchedule),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyRequired, err = boolEnv("IDEMPOTENCY_REQUIRED", false); err != nil {
		return Config{}, err
	}

	if cfg.Ledger.ProvisionAttempts, err = intEnv("PROVISION_ATTEMPTS", defaultProvisionAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.RetryDelay, err = durationEnv("", "PROVISION_RETRY_DELAY", defaultRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.SettlingDelay, err = durationEnv("", "SETTLING_DELAY", defaultSettlingDelay); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.MaxTPS, err = floatEnv("LEDGER_MAX_TPS", 0); err != nil {
		return Config{}, err
	}
	if cfg.Ledger.MemorySupply, err = int64Env("MEMORY_TOKEN_SUPPLY", defaultMemorySupply); err != nil {
		return Config{}, err
	}

	if cfg.Rewards.WelcomeBonus, err = int64Env("WELCOME_BONUS", defaultWelcomeBonus); err != nil {
		return Config{}, err
	}
	if cfg.Rewards.CreditRateLimit, err = intEnv("CREDIT_RATE_LIMIT_PER_MINUTE", defaultCreditRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.Rewards.BalanceLowWater, err = int64Env("OPERATOR_BALANCE_LOW_WATER", 0); err != nil {
		return Config{}, err
	}

	if cfg.Ledger.Network == NetworkMemory && cfg.Ledger.TokenID == "" {
		cfg.Ledger.TokenID = defaultMemoryToken
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Ledger.Network {
	case NetworkMemory:
	case "testnet", "mainnet", "previewnet":
		var missing []string
		if c.Ledger.OperatorAccountID == "" {
			missing = append(missing, "OPERATOR_ACCOUNT_ID")
		}
		if c.Ledger.OperatorKey == "" {
			missing = append(missing, "OPERATOR_PRIVATE_KEY")
		}
		if c.Ledger.TokenID == "" {
			missing = append(missing, "TOKEN_ID")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s must be set for LEDGER_NETWORK=%s", strings.Join(missing, ", "), c.Ledger.Network)
		}
	default:
		return fmt.Errorf("invalid LEDGER_NETWORK %q", c.Ledger.Network)
	}

	switch c.Ledger.KeyType {
	case "ed25519", "ecdsa", "der":
	default:
		return fmt.Errorf("invalid OPERATOR_KEY_TYPE %q", c.Ledger.KeyType)
	}
	if c.Ledger.ProvisionAttempts <= 0 {
		return fmt.Errorf("PROVISION_ATTEMPTS must be positive")
	}
	if c.Rewards.WelcomeBonus <= 0 {
		return fmt.Errorf("WELCOME_BONUS must be positive")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv prefers an integer seconds variable, then a Go duration string.
func durationEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
