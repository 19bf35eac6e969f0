package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Storage      StorageConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Password     PasswordConfig
	Escrow       EscrowConfig
	Bitcoin      BitcoinConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StorageConfig selects where tickets are persisted.
type StorageConfig struct {
	Backend string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// PasswordConfig is the minimum argon2id strength for party passwords.
// Stored hashes below these parameters are rehashed on the next successful
// verification.
type PasswordConfig struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// EscrowConfig holds the per-status expiry thresholds and the sweep cadence.
type EscrowConfig struct {
	ConfigurationDelay time.Duration
	ReceptionDelay     time.Duration
	ReceivedDelay      time.Duration
	SendingDelay       time.Duration
	SentDelay          time.Duration
	DisputeDelay       time.Duration
	SweepInterval      time.Duration
}

// BitcoinConfig configures the "btc" ticket kind.
type BitcoinConfig struct {
	Rate            float64
	MasterAddress   string
	Confirmations   int
	StaticMinimal   int64
	RelativeMinimal int64
	Testnet         bool
	EsploraURL      string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
// Extra env files are loaded before the default .env; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rate, err := strconv.ParseFloat(getEnv("BTC_RATE", "0.99"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid BTC_RATE: %w", err)
	}
	if rate <= 0 || rate > 1 {
		return nil, fmt.Errorf("invalid BTC_RATE %v: must be in (0, 1]", rate)
	}

	testnet := getEnvAsBool("BTC_TESTNET", true)
	esplora := "https://blockstream.info/api"
	if testnet {
		esplora = "https://blockstream.info/testnet/api"
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "cashplace-escrow"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "cashplace:"),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", defaultBackend())),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Password: PasswordConfig{
			Time:      uint32(getEnvAsInt("PASSWORD_ARGON2_TIME", 3)),
			MemoryKiB: uint32(getEnvAsInt("PASSWORD_ARGON2_MEMORY_KIB", 64*1024)),
			Threads:   uint8(getEnvAsInt("PASSWORD_ARGON2_THREADS", 4)),
		},
		Escrow: EscrowConfig{
			ConfigurationDelay: getEnvAsDuration("ESCROW_CONFIGURATION_DELAY", time.Hour),
			ReceptionDelay:     getEnvAsDuration("ESCROW_RECEPTION_DELAY", 24*time.Hour),
			ReceivedDelay:      getEnvAsDuration("ESCROW_RECEIVED_DELAY", 30*24*time.Hour),
			SendingDelay:       getEnvAsDuration("ESCROW_SENDING_DELAY", 24*time.Hour),
			SentDelay:          getEnvAsDuration("ESCROW_SENT_DELAY", 7*24*time.Hour),
			DisputeDelay:       getEnvAsDuration("ESCROW_DISPUTE_DELAY", 30*24*time.Hour),
			SweepInterval:      getEnvAsDuration("ESCROW_SWEEP_INTERVAL", time.Minute),
		},
		Bitcoin: BitcoinConfig{
			Rate:            rate,
			MasterAddress:   os.Getenv("BTC_MASTER_ADDRESS"),
			Confirmations:   getEnvAsInt("BTC_CONFIRMATIONS", 1),
			StaticMinimal:   int64(getEnvAsInt("BTC_STATIC_MINIMAL", 10000)),
			RelativeMinimal: int64(getEnvAsInt("BTC_RELATIVE_MINIMAL", 400)),
			Testnet:         testnet,
			EsploraURL:      getEnv("BTC_ESPLORA_URL", esplora),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case StoragePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("STORAGE_BACKEND=postgres requires POSTGRES_DSN")
		}
	case StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Escrow.SweepInterval <= 0 {
		return fmt.Errorf("ESCROW_SWEEP_INTERVAL must be positive")
	}
	if c.Bitcoin.Confirmations < 0 {
		return fmt.Errorf("BTC_CONFIRMATIONS must not be negative")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func defaultBackend() string {
	if os.Getenv("POSTGRES_DSN") != "" {
		return StoragePostgres
	}
	return StorageMemory
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go duration strings ("90m") or plain seconds ("5400").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	seconds, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
