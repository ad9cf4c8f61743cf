package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/anthropic"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/echo"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openai"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openaicompat"
)

// Config represents the gateway configuration.
type Config struct {
	Server       ServerConfig
	CORS         CORSConfig
	OpenAI       openai.Config
	Anthropic    anthropic.Config
	OpenAICompat openaicompat.Config
	Echo         echo.Config
	Storage      StorageConfig
	Credits      CreditsConfig
	Streaming    StreamingConfig
	Observer     ObserverConfig
	Sweeper      SweeperConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int `env:"SERVER_PORT"         envDefault:"8080"`
	ReadTimeout int `env:"SERVER_READ_TIMEOUT" envDefault:"30"`

	// WriteTimeout is zero by default so long-lived streams are not cut off.
	WriteTimeout int `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization,X-User-Id,X-User-Role,X-Request-ID"`
	ExposedHeaders   []string `env:"CORS_EXPOSED_HEADERS"   envSeparator:"," envDefault:"X-Session-Id,X-Request-ID"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// StorageConfig selects the ledger and session store backends.
type StorageConfig struct {
	// LedgerDriver is one of memory, sqlite, mysql.
	LedgerDriver string `env:"LEDGER_DRIVER" envDefault:"memory"`
	LedgerDSN    string `env:"LEDGER_DSN"    envDefault:"chatmeter.db"`

	// SessionStore is one of ledger (same backend as the ledger) or redis.
	SessionStore string `env:"SESSION_STORE" envDefault:"ledger"`

	RedisAddr     string        `env:"REDIS_ADDR"         envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"           envDefault:"0"`
	RedisRetain   time.Duration `env:"REDIS_SESSION_RETAIN" envDefault:"168h"`
}

// CreditsConfig contains pricing and reconciliation settings.
type CreditsConfig struct {
	Service          string  `env:"CREDITS_SERVICE"            envDefault:"chat"`
	DefaultRate      float64 `env:"CREDITS_DEFAULT_RATE"       envDefault:"1"`
	PricingFile      string  `env:"CREDITS_PRICING_FILE"`
	ChargeOverage    bool    `env:"LEDGER_CHARGE_OVERAGE"      envDefault:"false"`
	RefundExpiryDays int     `env:"CREDITS_REFUND_EXPIRY_DAYS" envDefault:"30"`

	// AccountingURL points the pipeline at a remote accounting service instead of the local ledger.
	AccountingURL     string        `env:"ACCOUNTING_URL"`
	AccountingTimeout time.Duration `env:"ACCOUNTING_TIMEOUT" envDefault:"10s"`
}

// StreamingConfig contains chunk pipeline settings.
type StreamingConfig struct {
	Timeout          time.Duration `env:"STREAM_TIMEOUT"            envDefault:"5m"`
	LedgerTimeout    time.Duration `env:"STREAM_LEDGER_TIMEOUT"     envDefault:"10s"`
	DefaultMaxTokens int           `env:"STREAM_DEFAULT_MAX_TOKENS" envDefault:"1000"`
	EstimateMargin   float64       `env:"STREAM_ESTIMATE_MARGIN"    envDefault:"1.2"`
	SinkBuffer       int           `env:"STREAM_SINK_BUFFER"        envDefault:"64"`
	SinkStall        time.Duration `env:"STREAM_SINK_STALL_TIMEOUT" envDefault:"30s"`

	// Tokenizer is heuristic or tiktoken.
	Tokenizer string `env:"TOKENIZER" envDefault:"heuristic"`
}

// ObserverConfig contains broadcast manager and observer access settings.
type ObserverConfig struct {
	HistorySize int           `env:"OBSERVER_HISTORY_SIZE" envDefault:"1000"`
	Grace       time.Duration `env:"OBSERVER_GRACE"        envDefault:"60s"`
	MailboxSize int           `env:"OBSERVER_MAILBOX_SIZE" envDefault:"256"`
	Roles       []string      `env:"OBSERVER_ROLES"        envDefault:"admin,supervisor" envSeparator:","`
}

// SweeperConfig contains stale session sweeping settings.
type SweeperConfig struct {
	Enabled  bool          `env:"SWEEPER_ENABLED"  envDefault:"true"`
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"1m"`
	MaxAge   time.Duration `env:"SESSION_MAX_AGE"  envDefault:"15m"`
}

// DepConfig is used for dependency injection with dig.
// Provider configs share the type name Config, so fields are named.
type DepConfig struct {
	dig.Out
	Server       *ServerConfig
	CORS         *CORSConfig
	OpenAI       *openai.Config
	Anthropic    *anthropic.Config
	OpenAICompat *openaicompat.Config
	Echo         *echo.Config
	Storage      *StorageConfig
	Credits      *CreditsConfig
	Streaming    *StreamingConfig
	Observer     *ObserverConfig
	Sweeper      *SweeperConfig
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		dig.Out{},
		&cfg.Server,
		&cfg.CORS,
		&cfg.OpenAI,
		&cfg.Anthropic,
		&cfg.OpenAICompat,
		&cfg.Echo,
		&cfg.Storage,
		&cfg.Credits,
		&cfg.Streaming,
		&cfg.Observer,
		&cfg.Sweeper,
	}
}
