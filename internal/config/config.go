// Package config provides application configuration. Values come from, in
// increasing priority: built-in defaults, an optional TOML file named by
// PREDEX_CONFIG, a .env file in the working directory, and the process
// environment. Use the package-level Get() function to obtain the singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        `toml:"port"`            // e.g. "8080"
	BackofficePort       string        `toml:"backoffice_port"` // e.g. "8081"
	Env                  string        `toml:"env"`             // "development" | "production"
	ReadTimeout          time.Duration `toml:"read_timeout"`
	WriteTimeout         time.Duration `toml:"write_timeout"`
	BackofficeAllowedIPs string        `toml:"backoffice_allowed_ips"` // comma-separated; "" = allow all
	AllowedOrigins       []string      `toml:"allowed_origins"`        // CORS + websocket origins; empty = any
	RateLimitRPS         float64       `toml:"rate_limit_rps"`         // per-IP token bucket
}

// DBConfig holds store settings.
type DBConfig struct {
	Driver          string        `toml:"driver"` // "postgres" | "memory"
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// JWTConfig holds token settings. Tokens are issued after a wallet
// signature login or by an external identity provider sharing the secret.
type JWTConfig struct {
	AccessSecret string        `toml:"access_secret"`
	AdminRole    string        `toml:"admin_role"` // value of the "role" claim that marks admins
	AccessTTL    time.Duration `toml:"access_ttl"`
	RefreshTTL   time.Duration `toml:"refresh_ttl"`
	LoginMaxAge  time.Duration `toml:"login_max_age"` // oldest accepted signed login message
}

// EngineConfig holds market engine parameters.
type EngineConfig struct {
	DefaultFeeRate        float64       `toml:"default_fee_rate"`        // 0.01 = 1%
	DefaultWindow         time.Duration `toml:"default_window"`          // challenge window
	MaxWindow             time.Duration `toml:"max_window"`              // hard cap 72h
	MaxChallenges         int           `toml:"max_challenges"`          // per proposal
	SettlementBatchSize   int           `toml:"settlement_batch_size"`   // positions per transaction
	MinTradeAmount        float64       `toml:"min_trade_amount"`        // currency
	ConservationTolerance float64       `toml:"conservation_tolerance"`  // ε for the audit
	OrderBookDepth        int           `toml:"order_book_depth"`        // levels per side in snapshots
}

// PriceConfig holds the oracle price feed settings: three exchange sources
// blended by weight.
type PriceConfig struct {
	BinanceURL    string        `toml:"binance_url"`
	BybitURL      string        `toml:"bybit_url"`
	OKXURL        string        `toml:"okx_url"`
	FetchTimeout  time.Duration `toml:"fetch_timeout"`
	CacheTTL      time.Duration `toml:"cache_ttl"`
	MaxRetries    int           `toml:"max_retries"`
	BinanceWeight int           `toml:"binance_weight"` // weight percentages, sum 100
	BybitWeight   int           `toml:"bybit_weight"`
	OKXWeight     int           `toml:"okx_weight"`
}

// ChainConfig holds on-chain verification settings. An empty RPCURL
// disables deposits and contract-backed resolution.
type ChainConfig struct {
	RPCURL        string        `toml:"rpc_url"`
	Treasury      string        `toml:"treasury"`
	Token         string        `toml:"token"`
	Decimals      int           `toml:"decimals"`
	Confirmations int           `toml:"confirmations"`
	Timeout       time.Duration `toml:"timeout"`
}

// RedisConfig enables pub/sub notifications and scheduler locks when Addr is set.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	TLS           bool   `toml:"tls"`
	ChannelPrefix string `toml:"channel_prefix"`
}

// S3Config enables ledger archiving when Bucket is set.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// SchedulerConfig holds sweep intervals.
type SchedulerConfig struct {
	EndInterval     time.Duration `toml:"end_interval"`
	OracleInterval  time.Duration `toml:"oracle_interval"`
	SettleInterval  time.Duration `toml:"settle_interval"`
	RematchInterval time.Duration `toml:"rematch_interval"`
	ArchiveInterval time.Duration `toml:"archive_interval"`
	AuditInterval   time.Duration `toml:"audit_interval"`
	LockTTL         time.Duration `toml:"lock_ttl"`
	BatchLimit      int           `toml:"batch_limit"` // markets per sweep run
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	DB        DBConfig        `toml:"db"`
	JWT       JWTConfig       `toml:"jwt"`
	Engine    EngineConfig    `toml:"engine"`
	Price     PriceConfig     `toml:"price"`
	Chain     ChainConfig     `toml:"chain"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Admins    []string        `toml:"admins"` // addresses with admin rights
}

// MaxWindowCap is the hard upper bound for any challenge window.
const MaxWindowCap = 72 * time.Hour

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// IsAdmin reports whether address is in the configured admin list.
func (c *Config) IsAdmin(address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	for _, a := range c.Admins {
		if strings.ToLower(strings.TrimSpace(a)) == address && address != "" {
			return true
		}
	}
	return false
}

// Validate checks that all required configuration values are present and valid.
// Every problem is reported, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	switch c.DB.Driver {
	case "postgres":
		if c.IsProd() && c.DB.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
		}
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.DB.Driver))
	}

	total := c.Price.BinanceWeight + c.Price.BybitWeight + c.Price.OKXWeight
	if total != 100 {
		errs = append(errs, fmt.Errorf(
			"price weights must sum to 100, got %d (Binance=%d Bybit=%d OKX=%d)",
			total, c.Price.BinanceWeight, c.Price.BybitWeight, c.Price.OKXWeight,
		))
	}

	e := c.Engine
	if e.DefaultFeeRate < 0 || e.DefaultFeeRate >= 1 {
		errs = append(errs, fmt.Errorf("ENGINE_FEE_RATE must be in [0,1), got %.4f", e.DefaultFeeRate))
	}
	if e.MaxWindow <= 0 || e.MaxWindow > MaxWindowCap {
		errs = append(errs, fmt.Errorf("ENGINE_MAX_WINDOW must be in (0,%s], got %s", MaxWindowCap, e.MaxWindow))
	}
	if e.DefaultWindow <= 0 || e.DefaultWindow > e.MaxWindow {
		errs = append(errs, fmt.Errorf("ENGINE_DEFAULT_WINDOW must be in (0,ENGINE_MAX_WINDOW], got %s", e.DefaultWindow))
	}
	if e.MaxChallenges <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_MAX_CHALLENGES must be positive, got %d", e.MaxChallenges))
	}
	if e.SettlementBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_SETTLEMENT_BATCH must be positive, got %d", e.SettlementBatchSize))
	}
	if e.MinTradeAmount < 0 {
		errs = append(errs, fmt.Errorf("ENGINE_MIN_TRADE must not be negative, got %f", e.MinTradeAmount))
	}

	if c.Chain.RPCURL != "" && c.Chain.Treasury == "" {
		errs = append(errs, errors.New("CHAIN_TREASURY must be set when CHAIN_RPC_URL is"))
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, errors.New("S3_REGION must be set when S3_BUCKET is"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once.
// Panics if loading fails: call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			BackofficePort: "8081",
			Env:            "development",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RateLimitRPS:   20,
		},
		DB: DBConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		JWT: JWTConfig{
			AdminRole:   "admin",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  7 * 24 * time.Hour,
			LoginMaxAge: 5 * time.Minute,
		},
		Engine: EngineConfig{
			DefaultFeeRate:        0.01,
			DefaultWindow:         6 * time.Hour,
			MaxWindow:             MaxWindowCap,
			MaxChallenges:         5,
			SettlementBatchSize:   500,
			MinTradeAmount:        0.000001,
			ConservationTolerance: 0.000001,
			OrderBookDepth:        20,
		},
		Price: PriceConfig{
			BinanceURL:    "https://api.binance.com",
			BybitURL:      "https://api.bybit.com",
			OKXURL:        "https://www.okx.com",
			FetchTimeout:  2 * time.Second,
			CacheTTL:      1 * time.Second,
			MaxRetries:    3,
			BinanceWeight: 50,
			BybitWeight:   30,
			OKXWeight:     20,
		},
		Chain: ChainConfig{
			Decimals:      6,
			Confirmations: 12,
			Timeout:       10 * time.Second,
		},
		Redis: RedisConfig{PoolSize: 10, ChannelPrefix: "predex"},
		S3:    S3Config{Prefix: "ledger"},
		Scheduler: SchedulerConfig{
			EndInterval:     5 * time.Second,
			OracleInterval:  10 * time.Second,
			SettleInterval:  5 * time.Second,
			RematchInterval: 15 * time.Second,
			ArchiveInterval: 10 * time.Minute,
			AuditInterval:   5 * time.Minute,
			LockTTL:         30 * time.Second,
			BatchLimit:      50,
		},
	}
}

func load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("PREDEX_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("PREDEX_CONFIG %q: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) error {
	var err error

	// ── Server ────────────────────────────────────────────────────────────────
	s := &cfg.Server
	s.Port = getEnv("SERVER_PORT", s.Port)
	s.BackofficePort = getEnv("BACKOFFICE_PORT", s.BackofficePort)
	s.Env = getEnv("ENVIRONMENT", s.Env)
	s.ReadTimeout = getDuration("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.BackofficeAllowedIPs = getEnv("BACKOFFICE_ALLOWED_IPS", s.BackofficeAllowedIPs)
	s.AllowedOrigins = getList("WS_ALLOWED_ORIGINS", s.AllowedOrigins)
	if s.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", s.RateLimitRPS); err != nil {
		return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}

	// ── Database ──────────────────────────────────────────────────────────────
	db := &cfg.DB
	db.Driver = getEnv("STORE_DRIVER", db.Driver)
	db.DSN = getEnv("DATABASE_DSN", db.DSN)
	if db.DSN == "" && db.Driver == "postgres" {
		// Build DSN from individual components for convenience in dev
		db.DSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "predex"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	if db.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", db.MaxOpenConns); err != nil {
		return fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	if db.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", db.MaxIdleConns); err != nil {
		return fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	db.ConnMaxLifetime = getDuration("DB_CONN_MAX_LIFETIME", db.ConnMaxLifetime)

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT.AccessSecret = getEnv("JWT_ACCESS_SECRET", cfg.JWT.AccessSecret)
	cfg.JWT.AdminRole = getEnv("JWT_ADMIN_ROLE", cfg.JWT.AdminRole)
	cfg.JWT.AccessTTL = getDuration("JWT_ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = getDuration("JWT_REFRESH_TTL", cfg.JWT.RefreshTTL)
	cfg.JWT.LoginMaxAge = getDuration("JWT_LOGIN_MAX_AGE", cfg.JWT.LoginMaxAge)

	// ── Engine ────────────────────────────────────────────────────────────────
	e := &cfg.Engine
	if e.DefaultFeeRate, err = getFloat("ENGINE_FEE_RATE", e.DefaultFeeRate); err != nil {
		return fmt.Errorf("ENGINE_FEE_RATE: %w", err)
	}
	e.DefaultWindow = getDuration("ENGINE_DEFAULT_WINDOW", e.DefaultWindow)
	e.MaxWindow = getDuration("ENGINE_MAX_WINDOW", e.MaxWindow)
	if e.MaxChallenges, err = getInt("ENGINE_MAX_CHALLENGES", e.MaxChallenges); err != nil {
		return fmt.Errorf("ENGINE_MAX_CHALLENGES: %w", err)
	}
	if e.SettlementBatchSize, err = getInt("ENGINE_SETTLEMENT_BATCH", e.SettlementBatchSize); err != nil {
		return fmt.Errorf("ENGINE_SETTLEMENT_BATCH: %w", err)
	}
	if e.MinTradeAmount, err = getFloat("ENGINE_MIN_TRADE", e.MinTradeAmount); err != nil {
		return fmt.Errorf("ENGINE_MIN_TRADE: %w", err)
	}
	if e.ConservationTolerance, err = getFloat("ENGINE_CONSERVATION_TOLERANCE", e.ConservationTolerance); err != nil {
		return fmt.Errorf("ENGINE_CONSERVATION_TOLERANCE: %w", err)
	}
	if e.OrderBookDepth, err = getInt("ENGINE_ORDERBOOK_DEPTH", e.OrderBookDepth); err != nil {
		return fmt.Errorf("ENGINE_ORDERBOOK_DEPTH: %w", err)
	}

	// ── Price ─────────────────────────────────────────────────────────────────
	p := &cfg.Price
	p.BinanceURL = getEnv("PRICE_BINANCE_URL", p.BinanceURL)
	p.BybitURL = getEnv("PRICE_BYBIT_URL", p.BybitURL)
	p.OKXURL = getEnv("PRICE_OKX_URL", p.OKXURL)
	p.FetchTimeout = getDuration("PRICE_FETCH_TIMEOUT", p.FetchTimeout)
	p.CacheTTL = getDuration("PRICE_CACHE_TTL", p.CacheTTL)
	if p.MaxRetries, err = getInt("PRICE_MAX_RETRIES", p.MaxRetries); err != nil {
		return fmt.Errorf("PRICE_MAX_RETRIES: %w", err)
	}
	if p.BinanceWeight, err = getInt("PRICE_BINANCE_WEIGHT", p.BinanceWeight); err != nil {
		return fmt.Errorf("PRICE_BINANCE_WEIGHT: %w", err)
	}
	if p.BybitWeight, err = getInt("PRICE_BYBIT_WEIGHT", p.BybitWeight); err != nil {
		return fmt.Errorf("PRICE_BYBIT_WEIGHT: %w", err)
	}
	if p.OKXWeight, err = getInt("PRICE_OKX_WEIGHT", p.OKXWeight); err != nil {
		return fmt.Errorf("PRICE_OKX_WEIGHT: %w", err)
	}

	// ── Chain ─────────────────────────────────────────────────────────────────
	ch := &cfg.Chain
	ch.RPCURL = getEnv("CHAIN_RPC_URL", ch.RPCURL)
	ch.Treasury = getEnv("CHAIN_TREASURY", ch.Treasury)
	ch.Token = getEnv("CHAIN_TOKEN", ch.Token)
	if ch.Decimals, err = getInt("CHAIN_TOKEN_DECIMALS", ch.Decimals); err != nil {
		return fmt.Errorf("CHAIN_TOKEN_DECIMALS: %w", err)
	}
	if ch.Confirmations, err = getInt("CHAIN_CONFIRMATIONS", ch.Confirmations); err != nil {
		return fmt.Errorf("CHAIN_CONFIRMATIONS: %w", err)
	}
	ch.Timeout = getDuration("CHAIN_TIMEOUT", ch.Timeout)

	// ── Redis ─────────────────────────────────────────────────────────────────
	r := &cfg.Redis
	r.Addr = getEnv("REDIS_ADDR", r.Addr)
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	if r.DB, err = getInt("REDIS_DB", r.DB); err != nil {
		return fmt.Errorf("REDIS_DB: %w", err)
	}
	r.TLS = getBool("REDIS_TLS", r.TLS)
	r.ChannelPrefix = getEnv("REDIS_CHANNEL_PREFIX", r.ChannelPrefix)

	// ── S3 ────────────────────────────────────────────────────────────────────
	s3 := &cfg.S3
	s3.Endpoint = getEnv("S3_ENDPOINT", s3.Endpoint)
	s3.Region = getEnv("S3_REGION", s3.Region)
	s3.Bucket = getEnv("S3_BUCKET", s3.Bucket)
	s3.AccessKey = getEnv("S3_ACCESS_KEY", s3.AccessKey)
	s3.SecretKey = getEnv("S3_SECRET_KEY", s3.SecretKey)
	s3.UseSSL = getBool("S3_USE_SSL", s3.UseSSL)
	s3.ForcePathStyle = getBool("S3_FORCE_PATH_STYLE", s3.ForcePathStyle)
	s3.Prefix = getEnv("S3_PREFIX", s3.Prefix)

	// ── Scheduler ─────────────────────────────────────────────────────────────
	sc := &cfg.Scheduler
	sc.EndInterval = getDuration("SCHED_END_INTERVAL", sc.EndInterval)
	sc.OracleInterval = getDuration("SCHED_ORACLE_INTERVAL", sc.OracleInterval)
	sc.SettleInterval = getDuration("SCHED_SETTLE_INTERVAL", sc.SettleInterval)
	sc.RematchInterval = getDuration("SCHED_REMATCH_INTERVAL", sc.RematchInterval)
	sc.ArchiveInterval = getDuration("SCHED_ARCHIVE_INTERVAL", sc.ArchiveInterval)
	sc.AuditInterval = getDuration("SCHED_AUDIT_INTERVAL", sc.AuditInterval)
	sc.LockTTL = getDuration("SCHED_LOCK_TTL", sc.LockTTL)
	if sc.BatchLimit, err = getInt("SCHED_BATCH_LIMIT", sc.BatchLimit); err != nil {
		return fmt.Errorf("SCHED_BATCH_LIMIT: %w", err)
	}

	// ── Admins ────────────────────────────────────────────────────────────────
	cfg.Admins = getList("ADMIN_ADDRESSES", cfg.Admins)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getList splits a comma-separated env var, dropping empty items.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Log warning and fall back to default; do not crash on parse error
		return defaultVal
	}
	return d
}
