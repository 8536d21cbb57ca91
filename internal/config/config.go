package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/asrrelay/internal/dispatch"
	"github.com/kiranshivaraju/asrrelay/internal/httpx"
	"github.com/kiranshivaraju/asrrelay/internal/share"
)

// Config holds all configuration for the asrrelay server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	ASR       ASRConfig
	Dispatch  DispatchConfig
	Audio     AudioConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      int
	Env       string
	PublicURL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ASRConfig struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Format        int
	QueryInterval time.Duration
	Timeouts      httpx.Timeouts
}

type DispatchConfig struct {
	SubmitPool    dispatch.PoolConfig
	CallbackPool  dispatch.PoolConfig
	RetryTimes    int
	RetryInterval time.Duration
}

type AudioConfig struct {
	DataDir  string
	ShareTTL time.Duration
	MaxBytes int64
}

// RateLimitConfig holds per-minute request budgets. Zero PerTenant or Submit
// disables that budget.
type RateLimitConfig struct {
	PerKey    int
	PerTenant int
	Submit    int
}

// Orchestrator returns the dispatch settings in the form dispatch.New takes.
func (c *Config) Orchestrator() dispatch.Config {
	return dispatch.Config{
		SubmitPool:    c.Dispatch.SubmitPool,
		CallbackPool:  c.Dispatch.CallbackPool,
		PollInterval:  c.ASR.QueryInterval,
		RetryBudget:   c.Dispatch.RetryTimes,
		RetryInterval: c.Dispatch.RetryInterval,
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	ncpu := runtime.NumCPU()
	cfg := &Config{
		Server: ServerConfig{
			Port:      envInt("ASRRELAY_PORT", 8080),
			Env:       envString("ASRRELAY_ENV", "development"),
			PublicURL: envString("ASRRELAY_PUBLIC_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		ASR: ASRConfig{
			Endpoint:      os.Getenv("ASR_ENDPOINT"),
			Region:        envString("ASR_REGION", "cn-north-1"),
			AccessKey:     os.Getenv("ASR_ACCESS_KEY"),
			SecretKey:     os.Getenv("ASR_SECRET_KEY"),
			Format:        envInt("ASR_FORMAT", 1),
			QueryInterval: envDurationMillis("ASR_QUERY_INTERVAL_MS", 30*time.Second),
			Timeouts: httpx.Timeouts{
				Connect: envDurationMillis("ASR_CONN_TIMEOUT_MS", 5*time.Second),
				Request: envDurationMillis("ASR_CONN_REQUEST_TIMEOUT_MS", time.Second),
				Read:    envDurationMillis("ASR_SOCKET_TIMEOUT_MS", 20*time.Second),
			},
		},
		Dispatch: DispatchConfig{
			SubmitPool: dispatch.PoolConfig{
				CoreWorkers: envInt("SUBMIT_POOL_CORE_SIZE", ncpu),
				MaxWorkers:  envInt("SUBMIT_POOL_MAX_SIZE", 4*ncpu),
				KeepAlive:   envDurationSecs("SUBMIT_POOL_KEEPALIVE_SECS", 60*time.Second),
				QueueSize:   envInt("SUBMIT_POOL_QUEUE_SIZE", 100),
			},
			CallbackPool: dispatch.PoolConfig{
				CoreWorkers: envInt("CALLBACK_POOL_CORE_SIZE", 4*ncpu),
				MaxWorkers:  envInt("CALLBACK_POOL_MAX_SIZE", 8*ncpu),
				KeepAlive:   envDurationSecs("CALLBACK_POOL_KEEPALIVE_SECS", 60*time.Second),
				QueueSize:   envInt("CALLBACK_POOL_QUEUE_SIZE", 1000),
			},
			RetryTimes:    envInt("CALLBACK_RETRY_TIMES", 0),
			RetryInterval: envDurationSecs("CALLBACK_RETRY_INTERVAL_SECS", 30*time.Second),
		},
		Audio: AudioConfig{
			DataDir:  envString("AUDIO_DATA_DIR", "data"),
			ShareTTL: envDuration("SHARE_TTL", 24*time.Hour),
			MaxBytes: int64(envInt("AUDIO_MAX_BYTES", share.DefaultMaxBytes)),
		},
		RateLimit: RateLimitConfig{
			PerKey:    envInt("RATE_LIMIT_PER_MINUTE", 60),
			PerTenant: envInt("TENANT_RATE_LIMIT_PER_MINUTE", 600),
			Submit:    envInt("SUBMIT_RATE_LIMIT_PER_MINUTE", 120),
		},
	}

	if cfg.ASR.Endpoint == "" {
		cfg.ASR.Endpoint = fmt.Sprintf("https://ais.%s.myhuaweicloud.com", cfg.ASR.Region)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the database settings. Used by admin commands that
// never start the orchestrator.
func LoadDatabase() (DatabaseConfig, error) {
	db := DatabaseConfig{
		URL:             os.Getenv("DATABASE_URL"),
		MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if db.URL == "" {
		return db, fmt.Errorf("DATABASE_URL is required")
	}
	return db, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := requireHTTPURL("ASR_ENDPOINT", c.ASR.Endpoint); err != nil {
		return err
	}
	if err := requireHTTPURL("ASRRELAY_PUBLIC_URL", c.Server.PublicURL); err != nil {
		return err
	}

	if c.ASR.AccessKey == "" || c.ASR.SecretKey == "" {
		return fmt.Errorf("ASR_ACCESS_KEY and ASR_SECRET_KEY are required")
	}
	if c.ASR.QueryInterval <= 0 {
		return fmt.Errorf("ASR_QUERY_INTERVAL_MS must be positive, got %s", c.ASR.QueryInterval)
	}

	if err := validatePool("SUBMIT_POOL", c.Dispatch.SubmitPool); err != nil {
		return err
	}
	if err := validatePool("CALLBACK_POOL", c.Dispatch.CallbackPool); err != nil {
		return err
	}

	if c.Dispatch.RetryTimes < 0 {
		return fmt.Errorf("CALLBACK_RETRY_TIMES must not be negative, got %d", c.Dispatch.RetryTimes)
	}
	if c.Dispatch.RetryInterval <= 0 {
		return fmt.Errorf("CALLBACK_RETRY_INTERVAL_SECS must be positive, got %s", c.Dispatch.RetryInterval)
	}

	if c.Audio.MaxBytes <= 0 {
		return fmt.Errorf("AUDIO_MAX_BYTES must be positive, got %d", c.Audio.MaxBytes)
	}

	if c.RateLimit.PerKey <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.PerKey)
	}
	if c.RateLimit.PerTenant < 0 {
		return fmt.Errorf("TENANT_RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimit.PerTenant)
	}
	if c.RateLimit.Submit < 0 {
		return fmt.Errorf("SUBMIT_RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.RateLimit.Submit)
	}

	return nil
}

func requireHTTPURL(key, v string) error {
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("%s must start with http:// or https://, got %q", key, v)
	}
	return nil
}

func validatePool(prefix string, p dispatch.PoolConfig) error {
	if p.CoreWorkers < 1 {
		return fmt.Errorf("%s_CORE_SIZE must be at least 1, got %d", prefix, p.CoreWorkers)
	}
	if p.MaxWorkers < p.CoreWorkers {
		return fmt.Errorf("%s_MAX_SIZE must be at least %s_CORE_SIZE (%d), got %d", prefix, prefix, p.CoreWorkers, p.MaxWorkers)
	}
	if p.QueueSize < 0 {
		return fmt.Errorf("%s_QUEUE_SIZE must not be negative, got %d", prefix, p.QueueSize)
	}
	if p.KeepAlive <= 0 {
		return fmt.Errorf("%s_KEEPALIVE_SECS must be positive, got %s", prefix, p.KeepAlive)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envDurationMillis(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
