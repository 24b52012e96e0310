package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	State       StateConfig       `mapstructure:"state"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Log         LogConfig         `mapstructure:"log"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Referral    ReferralConfig    `mapstructure:"referral"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Query       QueryConfig       `mapstructure:"query"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	Mode                    string        `mapstructure:"mode"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	DB              string        `mapstructure:"db"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type StateConfig struct {
	Backend string `mapstructure:"backend"` // "redis" | "memory"
}

// JWTConfig describes how identity-provider tokens are verified.
type JWTConfig struct {
	SigningKey     string        `mapstructure:"signing_key"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type CORSConfig struct {
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AdminConfig struct {
	UserIDs []string `mapstructure:"user_ids"`
}

type ReferralConfig struct {
	CodeMaxAttempts int           `mapstructure:"code_max_attempts"`
	DefaultMaxUses  int           `mapstructure:"default_max_uses"` // 0 = unlimited
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
}

type AggregationConfig struct {
	Mode          string        `mapstructure:"mode"` // "async" | "sync"
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0 disables the sweep
	SweepPageSize int           `mapstructure:"sweep_page_size"`
}

type QueryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // 0 disables the network view cache
}

type RateLimitConfig struct {
	RegisterPerSecond float64 `mapstructure:"register_per_second"`
	RegisterBurst     int     `mapstructure:"register_burst"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 15*time.Second)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("state.backend", "memory")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("referral.code_max_attempts", 5)
	v.SetDefault("referral.max_attempts", 4)
	v.SetDefault("referral.retry_backoff", 50*time.Millisecond)
	v.SetDefault("referral.retry_max_delay", time.Second)
	v.SetDefault("aggregation.mode", "async")
	v.SetDefault("aggregation.workers", 4)
	v.SetDefault("aggregation.queue_size", 1024)
	v.SetDefault("aggregation.max_attempts", 3)
	v.SetDefault("aggregation.retry_backoff", 100*time.Millisecond)
	v.SetDefault("aggregation.sweep_interval", time.Hour)
	v.SetDefault("aggregation.sweep_page_size", 500)
	v.SetDefault("query.cache_ttl", 30*time.Second)
	v.SetDefault("rate_limit.register_per_second", 2.0)
	v.SetDefault("rate_limit.register_burst", 5)
	v.SetDefault("tracing.service_name", "referralhub")
}

// Load reads config.yaml, overlays environment variables, and returns Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	// Environment variable override: DATABASE_POSTGRES_HOST -> database.postgres.host
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
