package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	DB       DBConfig       `mapstructure:"db"`
	Cron     CronConfig     `mapstructure:"cron"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Verifier VerifierConfig `mapstructure:"verifier"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Settings SettingsConfig `mapstructure:"settings"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// WatchInterval is the push period of the websocket watch feed.
	WatchInterval time.Duration `mapstructure:"watch_interval"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type CronConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Settlement drives the sweeper: verify pending, review disputed,
	// finalize expired windows.
	Settlement string `mapstructure:"settlement"`
	BatchSize  int    `mapstructure:"batch_size"`
}

type ProtocolConfig struct {
	DisputeWindowSeconds int64   `mapstructure:"dispute_window_seconds"`
	StreamSeconds        int64   `mapstructure:"stream_seconds"`
	MinConfidence        float64 `mapstructure:"min_confidence"`
	TolerancePercent     float64 `mapstructure:"tolerance_percent"`
}

// ServiceConfig is one outbound JSON service.
type ServiceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type VerifierConfig struct {
	ServiceConfig `mapstructure:",squash"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

type OracleConfig struct {
	ServiceConfig `mapstructure:",squash"`
	LatestTTL     time.Duration     `mapstructure:"latest_ttl"`
	Feeds         map[string]string `mapstructure:"feeds"`
}

type LedgerConfig struct {
	// Backend is "journal" (local ledger_entries table) or "custody".
	Backend string        `mapstructure:"backend"`
	Custody ServiceConfig `mapstructure:"custody"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthConfig struct {
	// Disabled trusts the X-Identity header. Never set outside dev.
	Disabled bool          `mapstructure:"disabled"`
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Local   bool   `mapstructure:"local"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

// SettingsConfig keys the cipher for credential settings. PreviousKey is
// still accepted for reads during rotation.
type SettingsConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	PreviousKey   string `mapstructure:"previous_key"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.watch_interval", "1s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.settlement", "@every 5s")
	v.SetDefault("cron.batch_size", 100)

	v.SetDefault("protocol.dispute_window_seconds", 60)
	v.SetDefault("protocol.stream_seconds", 300)
	v.SetDefault("protocol.min_confidence", 0.85)
	v.SetDefault("protocol.tolerance_percent", 2.0)

	v.SetDefault("verifier.base_url", "http://localhost:8090")
	v.SetDefault("verifier.api_key", "")
	v.SetDefault("verifier.timeout", "20s")
	v.SetDefault("verifier.rate_per_second", 2)
	v.SetDefault("verifier.burst", 4)
	v.SetDefault("verifier.cache_ttl", "24h")

	v.SetDefault("oracle.base_url", "https://hermes.pyth.network")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.rate_per_second", 10)
	v.SetDefault("oracle.burst", 10)
	v.SetDefault("oracle.latest_ttl", "5s")

	v.SetDefault("ledger.backend", "journal")
	v.SetDefault("ledger.custody.base_url", "")
	v.SetDefault("ledger.custody.api_key", "")
	v.SetDefault("ledger.custody.timeout", "15s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "stratflow:")

	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "stratflow")
	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.local", true)
	v.SetDefault("audit.base_url", "")
	v.SetDefault("audit.api_key", "")
	v.SetDefault("audit.agent", "stratflow-settlement")

	v.SetDefault("settings.encryption_key", "")
	v.SetDefault("settings.previous_key", "")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
