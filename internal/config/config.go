package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the screening service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Data      DataConfig      `mapstructure:"data"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
	RiskMap   RiskMapConfig   `mapstructure:"risk_map"`
	Screening ScreeningConfig `mapstructure:"screening"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ServerConfig defines the HTTP listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       string        `mapstructure:"rate_limit"`
}

// RedisConfig defines the request-cache redis tier
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// KafkaConfig defines the alert publisher settings
type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AlertTopic string   `mapstructure:"alert_topic"`
	Enabled    bool     `mapstructure:"enabled"`
}

// DataConfig defines where snapshots, fallback datasets and the file cache live
type DataConfig struct {
	Dir      string `mapstructure:"dir"`
	CacheDir string `mapstructure:"cache_dir"`
}

// WatchlistConfig defines gateway behavior shared by all sources
type WatchlistConfig struct {
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RiskMapConfig defines the consolidated country risk map build policy
type RiskMapConfig struct {
	RebuildInterval time.Duration `mapstructure:"rebuild_interval"`
	MaxSnapshotAge  time.Duration `mapstructure:"max_snapshot_age"`
	MinCountries    int           `mapstructure:"min_countries"`
}

// ScreeningConfig defines match acceptance thresholds
type ScreeningConfig struct {
	PEPThreshold       float64 `mapstructure:"pep_threshold"`
	SanctionsThreshold float64 `mapstructure:"sanctions_threshold"`
	ExactThreshold     float64 `mapstructure:"exact_threshold"`
}

// Load reads configuration from an optional yaml file and AMLGUARD_* env vars
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix("AMLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", "100-M")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.alert_topic", "aml.alerts")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("data.dir", "data")
	v.SetDefault("data.cache_dir", "data/cache")

	v.SetDefault("watchlist.cache_ttl", 24*time.Hour)
	v.SetDefault("watchlist.request_timeout", 30*time.Second)

	v.SetDefault("risk_map.rebuild_interval", 7*24*time.Hour)
	v.SetDefault("risk_map.max_snapshot_age", 7*24*time.Hour)
	v.SetDefault("risk_map.min_countries", 190)

	v.SetDefault("screening.pep_threshold", 0.6)
	v.SetDefault("screening.sanctions_threshold", 0.7)
	v.SetDefault("screening.exact_threshold", 0.9)
}

func validate(cfg *Config) error {
	if cfg.Watchlist.CacheTTL <= 0 {
		return fmt.Errorf("watchlist.cache_ttl must be positive, got %s", cfg.Watchlist.CacheTTL)
	}
	if cfg.Watchlist.RequestTimeout <= 0 {
		return fmt.Errorf("watchlist.request_timeout must be positive, got %s", cfg.Watchlist.RequestTimeout)
	}
	if cfg.RiskMap.MinCountries <= 0 {
		return fmt.Errorf("risk_map.min_countries must be positive, got %d", cfg.RiskMap.MinCountries)
	}
	if cfg.Screening.PEPThreshold < 0 || cfg.Screening.PEPThreshold > 1 {
		return fmt.Errorf("screening.pep_threshold must be in [0,1], got %f", cfg.Screening.PEPThreshold)
	}
	if cfg.Screening.SanctionsThreshold < 0 || cfg.Screening.SanctionsThreshold > 1 {
		return fmt.Errorf("screening.sanctions_threshold must be in [0,1], got %f", cfg.Screening.SanctionsThreshold)
	}
	return nil
}
