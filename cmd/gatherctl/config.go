package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config merge order: defaults < gatherctl.yaml < GATHERCTL_* env < flags.
type Config struct {
	API   APIConfig   `mapstructure:"api"`
	Cache CacheConfig `mapstructure:"cache"`
	Log   LogConfig   `mapstructure:"log"`
	Mock  MockConfig  `mapstructure:"mock"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests/s; 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

type CacheConfig struct {
	Provider  string        `mapstructure:"provider"` // memory | ristretto | bigcache | redis
	Codec     string        `mapstructure:"codec"`    // json | msgpack | cbor
	MaxDecode int           `mapstructure:"max_decode"`
	TTL       time.Duration `mapstructure:"ttl"`
	Namespace string        `mapstructure:"namespace"`
	Hooks     string        `mapstructure:"hooks"` // none | slog
	Async     bool          `mapstructure:"async_hooks"`
	Sample    uint64        `mapstructure:"sample"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Ristretto RistrettoConfig `mapstructure:"ristretto"`
	Bigcache  BigcacheConfig  `mapstructure:"bigcache"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// SharedGen keeps generations in Redis so several gatherctl processes agree on them.
	SharedGen bool          `mapstructure:"shared_gen"`
	GenTTL    time.Duration `mapstructure:"gen_ttl"`
}

type RistrettoConfig struct {
	NumCounters int64 `mapstructure:"num_counters"`
	MaxCost     int64 `mapstructure:"max_cost"`
}

type BigcacheConfig struct {
	LifeWindow time.Duration `mapstructure:"life_window"`
	HardMaxMB  int           `mapstructure:"hard_max_mb"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Backend     string `mapstructure:"backend"` // zap | logrus | slog
	Development bool   `mapstructure:"development"`
}

type MockConfig struct {
	Addr    string        `mapstructure:"addr"`
	Latency time.Duration `mapstructure:"latency"`
	Gzip    bool          `mapstructure:"gzip"`
	Seed    bool          `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.token", "")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 5)

	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.codec", "json")
	v.SetDefault("cache.max_decode", 1<<20)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.namespace", "gathering")
	v.SetDefault("cache.hooks", "slog")
	v.SetDefault("cache.async_hooks", true)
	v.SetDefault("cache.sample", 10)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.shared_gen", true)
	v.SetDefault("cache.redis.gen_ttl", 0)
	v.SetDefault("cache.ristretto.num_counters", 100_000)
	v.SetDefault("cache.ristretto.max_cost", 10_000)
	v.SetDefault("cache.bigcache.life_window", 10*time.Minute)
	v.SetDefault("cache.bigcache.hard_max_mb", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.backend", "zap")
	v.SetDefault("log.development", false)

	v.SetDefault("mock.addr", ":8080")
	v.SetDefault("mock.latency", 0)
	v.SetDefault("mock.gzip", true)
	v.SetDefault("mock.seed", true)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("gatherctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/gatherctl")
	}
	v.SetEnvPrefix("GATHERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the config file (explicit path or search paths) and decodes it.
// A missing file in the search paths is not an error.
func loadConfig(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Cache.Provider {
	case "memory", "ristretto", "bigcache", "redis":
	default:
		return fmt.Errorf("unknown cache provider %q", c.Cache.Provider)
	}
	switch c.Log.Backend {
	case "zap", "logrus", "slog":
	default:
		return fmt.Errorf("unknown log backend %q", c.Log.Backend)
	}
	switch c.Cache.Hooks {
	case "none", "slog":
	default:
		return fmt.Errorf("unknown cache hooks %q", c.Cache.Hooks)
	}
	return nil
}
