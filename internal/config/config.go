package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addrs          []string `yaml:"addrs"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	DB             int      `yaml:"db"`
	Prefix         string   `yaml:"prefix"`
	DialTimeoutMs  int      `yaml:"dial_timeout_ms"`
	ReadTimeoutMs  int      `yaml:"read_timeout_ms"`
	WriteTimeoutMs int      `yaml:"write_timeout_ms"`
}

type StorageConfig struct {
	// Backend is either "sql" (default) or "redis".
	Backend string      `yaml:"backend"`
	DB      DBConfig    `yaml:"db"`
	Redis   RedisConfig `yaml:"redis"`
}

type CacheConfig struct {
	TTLSec       int  `yaml:"ttl_sec"`
	Capacity     int  `yaml:"capacity"`
	Singleflight bool `yaml:"singleflight"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"` // json | console
	SQLDebug bool   `yaml:"sql_debug"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type TLSConfig struct {
	CertFile  string `yaml:"cert_file"`
	KeyFile   string `yaml:"key_file"`
	ReloadSec int    `yaml:"reload_sec"`
}

func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type Config struct {
	RESTListen   string   `yaml:"rest_listen"`
	APIToken     string   `yaml:"api_token"`
	APITokenHash string   `yaml:"api_token_hash"`
	AllowedCIDRs []string `yaml:"allowed_cidrs"`

	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	TLS     TLSConfig     `yaml:"tls"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RESTListen == "" {
		c.RESTListen = ":8080"
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 60
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 1000
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sql"
	}
	if len(c.Storage.Redis.Addrs) == 0 {
		c.Storage.Redis.Addrs = []string{"127.0.0.1:6379"}
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "ttlkv"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "ttlkv"
	}
	if c.TLS.ReloadSec == 0 {
		c.TLS.ReloadSec = 3600
	}
}

func (c *Config) Validate() error {
	if c.Cache.TTLSec < 0 {
		return fmt.Errorf("cache.ttl_sec must be positive, got %d", c.Cache.TTLSec)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	switch c.Storage.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}
