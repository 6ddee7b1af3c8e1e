package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	appDirName = "tripmap-offline"
	envPrefix  = "TRIPMAP"
)

// Storage backends
const (
	BackendBadger = "badger"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Config is the full runtime configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Tiles     TilesConfig     `mapstructure:"tiles"`
	Network   NetworkConfig   `mapstructure:"network"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Backend   string      `mapstructure:"backend"` // "badger", "file" or "redis"
	Path      string      `mapstructure:"path"`
	MaxSizeMB int         `mapstructure:"maxSizeMB"` // file backend quota, 0 = unlimited
	Redis     RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

type TilesConfig struct {
	URLTemplate  string        `mapstructure:"urlTemplate"`
	AccessToken  string        `mapstructure:"accessToken"`
	FetchTimeout time.Duration `mapstructure:"fetchTimeout"`
	BatchSize    int           `mapstructure:"batchSize"`
	QueueDepth   int           `mapstructure:"queueDepth"`
}

// NetworkConfig selects the connectivity signal. An empty ProbeAddress means
// the host pushes connectivity through the HTTP surface.
type NetworkConfig struct {
	ProbeAddress  string        `mapstructure:"probeAddress"`
	CheckInterval time.Duration `mapstructure:"checkInterval"`
	DialTimeout   time.Duration `mapstructure:"dialTimeout"`
}

// ReconnectConfig tunes the reconnect backoff. An empty ProbeURL probes the
// tile endpoint at zoom 0.
type ReconnectConfig struct {
	ProbeURL     string        `mapstructure:"probeURL"`
	MaxAttempts  int           `mapstructure:"maxAttempts"`
	BaseDelay    time.Duration `mapstructure:"baseDelay"`
	MaxDelay     time.Duration `mapstructure:"maxDelay"`
	ProbeTimeout time.Duration `mapstructure:"probeTimeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

type AnalyticsConfig struct {
	PosthogKey  string `mapstructure:"posthogKey"`
	PosthogHost string `mapstructure:"posthogHost"`
}

// DataDir returns the OS-specific application directory
func DataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, appDirName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8787")

	v.SetDefault("storage.backend", BackendBadger)
	v.SetDefault("storage.path", filepath.Join(DataDir(), "tiles"))
	v.SetDefault("storage.maxSizeMB", 0)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.keyPrefix", "tripmap")

	v.SetDefault("tiles.urlTemplate", "https://api.mapbox.com/styles/v1/mapbox/streets-v12/tiles/256/{z}/{x}/{y}?access_token={token}")
	v.SetDefault("tiles.accessToken", "")
	v.SetDefault("tiles.fetchTimeout", 15*time.Second)
	v.SetDefault("tiles.batchSize", 10)
	v.SetDefault("tiles.queueDepth", 16)

	v.SetDefault("network.probeAddress", "")
	v.SetDefault("network.checkInterval", 5*time.Second)
	v.SetDefault("network.dialTimeout", 3*time.Second)

	v.SetDefault("reconnect.probeURL", "")
	v.SetDefault("reconnect.maxAttempts", 5)
	v.SetDefault("reconnect.baseDelay", time.Second)
	v.SetDefault("reconnect.maxDelay", 30*time.Second)
	v.SetDefault("reconnect.probeTimeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("analytics.posthogKey", "")
	v.SetDefault("analytics.posthogHost", "")
}

// Load reads the config file at path (or the default location when path is
// empty), overlays TRIPMAP_* environment variables and validates the result.
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the app cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger, BackendFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Storage.MaxSizeMB < 0 {
		return fmt.Errorf("storage.maxSizeMB must not be negative, got %d", c.Storage.MaxSizeMB)
	}
	if c.Tiles.URLTemplate == "" {
		return errors.New("tiles.urlTemplate is required")
	}
	if c.Tiles.BatchSize <= 0 {
		return fmt.Errorf("tiles.batchSize must be positive, got %d", c.Tiles.BatchSize)
	}
	if c.Tiles.QueueDepth <= 0 {
		return fmt.Errorf("tiles.queueDepth must be positive, got %d", c.Tiles.QueueDepth)
	}
	if c.Network.ProbeAddress != "" && c.Network.CheckInterval <= 0 {
		return errors.New("network.checkInterval must be positive when probing")
	}
	return nil
}
