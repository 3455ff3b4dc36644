package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		ServiceName      string `toml:"service_name"`
		IntervalSeconds  int    `toml:"interval_seconds"`
		BatchSize        int    `toml:"batch_size"`
		MaxRetryAgeHours int    `toml:"max_retry_age_hours"`
		MaxRetryCount    int    `toml:"max_retry_count"`
	} `toml:"app"`

	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`

	Storage struct {
		Driver string `toml:"driver"` // sqlite | postgres
		Path   string `toml:"path"`   // sqlite file
		DSN    string `toml:"dsn"`    // postgres
	} `toml:"storage"`

	Redis struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
		Prefix  string `toml:"prefix"`
	} `toml:"redis"`

	Venues map[string]VenueConfig `toml:"venues"`
}

type VenueConfig struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.ServiceName == "" {
		cfg.App.ServiceName = "signal-execution-engine"
	}
	if cfg.App.IntervalSeconds <= 0 {
		cfg.App.IntervalSeconds = 60
	}
	if cfg.App.BatchSize <= 0 {
		cfg.App.BatchSize = 20
	}
	if cfg.App.MaxRetryAgeHours <= 0 {
		cfg.App.MaxRetryAgeHours = 24
	}
	if cfg.App.MaxRetryCount <= 0 {
		cfg.App.MaxRetryCount = 2
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8090"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/sigex.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "sigex"
	}
}

// The four runtime knobs must be changeable per environment without touching
// the config file, so environment variables win over toml.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("SIGEX_INTERVAL_SECONDS"); ok {
		cfg.App.IntervalSeconds = v
	}
	if v, ok := envInt("SIGEX_BATCH_SIZE"); ok {
		cfg.App.BatchSize = v
	}
	if v, ok := envInt("SIGEX_MAX_RETRY_AGE_HOURS"); ok {
		cfg.App.MaxRetryAgeHours = v
	}
	if v, ok := envInt("SIGEX_MAX_RETRY_COUNT"); ok {
		cfg.App.MaxRetryCount = v
	}
	if v := os.Getenv("SIGEX_STORAGE_DSN"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("SIGEX_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func validate(cfg *Config) error {
	switch cfg.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}

	enabled := 0
	for name, vc := range cfg.Venues {
		if !vc.Enabled {
			continue
		}
		if strings.TrimSpace(vc.BaseURL) == "" {
			return fmt.Errorf("venues.%s.base_url empty but enabled", name)
		}
		enabled++
	}
	if enabled == 0 {
		return errors.New("no venues enabled")
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.App.IntervalSeconds) * time.Second
}

func (c *Config) MaxRetryAge() time.Duration {
	return time.Duration(c.App.MaxRetryAgeHours) * time.Hour
}

func (v VenueConfig) Timeout() time.Duration {
	if v.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(v.TimeoutSeconds) * time.Second
}
