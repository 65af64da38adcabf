// Package config loads the mirror configuration from defaults, an optional
// config file and CHANMIRROR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Configuration struct {
	// APIBaseURL is the root of the remote service, without a trailing slash.
	APIBaseURL string `mapstructure:"api_base_url"`
	// WebBaseURL is the public site, used for collection links in OPML exports.
	WebBaseURL string `mapstructure:"web_base_url"`
	// Token is sent as a bearer token when non-empty.
	Token      string `mapstructure:"token"`
	ListenAddr string `mapstructure:"listen_addr"`
	// DBDriver is one of "sqlite", "postgres" or "memory".
	DBDriver string `mapstructure:"db_driver"`
	DBPath   string `mapstructure:"db_path"`
	DBURL    string `mapstructure:"db_url"`

	PageSize            int           `mapstructure:"page_size"`
	BoostSize           int           `mapstructure:"boost_size"`
	ConnectionsPageSize int           `mapstructure:"connections_page_size"`
	MaxAge              time.Duration `mapstructure:"max_age"`

	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxRetries  int           `mapstructure:"max_retries"`

	MeasureConcurrency int           `mapstructure:"measure_concurrency"`
	MeasureTimeout     time.Duration `mapstructure:"measure_timeout"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Debug switches logging to human readable output at debug level.
	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", "https://api.are.na/v2")
	v.SetDefault("web_base_url", "https://www.are.na")
	v.SetDefault("token", "")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "chanmirror.db")
	v.SetDefault("db_url", "")
	v.SetDefault("page_size", 50)
	v.SetDefault("boost_size", 5)
	v.SetDefault("connections_page_size", 50)
	v.SetDefault("max_age", 12*time.Hour)
	v.SetDefault("min_interval", 300*time.Millisecond)
	v.SetDefault("max_retries", 3)
	v.SetDefault("measure_concurrency", 8)
	v.SetDefault("measure_timeout", 8*time.Second)
	v.SetDefault("poll_interval", 15*time.Minute)
	v.SetDefault("debug", false)
}

// ReadConfig reads the configuration. A missing config file is not an error.
func ReadConfig() (Configuration, error) {
	return Load(viper.New())
}

// Load reads the configuration through the given viper instance.
func Load(v *viper.Viper) (Configuration, error) {
	setDefaults(v)
	v.SetEnvPrefix("CHANMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chanmirror")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/chanmirror")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Configuration{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.WebBaseURL = strings.TrimRight(strings.TrimSpace(cfg.WebBaseURL), "/")
	return cfg, cfg.Validate()
}

// Validate rejects values the sync engine cannot work with.
func (c Configuration) Validate() error {
	switch {
	case c.APIBaseURL == "":
		return errors.New("api_base_url is required")
	case c.PageSize <= 0:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.BoostSize < 0:
		return fmt.Errorf("boost_size must not be negative, got %d", c.BoostSize)
	case c.ConnectionsPageSize <= 0:
		return fmt.Errorf("connections_page_size must be positive, got %d", c.ConnectionsPageSize)
	case c.MaxAge <= 0:
		return fmt.Errorf("max_age must be positive, got %s", c.MaxAge)
	case c.MeasureTimeout <= 0:
		return fmt.Errorf("measure_timeout must be positive, got %s", c.MeasureTimeout)
	}
	switch c.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.DBURL == "" {
			return errors.New("db_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db_driver %q", c.DBDriver)
	}
	return nil
}
