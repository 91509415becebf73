// Package config loads httploopd's runtime configuration with
// github.com/spf13/viper, supporting a config file, environment variables
// (HTTPLOOP_ prefix), and flag overrides bound in from cobra.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs the server needs to start.
type Config struct {
	ListenAddr string        `mapstructure:"listen_addr"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	LogLevel   string        `mapstructure:"log_level"`

	RateLimitPerSecond int `mapstructure:"rate_limit_per_second"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads configuration from (in ascending priority) defaults, an
// optional config file, HTTPLOOP_-prefixed environment variables, and any
// flags already parsed on fs.
func Load(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("idle_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit_per_second", 0)
	v.SetDefault("rate_limit_per_minute", 0)
	v.SetDefault("metrics_addr", "")

	v.SetEnvPrefix("httploop")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	if fs != nil {
		// pflag names use dashes (listen-addr) while the config keys above
		// use underscores (listen_addr); viper does not translate between
		// the two automatically, so each flag is bound to its matching key
		// explicitly rather than via the blanket BindPFlags.
		for key, flagName := range map[string]string{
			"listen_addr":           "listen-addr",
			"metrics_addr":          "metrics-addr",
			"log_level":             "log-level",
			"rate_limit_per_second": "rate-limit-per-second",
			"rate_limit_per_minute": "rate-limit-per-minute",
		} {
			if flag := fs.Lookup(flagName); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("config: binding flag %s: %w", flagName, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
