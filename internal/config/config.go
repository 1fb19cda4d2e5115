// ABOUTME: Configuration for the authority and estimator binaries
// ABOUTME: Loads defaults, an optional config file, TIMESYNC_ env vars and flag overrides
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIMESYNC_AUTHORITY_PORT
const EnvPrefix = "TIMESYNC"

// Estimator modes
const (
	ModePoll = "poll"
	ModePush = "push"
)

type Config struct {
	Authority AuthorityConfig `mapstructure:"authority"`
	Estimator EstimatorConfig `mapstructure:"estimator"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AuthorityConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"` // 0 derives 80 or 443
	Name         string        `mapstructure:"name"`
	TLS          TLSConfig     `mapstructure:"tls"`
	PushInterval time.Duration `mapstructure:"pushInterval"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	MDNS         bool          `mapstructure:"mdns"`
	NTP          NTPConfig     `mapstructure:"ntp"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

type NTPConfig struct {
	Host     string        `mapstructure:"host"` // empty disables the check
	Interval time.Duration `mapstructure:"interval"`
}

type EstimatorConfig struct {
	URL                  string        `mapstructure:"url"` // empty browses mDNS
	Mode                 string        `mapstructure:"mode"`
	PollInterval         time.Duration `mapstructure:"pollInterval"`
	RequestTimeout       time.Duration `mapstructure:"requestTimeout"`
	ConnectTimeout       time.Duration `mapstructure:"connectTimeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnectDelay"`
	MaxReconnectAttempts int           `mapstructure:"maxReconnectAttempts"`
	RequestInterval      time.Duration `mapstructure:"requestInterval"`
	InsecureSkipVerify   bool          `mapstructure:"insecureSkipVerify"`
	StaleAfter           time.Duration `mapstructure:"staleAfter"`
	DiscoveryTimeout     time.Duration `mapstructure:"discoveryTimeout"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Debug bool   `mapstructure:"debug"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"` // 0 disables
}

// Load builds a Config. path names an optional config file; when empty a
// "timesync" file in the working directory is used if present. overrides
// are applied last, keyed like "estimator.mode".
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	} else {
		v.SetConfigName("timesync")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file error: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
