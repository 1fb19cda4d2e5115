package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func (c *Config) Validate() error {
	if err := validPort("authority.port", c.Authority.Port); err != nil {
		return err
	}
	if err := validPort("metrics.port", c.Metrics.Port); err != nil {
		return err
	}

	if (c.Authority.TLS.CertFile == "") != (c.Authority.TLS.KeyFile == "") {
		return errors.New("authority.tls needs both certFile and keyFile")
	}
	if c.Authority.PushInterval <= 0 {
		return errors.New("authority.pushInterval must be positive")
	}
	if c.Authority.PingInterval <= 0 {
		return errors.New("authority.pingInterval must be positive")
	}
	if c.Authority.NTP.Host != "" && c.Authority.NTP.Interval <= 0 {
		return errors.New("authority.ntp.interval must be positive")
	}

	c.Estimator.Mode = strings.ToLower(c.Estimator.Mode)
	switch c.Estimator.Mode {
	case ModePoll, ModePush:
	default:
		return fmt.Errorf("invalid estimator mode: %s. Must be '%s' or '%s'", c.Estimator.Mode, ModePoll, ModePush)
	}

	positive := []struct {
		key string
		d   time.Duration
	}{
		{"estimator.pollInterval", c.Estimator.PollInterval},
		{"estimator.requestTimeout", c.Estimator.RequestTimeout},
		{"estimator.connectTimeout", c.Estimator.ConnectTimeout},
		{"estimator.reconnectDelay", c.Estimator.ReconnectDelay},
		{"estimator.staleAfter", c.Estimator.StaleAfter},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.key)
		}
	}

	if c.Estimator.RequestInterval < 0 {
		return errors.New("estimator.requestInterval cannot be negative")
	}
	if c.Estimator.MaxReconnectAttempts < 0 {
		return errors.New("estimator.maxReconnectAttempts cannot be negative")
	}
	return nil
}

func validPort(key string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d", key, port)
	}
	return nil
}
