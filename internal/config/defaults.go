package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	// Authority
	v.SetDefault("authority.host", "")
	v.SetDefault("authority.port", 0)
	v.SetDefault("authority.name", "")
	v.SetDefault("authority.tls.certFile", "")
	v.SetDefault("authority.tls.keyFile", "")
	v.SetDefault("authority.pushInterval", time.Second)
	v.SetDefault("authority.pingInterval", 30*time.Second)
	v.SetDefault("authority.mdns", true)
	v.SetDefault("authority.ntp.host", "")
	v.SetDefault("authority.ntp.interval", 5*time.Minute)

	// Estimator
	v.SetDefault("estimator.url", "")
	v.SetDefault("estimator.mode", ModePush)
	v.SetDefault("estimator.pollInterval", 60*time.Second)
	v.SetDefault("estimator.requestTimeout", 5*time.Second)
	v.SetDefault("estimator.connectTimeout", 10*time.Second)
	v.SetDefault("estimator.reconnectDelay", 5*time.Second)
	v.SetDefault("estimator.maxReconnectAttempts", 5)
	v.SetDefault("estimator.requestInterval", time.Duration(0))
	v.SetDefault("estimator.insecureSkipVerify", true)
	v.SetDefault("estimator.staleAfter", 2*time.Minute)
	v.SetDefault("estimator.discoveryTimeout", 10*time.Second)

	// Shared
	v.SetDefault("log.file", "")
	v.SetDefault("log.debug", false)
	v.SetDefault("metrics.port", 0)
}
