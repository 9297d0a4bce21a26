package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the sweeper service.
type Config struct {
	LogLevel     string
	InstanceID   string
	MetricsAddr  string
	RedisAddr    string
	PostgresDSN  string
	OTelEndpoint string
	SweepCron    string
	StaleAfter   time.Duration
	LeaderTTL    time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		InstanceID:   v.GetString("instance_id"),
		MetricsAddr:  v.GetString("metrics_addr"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		SweepCron:    v.GetString("sweep_cron"),
		StaleAfter:   v.GetDuration("stale_after"),
		LeaderTTL:    v.GetDuration("leader_ttl"),
	}
}
