package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the timerd service.
type Config struct {
	LogLevel           string
	InstanceID         string
	HTTPPort           string
	MetricsAddr        string
	RedisAddr          string
	PostgresDSN        string
	KafkaBrokers       string
	OTelEndpoint       string
	CheckpointInterval time.Duration
	TickInterval       time.Duration
	StaleAfter         time.Duration
	NoticeWindow       time.Duration
	RecordTTL          time.Duration
	RateLimit          int
	RateWindow         time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:           v.GetString("log_level"),
		InstanceID:         v.GetString("instance_id"),
		HTTPPort:           v.GetString("http_port"),
		MetricsAddr:        v.GetString("metrics_addr"),
		RedisAddr:          v.GetString("redis_addr"),
		PostgresDSN:        v.GetString("postgres_dsn"),
		KafkaBrokers:       v.GetString("kafka_brokers"),
		OTelEndpoint:       v.GetString("otel_endpoint"),
		CheckpointInterval: v.GetDuration("checkpoint_interval"),
		TickInterval:       v.GetDuration("tick_interval"),
		StaleAfter:         v.GetDuration("stale_after"),
		NoticeWindow:       v.GetDuration("notice_window"),
		RecordTTL:          v.GetDuration("record_ttl"),
		RateLimit:          v.GetInt("rate_limit"),
		RateWindow:         v.GetDuration("rate_window"),
	}
}
