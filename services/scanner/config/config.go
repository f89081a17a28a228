package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the scanner service.
type Config struct {
	LogLevel      string
	RedisAddr     string
	PostgresDSN   string
	Schedule      string
	CheckInterval time.Duration
	LeaderTTL     time.Duration
	MaxAttempts   int
	MetricsAddr   string
	OTelEndpoint  string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		RedisAddr:     v.GetString("redis_addr"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		Schedule:      v.GetString("schedule"),
		CheckInterval: v.GetDuration("check_interval"),
		LeaderTTL:     v.GetDuration("leader_ttl"),
		MaxAttempts:   v.GetInt("max_attempts"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
	}
}
