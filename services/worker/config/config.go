package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel     string
	RedisAddr    string
	PostgresDSN  string
	KafkaBrokers string
	DLQTopic     string
	Workers      int
	MaxAttempts  int
	JobTimeout   time.Duration
	LeaseTimeout time.Duration
	RatePerSec   float64
	RateBurst    int
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		DLQTopic:     v.GetString("dlq_topic"),
		Workers:      v.GetInt("workers"),
		MaxAttempts:  v.GetInt("max_attempts"),
		JobTimeout:   v.GetDuration("job_timeout"),
		LeaseTimeout: v.GetDuration("lease_timeout"),
		RatePerSec:   v.GetFloat64("rate_per_sec"),
		RateBurst:    v.GetInt("rate_burst"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}
