package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// ExpoPushURL overrides the gateway base url, mainly for tests and staging.
	ExpoPushURL string `env:"EXPO_PUSH_URL,default=https://exp.host"`

	SendBatchSize    int `env:"SEND_BATCH_SIZE,default=100"`
	ReceiptBatchSize int `env:"RECEIPT_BATCH_SIZE,default=100"`

	// ReceiptGraceMinutes is how long after a send the gateway gets to process
	// a ticket before the poller asks for its receipt.
	ReceiptGraceMinutes int `env:"RECEIPT_GRACE_MINUTES,default=5"`
	// ReceiptMaxAgeHours is the point after which a ticket without a receipt
	// is abandoned and never re-polled.
	ReceiptMaxAgeHours     int `env:"RECEIPT_MAX_AGE_HOURS,default=168"`
	ReceiptPollIntervalSec int `env:"RECEIPT_POLL_INTERVAL_SEC,default=60"`
	ReceiptScanLimit       int `env:"RECEIPT_SCAN_LIMIT,default=1000"`

	ScheduleScanIntervalSec int `env:"SCHEDULE_SCAN_INTERVAL_SEC,default=5"`
	ScheduleScanLimit       int `env:"SCHEDULE_SCAN_LIMIT,default=100"`

	GatewayRateLimitPerSec int `env:"GATEWAY_RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency      int `env:"WORKER_CONCURRENCY,default=8"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9090"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ReceiptGracePeriod() time.Duration {
	return time.Duration(c.ReceiptGraceMinutes) * time.Minute
}

func (c *Config) ReceiptMaxAge() time.Duration {
	return time.Duration(c.ReceiptMaxAgeHours) * time.Hour
}

func (c *Config) ReceiptPollInterval() time.Duration {
	return time.Duration(c.ReceiptPollIntervalSec) * time.Second
}

func (c *Config) ScheduleScanInterval() time.Duration {
	return time.Duration(c.ScheduleScanIntervalSec) * time.Second
}
