// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	RedisAddress      string        `env:"REDIS_ADDRESS"`
	RealtimePublicURL string        `env:"REALTIME_PUBLIC_URL"`
	RealtimeSecret    string        `env:"REALTIME_SECRET"`
	TickInterval      time.Duration `env:"TICK_INTERVAL"`
	KafkaBrokers      string        `env:"KAFKA_BROKERS"`
	AuditTopic        string        `env:"AUDIT_TOPIC"`
	DeliveryAddress   string        `env:"DELIVERY_ADDRESS"`
	DeliveryClientID  string        `env:"DELIVERY_CLIENT_ID"`
	DeliverySecret    string        `env:"DELIVERY_CLIENT_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envTickInterval := cfg.TickInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (in-memory store when empty)")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for the realtime transport")
	flag.DurationVar(&cfg.TickInterval, "t", 0, "status engine tick interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envTickInterval != 0 {
		cfg.TickInterval = envTickInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	// Интервал тиков держим консервативным по умолчанию: частота рассылки
	// напрямую ограничена суточной квотой канала уведомлений.
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Minute
	}
	if cfg.RealtimePublicURL == "" {
		cfg.RealtimePublicURL = "ws://" + cfg.RunAddress
	}
	if cfg.AuditTopic == "" {
		cfg.AuditTopic = "aiburger-order-events"
	}

	return cfg, nil
}

// KafkaBrokerList возвращает список брокеров Kafka из строки конфигурации.
func (c *Config) KafkaBrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
