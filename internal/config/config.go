// Package config загружает конфигурацию krbridge из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultHost — адрес брокера, если он не передан аргументом.
const DefaultHost = "127.0.0.1"

// Config — конфигурация моста.
type Config struct {
	// Broker
	AMQPUser     string `env:"AMQP_USER"     envDefault:"guest"`
	AMQPPassword string `env:"AMQP_PASSWORD" envDefault:"guest"`
	AMQPPort     int    `env:"AMQP_PORT"     envDefault:"5672"`
	AMQPVHost    string `env:"AMQP_VHOST"    envDefault:"/"`
	Prefetch     int    `env:"AMQP_PREFETCH" envDefault:"1"`

	// Engine
	EngineShmKey         int           `env:"ENGINE_SHM_KEY"         envDefault:"74561"`
	EngineWorkers        int           `env:"ENGINE_WORKERS"         envDefault:"5"`
	EngineReleaseTimeout time.Duration `env:"ENGINE_RELEASE_TIMEOUT" envDefault:"5s"`

	// Lifecycle
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL"  envDefault:"INFO"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load читает переменные окружения в Config и валидирует значения.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет значения, которые env не может проверить сам.
func (c *Config) Validate() error {
	var errs []error

	if c.AMQPPort <= 0 || c.AMQPPort > 65535 {
		errs = append(errs, fmt.Errorf("AMQP_PORT out of range: %d", c.AMQPPort))
	}
	if c.Prefetch < 1 {
		errs = append(errs, fmt.Errorf("AMQP_PREFETCH must be >= 1, got %d", c.Prefetch))
	}
	if c.EngineShmKey <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_SHM_KEY must be positive, got %d", c.EngineShmKey))
	}
	if c.EngineWorkers <= 0 {
		errs = append(errs, fmt.Errorf("ENGINE_WORKERS must be positive, got %d", c.EngineWorkers))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

// BrokerURL собирает AMQP URL для хоста.
//
// Пустой host заменяется на DefaultHost. Если host уже содержит порт
// ("rabbit:5673"), AMQP_PORT игнорируется.
func (c *Config) BrokerURL(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}

	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(c.AMQPPort))
	}

	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.AMQPUser, c.AMQPPassword),
		Host:   host,
		Path:   "/" + strings.TrimPrefix(c.AMQPVHost, "/"),
	}

	return u.String()
}
