// Package config содержит логику чтения конфигурации сервиса craftmarket.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса craftmarket.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	PushGatewayAddress string        `env:"PUSH_GATEWAY_ADDRESS"`
	APIKey             string        `env:"API_KEY"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPushGateway := cfg.PushGatewayAddress
	envAPIKey := cfg.APIKey
	envSweepInterval := cfg.SweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PushGatewayAddress, "p", "", "push gateway address")
	flag.StringVar(&cfg.APIKey, "k", "", "API key for service endpoints")
	flag.DurationVar(&cfg.SweepInterval, "s", time.Hour, "lifecycle sweep interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPushGateway != "" {
		cfg.PushGatewayAddress = envPushGateway
	}
	if envAPIKey != "" {
		cfg.APIKey = envAPIKey
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}

	return cfg, nil
}
