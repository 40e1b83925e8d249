// Package config reads the service configuration.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config contains the configuration of the survival pool service.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	JWTSecret          string `env:"JWT_SECRET"`
	FrontendURL        string `env:"FRONTEND_URL"`
	FootballAPIAddress string `env:"FOOTBALL_API_ADDRESS"`
	FootballAPIToken   string `env:"FOOTBALL_API_TOKEN"`
	PayPalAPIAddress   string `env:"PAYPAL_API_ADDRESS"`
	PayPalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
}

// Parse reads the configuration from command line flags and environment
// variables. Environment variables take precedence over flags.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret
	envFrontendURL := cfg.FrontendURL
	envFootballAddress := cfg.FootballAPIAddress
	envPayPalAddress := cfg.PayPalAPIAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "secret used to sign auth tokens")
	flag.StringVar(&cfg.FrontendURL, "f", "http://localhost:3000", "frontend base URL for payment redirects")
	flag.StringVar(&cfg.FootballAPIAddress, "m", "https://api.football-data.org", "football data API address")
	flag.StringVar(&cfg.PayPalAPIAddress, "p", "https://api-m.sandbox.paypal.com", "payment provider API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envFrontendURL != "" {
		cfg.FrontendURL = envFrontendURL
	}
	if envFootballAddress != "" {
		cfg.FootballAPIAddress = envFootballAddress
	}
	if envPayPalAddress != "" {
		cfg.PayPalAPIAddress = envPayPalAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "greatescape-secret"
	}

	return cfg, nil
}
