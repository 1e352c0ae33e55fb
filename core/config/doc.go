// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct
// fields.
//
// Basic usage:
//
//	type EngineConfig struct {
//		PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
//		SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
//	}
//
//	var cfg EngineConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	// Or panic on failure (useful for startup)
//	config.MustLoad(&cfg)
//
// Each configuration type is loaded only once per process lifetime;
// later calls return the cached value. Different types are cached
// independently.
package config
