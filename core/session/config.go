package session

import "time"

// Config holds session store timing configuration.
type Config struct {
	// TTL is the session idle timeout. A session untouched for longer is
	// treated as absent.
	TTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// SweepInterval is how often expired sessions are evicted.
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
}

func defaultConfig() Config {
	return Config{
		TTL:           24 * time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}
