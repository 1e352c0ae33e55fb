package bitsacco

import "time"

// Config holds upstream API connection settings.
type Config struct {
	BaseURL string        `env:"BITSACCO_API_URL,required"`
	APIKey  string        `env:"BITSACCO_API_KEY,required"`
	Timeout time.Duration `env:"BITSACCO_TIMEOUT" envDefault:"30s"`

	// MaxRetries bounds retryable failures; the initial attempt is
	// attempt zero, so MaxRetries=3 means at most four requests.
	MaxRetries uint64        `env:"BITSACCO_MAX_RETRIES" envDefault:"3"`
	BaseDelay  time.Duration `env:"BITSACCO_RETRY_BASE_DELAY" envDefault:"1s"`
}
