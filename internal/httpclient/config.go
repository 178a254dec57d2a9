package httpclient

import (
	"fmt"
	"time"
)

// Config configures the HTTP client with timeout and observability settings.
type Config struct {
	// Timeout is the total request timeout. Downloads of full release
	// archives go through this client, so the default is generous.
	// Default: 5m. Must be > 0.
	Timeout time.Duration

	// UserAgent is the User-Agent header value.
	// Required. Must be non-empty.
	UserAgent string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:   5 * time.Minute,
		UserAgent: "tether/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}

	return nil
}
