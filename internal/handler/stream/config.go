package stream

import "time"

// Config holds configuration for attached chunk streams.
type Config struct {
	// KeepAliveInterval is how often a blank line is written while no chunk
	// arrives. Proxies drop idle connections after 30-60 seconds.
	KeepAliveInterval time.Duration
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 15 * time.Second,
	}
}
