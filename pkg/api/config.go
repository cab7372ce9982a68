package api

import "time"

// APIConfig configures the HTTP API server.
type APIConfig struct {
	// Port is the TCP port to listen on.
	// Default: 8080
	Port int

	// ReadTimeout bounds reading a request, headers included.
	// Default: 10s
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response. Zero means no limit, which is
	// what stream responses need.
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive idle time.
	// Default: 60s
	IdleTimeout time.Duration
}

func (c *APIConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
