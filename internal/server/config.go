package server

import (
	"time"
)

// Config holds the server configuration.
type Config struct {
	Disabled          bool          `env:"DISABLED"`
	Host              string        `env:"HOST"`                // default: "127.0.0.1"
	Port              int           `env:"PORT"`                // default: 9090
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT"` // default: 5s
}

func (c *Config) host() string {
	h := c.Host
	if h == "" {
		h = "127.0.0.1"
	}
	return h
}

func (c *Config) port() int {
	p := c.Port
	if p == 0 {
		p = 9090
	}
	return p
}

func (c *Config) readHeaderTimeout() time.Duration {
	t := c.ReadHeaderTimeout
	if t == 0 {
		t = 5 * time.Second
	}
	return t
}
