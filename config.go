package hostbridge

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the service configuration. The zero value is usable:
// every field has a default applied by New.
type Config struct {
	// Addr is the listen address. Default "localhost:8000".
	Addr string `env:"HOSTBRIDGE_ADDR"`

	// Path is the JSON-RPC endpoint path, normalized to always start
	// and end with "/". Default "/mcp/".
	Path string `env:"HOSTBRIDGE_PATH"`

	// HealthPath serves a status document. Default "/healthz/";
	// set to "off" to disable.
	HealthPath string `env:"HOSTBRIDGE_HEALTH_PATH"`

	// SubmitTimeout bounds how long a request waits for the host
	// context to execute its command. Default 30s; a negative value
	// disables the timeout.
	SubmitTimeout time.Duration `env:"HOSTBRIDGE_SUBMIT_TIMEOUT"`

	// ShutdownTimeout bounds how long Stop waits for in-flight
	// requests to drain before force-closing. Default 5s.
	ShutdownTimeout time.Duration `env:"HOSTBRIDGE_SHUTDOWN_TIMEOUT"`

	// ReadHeaderTimeout guards against slow-header clients.
	// Default 10s.
	ReadHeaderTimeout time.Duration `env:"HOSTBRIDGE_READ_HEADER_TIMEOUT"`

	// QueueSize bounds the number of commands queued ahead of the host
	// draining them. Default 64.
	QueueSize int `env:"HOSTBRIDGE_QUEUE_SIZE"`

	// AuthToken, when set, requires every RPC call to present the
	// token as an Authorization bearer token.
	AuthToken string `env:"HOSTBRIDGE_AUTH_TOKEN"`

	// AllowedOrigins enables CORS for the listed origins ("*" for any).
	AllowedOrigins []string `env:"HOSTBRIDGE_ALLOWED_ORIGINS"`
}

// ConfigFromEnv loads a Config from the environment. A .env file in the
// working directory is loaded first when present (missing files are not
// an error).
func ConfigFromEnv() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("hostbridge: parse env: %w", err)
	}
	return cfg, nil
}

// normalize applies defaults and canonicalizes paths.
func (c *Config) normalize() error {
	if c.Addr == "" {
		c.Addr = "localhost:8000"
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("hostbridge: invalid addr %q: %w", c.Addr, err)
	}
	if c.Path == "" {
		c.Path = "/mcp/"
	}
	c.Path = normalizePath(c.Path)
	switch c.HealthPath {
	case "":
		c.HealthPath = "/healthz/"
	case "off":
		c.HealthPath = ""
	default:
		c.HealthPath = normalizePath(c.HealthPath)
	}
	if c.HealthPath != "" && c.HealthPath == c.Path {
		return errors.New("hostbridge: health path must differ from the RPC path")
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 30 * time.Second
	} else if c.SubmitTimeout < 0 {
		c.SubmitTimeout = 0 // explicit "no timeout"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return nil
}

// normalizePath ensures a leading and trailing "/".
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// urlFor renders the externally visible base URL for a bound address.
func urlFor(hostport, path string) string {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "http://" + hostport + path
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}
