package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file layout.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

// ClientConfig holds the settings injected into the live-reload client.
type ClientConfig struct {
	// URL is the WebSocket endpoint of the development server.
	URL string `yaml:"url"`

	// PageURL is the page the headless host loads and reloads.
	PageURL string `yaml:"page_url"`

	// ReconnectInterval is the fixed delay, in seconds, before reconnecting
	// after an abnormal closure. Fractions are allowed.
	ReconnectInterval float64 `yaml:"reconnect_interval"`

	// HandshakeTimeout bounds the WebSocket opening handshake, in seconds.
	HandshakeTimeout float64 `yaml:"handshake_timeout"`

	// CloseTimeout is how long to wait for the server to answer a close frame, in seconds.
	CloseTimeout float64 `yaml:"close_timeout"`

	// MaxMessageSize is the maximum inbound message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// ServerConfig holds development server settings.
type ServerConfig struct {
	// Address is the listen address, e.g. "127.0.0.1:8000".
	Address string `yaml:"address"`

	// Root is the directory served as static files.
	Root string `yaml:"root"`

	// Path is the URL path of the WebSocket endpoint.
	Path string `yaml:"path"`

	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Connections ConnectionsConfig `yaml:"connections"`
	Watch       WatchConfig       `yaml:"watch"`
}

// WatchConfig controls which file changes produce commands.
type WatchConfig struct {
	// Enabled turns the file watcher on.
	Enabled bool `yaml:"enabled"`

	// Ignore lists base names and glob patterns that never trigger a command.
	Ignore []string `yaml:"ignore"`
}

// ConnectionsConfig holds connection limit settings.
type ConnectionsConfig struct {
	// MaxPerIP is the maximum concurrent connections allowed from a single IP address.
	// 0 means unlimited.
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxTotal is the maximum total concurrent connections to the server.
	// 0 means unlimited.
	MaxTotal int `yaml:"max_total"`
}

// WebSocketConfig holds WebSocket-specific settings.
type WebSocketConfig struct {
	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy.
	// Use "*" to allow all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum WebSocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`
}

// DefaultConfig returns a Config with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			URL:               "ws://127.0.0.1:8000/livereload",
			PageURL:           "http://127.0.0.1:8000/",
			ReconnectInterval: 1.0,
			HandshakeTimeout:  10,
			CloseTimeout:      1,
			MaxMessageSize:    4096,
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8000",
			Root:    ".",
			Path:    "/livereload",
			WebSocket: WebSocketConfig{
				AllowedOrigins: []string{}, // Same-origin only by default
				MaxMessageSize: 4096,
			},
			Connections: ConnectionsConfig{
				MaxPerIP: 20,
				MaxTotal: 100,
			},
			Watch: WatchConfig{
				Enabled: true,
				Ignore:  []string{".git", "node_modules", "*.swp", "*~", ".#*"},
			},
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, returns default config.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Use defaults if file doesn't exist
		}
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// ApplyEnv applies LIVERELOAD_* environment overrides.
func (c *Config) ApplyEnv() error {
	if u := os.Getenv("LIVERELOAD_URL"); u != "" {
		c.Client.URL = u
	}
	if u := os.Getenv("LIVERELOAD_PAGE_URL"); u != "" {
		c.Client.PageURL = u
	}
	if s := os.Getenv("LIVERELOAD_RECONNECT_INTERVAL"); s != "" {
		interval, err := ParseReconnectInterval(s)
		if err != nil {
			return fmt.Errorf("LIVERELOAD_RECONNECT_INTERVAL: %w", err)
		}
		c.Client.ReconnectInterval = interval
	}
	if addr := os.Getenv("LIVERELOAD_ADDR"); addr != "" {
		c.Server.Address = addr
	}
	return nil
}

// ParseReconnectInterval parses a number of seconds such as "1", "0.5" or "2.5s".
func ParseReconnectInterval(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reconnect interval %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("invalid reconnect interval %q: must be a non-negative number of seconds", s)
	}
	return v, nil
}

// Validate checks the client settings.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid url %q: scheme must be ws or wss", c.URL)
	}
	if c.PageURL != "" {
		p, err := url.Parse(c.PageURL)
		if err != nil {
			return fmt.Errorf("invalid page_url %q: %w", c.PageURL, err)
		}
		if p.Scheme != "http" && p.Scheme != "https" {
			return fmt.Errorf("invalid page_url %q: scheme must be http or https", c.PageURL)
		}
	}
	if err := checkSeconds("reconnect_interval", c.ReconnectInterval); err != nil {
		return err
	}
	if err := checkSeconds("handshake_timeout", c.HandshakeTimeout); err != nil {
		return err
	}
	if err := checkSeconds("close_timeout", c.CloseTimeout); err != nil {
		return err
	}
	return nil
}

// maxSeconds is the largest number of seconds a time.Duration can hold.
var maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// checkSeconds rejects values that seconds cannot convert to a duration.
func checkSeconds(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > maxSeconds {
		return fmt.Errorf("invalid %s %v: must be between 0 and %.0f seconds", name, v, maxSeconds)
	}
	return nil
}

// ReconnectDelay returns the reconnect interval as a duration.
func (c *ClientConfig) ReconnectDelay() time.Duration {
	return seconds(c.ReconnectInterval)
}

// HandshakeTimeoutDuration returns the handshake timeout as a duration.
func (c *ClientConfig) HandshakeTimeoutDuration() time.Duration {
	return seconds(c.HandshakeTimeout)
}

// CloseTimeoutDuration returns the close timeout as a duration.
func (c *ClientConfig) CloseTimeoutDuration() time.Duration {
	return seconds(c.CloseTimeout)
}

func seconds(v float64) time.Duration {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= maxSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(v * float64(time.Second))
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// isSameOrigin checks if the origin matches the request host (same-origin policy).
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // No origin header means a non-browser client such as the headless host
	}

	// Extract host from origin URL (e.g., "http://localhost:3000" -> "localhost:3000")
	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
