// Package config holds the relay and client configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used by both processes when no port is given.
const DefaultPort = 1234

// Server configures the relay.
type Server struct {
	Port          int           `yaml:"port"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`   // evict a slot after this long without traffic
	Wait          time.Duration `yaml:"wait"`           // bound on each wait for a datagram; drives eviction
	MatchPort     bool          `yaml:"match_port"`     // key peers by address and port instead of address only
	WSListen      string        `yaml:"ws_listen"`      // optional HTTP address for /relay and /metrics
	StatsInterval time.Duration `yaml:"stats_interval"` // 0 disables the periodic traffic report
	LogFormat     string        `yaml:"log_format"`     // "text" or "json"
}

// Client configures the camera client.
type Client struct {
	Port              int           `yaml:"port"`
	FPS               int           `yaml:"fps"`
	NoConnectionAfter time.Duration `yaml:"no_connection_after"` // show the placeholder after this long without a signal
	MaxFrameBytes     int           `yaml:"max_frame_bytes"`
	Inbox             int           `yaml:"inbox"` // datagrams buffered between socket reads and polls
	LossP             float64       `yaml:"loss_p"`
	LossQ             float64       `yaml:"loss_q"`
	StatsInterval     time.Duration `yaml:"stats_interval"`
}

// Config is the root of the YAML file. Each process reads its own section.
type Config struct {
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:          DefaultPort,
			IdleTimeout:   5 * time.Second,
			Wait:          time.Second,
			StatsInterval: 10 * time.Second,
			LogFormat:     "text",
		},
		Client: Client{
			Port:              DefaultPort,
			FPS:               30,
			NoConnectionAfter: 5 * time.Second,
			MaxFrameBytes:     4 << 20,
			Inbox:             256,
			StatsInterval:     10 * time.Second,
		},
	}
}

// Load reads the configuration from the given YAML file path on top of the
// defaults. An empty path or a missing file yields the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ValidPort reports whether p is a usable UDP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Validate rejects values neither process can run with.
func (s *Server) Validate() error {
	switch {
	case !ValidPort(s.Port):
		return errors.Errorf("invalid port %d (must be 1~65535)", s.Port)
	case s.IdleTimeout <= 0:
		return errors.Errorf("idle_timeout must be positive, got %s", s.IdleTimeout)
	case s.Wait <= 0:
		return errors.Errorf("wait must be positive, got %s", s.Wait)
	case s.StatsInterval < 0:
		return errors.Errorf("stats_interval must not be negative, got %s", s.StatsInterval)
	case s.LogFormat != "text" && s.LogFormat != "json":
		return errors.Errorf("log_format must be text or json, got %q", s.LogFormat)
	}
	return nil
}

// Validate rejects values neither process can run with.
func (c *Client) Validate() error {
	switch {
	case !ValidPort(c.Port):
		return errors.Errorf("invalid port %d (must be 1~65535)", c.Port)
	case c.FPS < 1 || c.FPS > 240:
		return errors.Errorf("fps must be 1~240, got %d", c.FPS)
	case c.NoConnectionAfter <= 0:
		return errors.Errorf("no_connection_after must be positive, got %s", c.NoConnectionAfter)
	case c.MaxFrameBytes < 0:
		return errors.Errorf("max_frame_bytes must not be negative, got %d", c.MaxFrameBytes)
	case c.Inbox < 1:
		return errors.Errorf("inbox must be at least 1, got %d", c.Inbox)
	case c.LossP < 0 || c.LossP > 1 || c.LossQ < 0 || c.LossQ > 1:
		return errors.Errorf("loss probabilities must be within [0, 1], got p=%g q=%g", c.LossP, c.LossQ)
	case c.StatsInterval < 0:
		return errors.Errorf("stats_interval must not be negative, got %s", c.StatsInterval)
	}
	return nil
}

// FrameBudget is the time allotted to one client tick.
func (c *Client) FrameBudget() time.Duration {
	return time.Second / time.Duration(c.FPS)
}
