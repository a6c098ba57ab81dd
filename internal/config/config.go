// Package config holds the configuration of the client and the echo server.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is read from an optional YAML file and the environment; command
// line flags are applied on top by the binaries.
type Config struct {
	// Client
	SignalingURL   string        `yaml:"signaling_url" env:"ECHO_SIGNALING_URL" env-default:"ws://127.0.0.1:8443/signaling"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"ECHO_RECONNECT_DELAY" env-default:"3s"`
	AudioFile      string        `yaml:"audio_file" env:"ECHO_AUDIO_FILE"`
	AutoStart      bool          `yaml:"auto_start" env:"ECHO_AUTO_START"`

	// Shared
	ICEServers []string `yaml:"ice_servers" env:"ECHO_ICE_SERVERS" env-default:"stun:stun.l.google.com:19302"`
	MDNS       bool     `yaml:"mdns" env:"ECHO_MDNS"`
	Debug      bool     `yaml:"debug" env:"ECHO_DEBUG"`

	// Server
	ListenAddr string `yaml:"listen_addr" env:"ECHO_LISTEN_ADDR" env-default:":8443"`
}

// Load reads path when non-empty, otherwise only the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read config from environment: %w", err)
	}

	return &cfg, nil
}

// Validate normalizes the signaling URL and checks the remaining fields.
func (c *Config) Validate() error {
	u, err := NormalizeWSURL(c.SignalingURL)
	if err != nil {
		return err
	}
	c.SignalingURL = u

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}

// NormalizeWSURL validates a raw WebSocket URL. The scheme must be ws or wss
// (a bare host defaults to ws); an empty path becomes /signaling.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid WebSocket URL scheme %q: must be ws or wss", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/signaling"
	}
	return u.String(), nil
}
