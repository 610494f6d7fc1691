package client

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/confera/confera/internal/signaling"
)

// Default configuration values (local development server)
const (
	DefaultServer = "http://localhost:3010"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultCodec  = "json"
)

// Config holds CLI configuration
type Config struct {
	// Server is the base URL of the relay, e.g. https://confera.example
	Server string

	// STUNServer is used for WebRTC negotiation
	STUNServer string

	// AdminSecret signs admin tokens for room deletion
	AdminSecret string

	// Codec is the relay wire codec, json or msgpack
	Codec string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Server      string
	STUNServer  string
	AdminSecret string
	Codec       string
}

// envSettings is the CONFERA_ prefixed environment layer.
type envSettings struct {
	Server      string `envconfig:"SERVER"`
	STUNServer  string `envconfig:"STUN_SERVER"`
	AdminSecret string `envconfig:"ADMIN_SECRET"`
	Codec       string `envconfig:"CODEC"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. CONFERA_* environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	var env envSettings
	if err := envconfig.Process("confera", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg := &Config{
		Server:      pick(opts.Server, env.Server, DefaultServer),
		STUNServer:  pick(opts.STUNServer, env.STUNServer, DefaultSTUN),
		AdminSecret: pick(opts.AdminSecret, env.AdminSecret, ""),
		Codec:       pick(opts.Codec, env.Codec, DefaultCodec),
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")

	u, err := url.Parse(cfg.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: must be http(s)://host[:port]", cfg.Server)
	}
	if _, err := signaling.CodecByName(cfg.Codec); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// WebSocketURL returns the relay endpoint for the configured server.
func (c *Config) WebSocketURL() string {
	u, _ := url.Parse(c.Server)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"codec": {c.Codec}}.Encode()
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}
