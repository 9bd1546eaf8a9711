// Package config provides YAML configuration parsing for pollsock endpoints.
//
// Example configuration:
//
//	role: client
//	remote: tunnel.example.com:443
//	path: /poll
//	chunk_size: 4096
//	poll_interval: 50ms
//	codec: base64
//
//	tls:
//	  enabled: true
//	  ca_cert: certs/ca.crt
//
//	log:
//	  file: run/client.log
//	  level: Info
//
//	attach:
//	  mode: tcp-listen
//	  address: 127.0.0.1:2222
package config

import (
	"fmt"
	"gopkg.in/yaml.v3"
	"net"
	"net/url"
	"os"
	"pollsock.it/codec"
	"pollsock.it/socket"
	"strings"
	"time"
)

const (
	RoleClient = "client"
	RoleServer = "server"

	DefaultListen = ":8080"
)

// Attachment modes.
const (
	AttachNone      = "none"
	AttachStdio     = "stdio"
	AttachTCPListen = "tcp-listen"
	AttachTCPDial   = "tcp-dial"
	AttachWebsocket = "websocket"
	AttachSocks5    = "socks5"
)

// Config is the root configuration of one tunnel endpoint.
type Config struct {
	// Role is "client" (polls) or "server" (answers polls).
	Role string `yaml:"role"`

	// Remote is the responder address polled by a client, "host:port".
	Remote string `yaml:"remote"`

	// Listen is the address a server binds. Defaults to ":8080".
	Listen string `yaml:"listen"`

	// Path is the HTTP path of the tunnel. Defaults to "/".
	Path string `yaml:"path"`

	// ChunkSize bounds the payload of one poll. Defaults to 1024.
	ChunkSize int `yaml:"chunk_size"`

	// PollInterval is the time between two client polls. Defaults to 100ms.
	PollInterval Duration `yaml:"poll_interval"`

	// Timeout bounds one poll on both sides. Defaults to 8s.
	Timeout Duration `yaml:"timeout"`

	// Codec is the client body encoding, "raw" or "base64". Servers mirror the client.
	Codec string `yaml:"codec"`

	// ProxyURL routes client polls through an HTTP proxy.
	ProxyURL string `yaml:"proxy_url"`

	TLS    TLSConfig    `yaml:"tls"`
	Log    LogConfig    `yaml:"log"`
	Attach AttachConfig `yaml:"attach"`
}

type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CACert verifies the server certificate on the client side.
	CACert string `yaml:"ca_cert"`

	// Cert and Key are the server certificate pair.
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

type LogConfig struct {
	// File is rotated by size, empty logs to stderr.
	File string `yaml:"file"`

	// Level is Debug, Info, Warn, Error or Off. Defaults to Info.
	Level  string `yaml:"level"`
	Stdout bool   `yaml:"stdout"`
}

// AttachConfig decides what the tunnel stream is connected to locally.
type AttachConfig struct {
	Mode string `yaml:"mode"`

	// Address is listened on (tcp-listen, websocket, socks5) or dialled (tcp-dial).
	Address string `yaml:"address"`

	// Path is the websocket upgrade path. Defaults to "/".
	Path string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes durations back in their string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	return cfg.complete()
}

// Read decodes a YAML configuration file without defaults or validation,
// for callers overriding fields before completing it.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(data)
}

// Parse parses YAML configuration data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	return cfg.complete()
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func (c *Config) complete() (*Config, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Path == "" {
		c.Path = socket.DefaultPath
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = socket.DefaultChunkSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(socket.DefaultInterval)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(socket.DefaultTimeout)
	}
	if c.Codec == "" {
		c.Codec = codec.Raw.Name()
	}
	if c.Log.Level == "" {
		c.Log.Level = "Info"
	}
	if c.Attach.Mode == "" {
		c.Attach.Mode = AttachNone
	}
	if c.Attach.Path == "" {
		c.Attach.Path = "/"
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleClient:
		if c.Remote == "" {
			return fmt.Errorf("remote is required for role %q", c.Role)
		}
		if _, _, err := net.SplitHostPort(c.Remote); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
		if c.TLS.Cert != "" || c.TLS.Key != "" {
			return fmt.Errorf("tls.cert and tls.key are server settings, role is %q", c.Role)
		}
	case RoleServer:
		if _, _, err := net.SplitHostPort(c.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		if c.TLS.Enabled && (c.TLS.Cert == "" || c.TLS.Key == "") {
			return fmt.Errorf("tls.cert and tls.key are required when tls is enabled on a server")
		}
		if c.ProxyURL != "" {
			return fmt.Errorf("proxy_url is a client setting, role is %q", c.Role)
		}
	case "":
		return fmt.Errorf("role is required (%s or %s)", RoleClient, RoleServer)
	default:
		return fmt.Errorf("role must be %s or %s, got %q", RoleClient, RoleServer, c.Role)
	}

	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", c.Path)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > socket.MaxPayload {
		return fmt.Errorf("chunk_size must be in [1, %d], got %d", socket.MaxPayload, c.ChunkSize)
	}
	if c.PollInterval.Duration() <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval.Duration())
	}
	if c.Timeout.Duration() <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout.Duration())
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return fmt.Errorf("codec: %w", err)
	}

	if c.ProxyURL != "" {
		parsedURL, err := url.Parse(c.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
		if parsedURL.Scheme == "" || parsedURL.Host == "" {
			return fmt.Errorf("proxy_url must be an absolute URL, got %q", c.ProxyURL)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "off":
	default:
		return fmt.Errorf("log.level must be Debug, Info, Warn, Error or Off, got %q", c.Log.Level)
	}

	switch c.Attach.Mode {
	case AttachNone, AttachStdio:
	case AttachTCPListen, AttachTCPDial, AttachWebsocket, AttachSocks5:
		if _, _, err := net.SplitHostPort(c.Attach.Address); err != nil {
			return fmt.Errorf("attach.address is required for mode %q: %w", c.Attach.Mode, err)
		}
		if c.Attach.Mode == AttachWebsocket && !strings.HasPrefix(c.Attach.Path, "/") {
			return fmt.Errorf("attach.path must start with '/', got %q", c.Attach.Path)
		}
	default:
		return fmt.Errorf("unknown attach.mode %q", c.Attach.Mode)
	}

	return nil
}
