package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalClient(t *testing.T) {
	cfg, err := Parse([]byte("role: client\nremote: tunnel.example.com:80\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Path != "/" {
		t.Errorf("Path = %q, want /", cfg.Path)
	}
	if cfg.ChunkSize != 1024 {
		t.Errorf("ChunkSize = %d, want 1024", cfg.ChunkSize)
	}
	if cfg.PollInterval.Duration() != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval.Duration())
	}
	if cfg.Timeout.Duration() != 8*time.Second {
		t.Errorf("Timeout = %v, want 8s", cfg.Timeout.Duration())
	}
	if cfg.Codec != "raw" || cfg.Log.Level != "Info" || cfg.Attach.Mode != AttachNone {
		t.Errorf("codec %q, level %q, attach %q", cfg.Codec, cfg.Log.Level, cfg.Attach.Mode)
	}
}

func TestParse_FullServer(t *testing.T) {
	yaml := `
role: server
listen: 0.0.0.0:8443
path: /poll
chunk_size: 4096
poll_interval: 50ms
timeout: 3s
tls:
  enabled: true
  cert: certs/server.crt
  key: certs/server.key
log:
  file: run/server.log
  level: Debug
  stdout: true
attach:
  mode: tcp-dial
  address: 127.0.0.1:22
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Listen != "0.0.0.0:8443" || cfg.Path != "/poll" || cfg.ChunkSize != 4096 {
		t.Errorf("listen %q, path %q, chunk %d", cfg.Listen, cfg.Path, cfg.ChunkSize)
	}
	if cfg.PollInterval.Duration() != 50*time.Millisecond || cfg.Timeout.Duration() != 3*time.Second {
		t.Errorf("interval %v, timeout %v", cfg.PollInterval.Duration(), cfg.Timeout.Duration())
	}
	if !cfg.TLS.Enabled || cfg.TLS.Cert != "certs/server.crt" || cfg.TLS.Key != "certs/server.key" {
		t.Errorf("TLS = %+v", cfg.TLS)
	}
	if cfg.Log.File != "run/server.log" || cfg.Log.Level != "Debug" || !cfg.Log.Stdout {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Attach.Mode != AttachTCPDial || cfg.Attach.Address != "127.0.0.1:22" {
		t.Errorf("Attach = %+v", cfg.Attach)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no role", "remote: h:1", "role is required"},
		{"bad role", "role: relay", "role must be"},
		{"no remote", "role: client", "remote is required"},
		{"remote without port", "role: client\nremote: example.com", "remote"},
		{"bad listen", "role: server\nlisten: nowhere", "listen"},
		{"relative path", "role: server\npath: poll", "path must start"},
		{"negative chunk", "role: server\nchunk_size: -1", "chunk_size"},
		{"huge chunk", "role: server\nchunk_size: 2000000", "chunk_size"},
		{"bad duration", "role: server\ntimeout: soon", "invalid duration"},
		{"negative interval", "role: server\npoll_interval: -1s", "poll_interval"},
		{"unknown codec", "role: client\nremote: h:1\ncodec: gzip", "codec"},
		{"relative proxy", "role: client\nremote: h:1\nproxy_url: proxy:3128", "proxy_url"},
		{"proxy on server", "role: server\nproxy_url: http://proxy:3128", "client setting"},
		{"tls without pair", "role: server\ntls:\n  enabled: true", "tls.cert and tls.key"},
		{"server pair on client", "role: client\nremote: h:1\ntls:\n  cert: a.crt", "server settings"},
		{"bad level", "role: server\nlog:\n  level: Verbose", "log.level"},
		{"unknown attach", "role: server\nattach:\n  mode: pipe", "unknown attach.mode"},
		{"attach without address", "role: server\nattach:\n  mode: socks5", "attach.address"},
		{"bad websocket path", "role: server\nattach:\n  mode: websocket\n  address: 127.0.0.1:9000\n  path: ws", "attach.path"},
		{"not yaml", "role: [client", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pollsock.yaml")
	if err := os.WriteFile(path, []byte("role: server\nattach:\n  mode: stdio\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Role != RoleServer || cfg.Listen != DefaultListen || cfg.Attach.Mode != AttachStdio {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	value, err := Duration(1500 * time.Millisecond).MarshalYAML()
	if err != nil || value != "1.5s" {
		t.Errorf("MarshalYAML() = %v, %v", value, err)
	}
}

func TestRead_NoValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("role: client\nchunk_size: 64\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// remote comes from somewhere else, e.g. a flag.
	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.ChunkSize != 64 || cfg.Path != "" {
		t.Errorf("Read() applied defaults: %+v", cfg)
	}

	cfg.Remote = "h:1"
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
