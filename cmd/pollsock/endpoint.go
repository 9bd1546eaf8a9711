package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"pollsock.it/agent"
	"pollsock.it/bridge"
	"pollsock.it/codec"
	"pollsock.it/config"
	"pollsock.it/responder"
	"pollsock.it/socket"
	"pollsock.it/utils/cert"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"syscall"
	"time"
)

const shutdownTimeout = 5 * time.Second

// endpoint is what both roles offer once started.
type endpoint interface {
	socket.Conn
	Close() error
}

// endpointFlags mirror the configuration file, a flag overrides the file only when given.
type endpointFlags struct {
	configFile string

	remote    string
	listen    string
	path      string
	chunkSize int
	interval  time.Duration
	timeout   time.Duration
	codec     string
	proxyURL  string

	tls      bool
	caCert   string
	cert     string
	key      string
	insecure bool

	logFile   string
	logLevel  string
	logStdout bool

	attachMode    string
	attachAddress string
	attachPath    string
}

func newEndpointCmd(role string) *cobra.Command {
	flags := &endpointFlags{}

	cmd := &cobra.Command{
		Use:   role,
		Short: fmt.Sprintf("Run the %s end of a tunnel", role),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd.Flags(), role)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	if role == config.RoleServer {
		cmd.Long = `Answer tunnel polls: every accepted connection is one HTTP request whose body
feeds the stream and whose response carries queued bytes back.`
	} else {
		cmd.Long = `Poll a tunnel server: one HTTP request per interval carries the oldest
outbound chunk and brings back whatever the server has queued.`
	}

	flags.register(cmd.Flags(), role)
	return cmd
}

func (f *endpointFlags) register(flags *pflag.FlagSet, role string) {
	flags.StringVarP(&f.configFile, "config", "c", "", "path to config file")

	if role == config.RoleClient {
		flags.StringVar(&f.remote, "remote", "", "server address to poll, host:port")
		flags.DurationVar(&f.interval, "interval", socket.DefaultInterval, "time between two polls")
		flags.StringVar(&f.codec, "codec", codec.Raw.Name(), "body encoding: raw or base64")
		flags.StringVar(&f.proxyURL, "proxy", "", "HTTP proxy URL for polls")
		flags.StringVar(&f.caCert, "ca-cert", "", "CA certificate verifying the server")
		flags.BoolVar(&f.insecure, "insecure", false, "skip server certificate verification")
	} else {
		flags.StringVar(&f.listen, "listen", config.DefaultListen, "address to answer polls on")
		flags.StringVar(&f.cert, "cert", "", "server certificate file")
		flags.StringVar(&f.key, "key", "", "server key file")
	}

	flags.StringVar(&f.path, "path", socket.DefaultPath, "HTTP path of the tunnel")
	flags.IntVar(&f.chunkSize, "chunk-size", socket.DefaultChunkSize, "bytes carried by one poll")
	flags.DurationVar(&f.timeout, "timeout", socket.DefaultTimeout, "time limit of one poll")
	flags.BoolVar(&f.tls, "tls", false, "carry polls over TLS")

	flags.StringVar(&f.logFile, "log-file", "", "rotated log file, stderr when empty")
	flags.StringVar(&f.logLevel, "log-level", "Info", "log level: [Debug,Info,Warn,Error,Off]")
	flags.BoolVar(&f.logStdout, "log-stdout", false, "copy the log file to stdout")

	flags.StringVar(&f.attachMode, "attach", config.AttachNone, "local attachment: none, stdio, tcp-listen, tcp-dial, websocket, socks5")
	flags.StringVar(&f.attachAddress, "attach-address", "", "address listened on or dialled by the attachment")
	flags.StringVar(&f.attachPath, "attach-path", "/", "websocket upgrade path")
}

// load reads the config file if any, lays the given flags over it and validates the result.
func (f *endpointFlags) load(flags *pflag.FlagSet, role string) (*config.Config, error) {
	cfg := &config.Config{}
	if f.configFile != "" {
		var err error
		if cfg, err = config.Read(f.configFile); err != nil {
			return nil, err
		}
	}

	if cfg.Role != "" && cfg.Role != role {
		return nil, fmt.Errorf("config file %s is for role %q, not %q", f.configFile, cfg.Role, role)
	}
	cfg.Role = role

	set := func(name string, apply func()) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			apply()
		}
	}
	set("remote", func() { cfg.Remote = f.remote })
	set("listen", func() { cfg.Listen = f.listen })
	set("path", func() { cfg.Path = f.path })
	set("chunk-size", func() { cfg.ChunkSize = f.chunkSize })
	set("interval", func() { cfg.PollInterval = config.Duration(f.interval) })
	set("timeout", func() { cfg.Timeout = config.Duration(f.timeout) })
	set("codec", func() { cfg.Codec = f.codec })
	set("proxy", func() { cfg.ProxyURL = f.proxyURL })
	set("tls", func() { cfg.TLS.Enabled = f.tls })
	set("ca-cert", func() { cfg.TLS.CACert = f.caCert })
	set("insecure", func() { cfg.TLS.InsecureSkipVerify = f.insecure })
	set("cert", func() { cfg.TLS.Cert = f.cert })
	set("key", func() { cfg.TLS.Key = f.key })
	set("log-file", func() { cfg.Log.File = f.logFile })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-stdout", func() { cfg.Log.Stdout = f.logStdout })
	set("attach", func() { cfg.Attach.Mode = f.attachMode })
	set("attach-address", func() { cfg.Attach.Address = f.attachAddress })
	set("attach-path", func() { cfg.Attach.Path = f.attachPath })

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts the endpoint, attaches it and waits for SIGINT or SIGTERM.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logs.GetLogger(cfg.Log.File, cfg.Log.Level, cfg.Log.Stdout)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := start(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "role", cfg.Role, "error", err)
		return err
	}
	defer func() {
		_ = conn.Close()
		logStats(conn, logger)
	}()

	if err := attach(ctx, cfg, conn, logger); err != nil {
		logger.Error("attachment stopped", "mode", cfg.Attach.Mode, "error", err)
		return err
	}
	return nil
}

func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (endpoint, error) {
	if cfg.Role == config.RoleServer {
		options := []responder.Option{
			responder.WithChunkSize(cfg.ChunkSize),
			responder.WithTimeout(cfg.Timeout.Duration()),
			responder.WithPath(cfg.Path),
		}
		if cfg.TLS.Enabled {
			tlsConfig, err := cert.ServerConfig(cfg.TLS.Cert, cfg.TLS.Key)
			if err != nil {
				return nil, err
			}
			options = append(options, responder.WithTLS(tlsConfig))
		}

		r, err := responder.New(cfg.Listen, logger, options...)
		if err != nil {
			return nil, err
		}
		if err := r.Start(ctx); err != nil {
			return nil, err
		}
		return r, nil
	}

	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	options := []agent.Option{
		agent.WithChunkSize(cfg.ChunkSize),
		agent.WithInterval(cfg.PollInterval.Duration()),
		agent.WithTimeout(cfg.Timeout.Duration()),
		agent.WithPath(cfg.Path),
		agent.WithCodec(c),
		agent.WithProxy(cfg.ProxyURL),
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := cert.ClientConfig(cfg.TLS.CACert, cfg.TLS.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		options = append(options, agent.WithTLS(tlsConfig))
	}

	a, err := agent.New(cfg.Remote, logger, options...)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// attach connects the tunnel stream to the configured local side until ctx is done.
func attach(ctx context.Context, cfg *config.Config, conn socket.Conn, logger *slog.Logger) error {
	address := cfg.Attach.Address

	switch cfg.Attach.Mode {
	case config.AttachStdio:
		return bridge.Stdio(ctx, conn, nil, nil, logger)

	case config.AttachTCPDial:
		return bridge.DialTCP(ctx, address, conn, logger)

	case config.AttachTCPListen, config.AttachSocks5:
		var lc net.ListenConfig
		listener, err := lc.Listen(ctx, "tcp", address)
		if err != nil {
			return errs.WithStack(err)
		}
		defer func() {
			_ = listener.Close()
		}()

		if cfg.Attach.Mode == config.AttachSocks5 {
			return bridge.ServeSocks5(ctx, listener, conn, logger)
		}
		return bridge.ServeTCP(ctx, listener, conn, logger)

	case config.AttachWebsocket:
		handler := http.NewServeMux()
		handler.Handle(cfg.Attach.Path, bridge.WebsocketHandler(conn, logger))
		server := &http.Server{
			Addr:     address,
			Handler:  handler,
			ErrorLog: log.New(io.Discard, "", 0),
		}

		stopShutdown := context.AfterFunc(ctx, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
		defer stopShutdown()

		logger.Info("serving websocket", "address", address, "path", cfg.Attach.Path)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errs.WithStack(err)
		}
		return nil

	default:
		logger.Info("no local attachment, waiting for shutdown")
		<-ctx.Done()
		return nil
	}
}

func logStats(conn endpoint, logger *slog.Logger) {
	switch e := conn.(type) {
	case *agent.Agent:
		stats := e.Stats()
		logger.Info("stopped", "ticks", stats.Ticks, "failures", stats.Failures,
			"sent", stats.SentBytes, "received", stats.ReceivedBytes, "duplicates", stats.DuplicateBytes)
	case *responder.Responder:
		stats := e.Stats()
		logger.Info("stopped", "ticks", stats.Ticks, "failures", stats.Failures,
			"sent", stats.SentBytes, "received", stats.ReceivedBytes, "duplicates", stats.DuplicateBytes)
	}
}
