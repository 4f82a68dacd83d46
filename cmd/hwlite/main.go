// Command hwlite is the host side of a hwlite wallet token.
//
// It listens for token presences on a bridge address and drives each one
// through the wallet lifecycle, one session at a time.
//
// Usage:
//
//	hwlite <command> [flags]
//
// Commands:
//
//	run      Handle the next token tap, then exit
//	watch    Handle token taps until interrupted
//	shell    Drive each session by hand
//
// Flags (all commands):
//
//	-config string        YAML configuration file
//	-listen string        Bridge listen address (default "127.0.0.1:7816")
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write decoded exchanges to this .hwlog file
//	-pairings string      Pairing store file, enables pairing reuse
//	-teardown             Unpair all slots at the end of each session
//	-metrics string       Serve Prometheus metrics on this address
//
// Examples:
//
//	# One signing session against a simulated token
//	hwlite run &
//	hwlite-sim
//
//	# Keep pairings between taps and record every exchange
//	hwlite watch -teardown=false -pairings pairings.json -protocol-log host.hwlog
//
//	# Step through a session
//	hwlite shell
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hwlite/hwlite-go/cmd/hwlite/interactive"
	"github.com/hwlite/hwlite-go/pkg/config"
	hwlog "github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/metrics"
	"github.com/hwlite/hwlite-go/pkg/persistence"
	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/transport"
)

const usage = `hwlite - wallet token session host

Usage:
  hwlite <command> [flags]

Commands:
  run      Handle the next token tap, then exit
  watch    Handle token taps until interrupted
  shell    Drive each session by hand

Use "hwlite <command> -help" for more information about a command.
`

// Options holds the command line flags shared by every command.
type Options struct {
	ConfigPath  string
	Listen      string
	LogLevel    string
	ProtocolLog string
	Pairings    string
	Teardown    bool
	Metrics     string

	teardownSet bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var code int
	switch cmd {
	case "run":
		code = runOnce(args)
	case "watch":
		code = runWatch(args)
	case "shell":
		code = runShell(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		code = 1
	}
	os.Exit(code)
}

func parseOptions(name, summary string, args []string) *Options {
	opts := &Options{}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.Listen, "listen", "", "Bridge listen address (default "+config.DefaultListen+")")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&opts.ProtocolLog, "protocol-log", "", "Write decoded exchanges to this .hwlog file")
	fs.StringVar(&opts.Pairings, "pairings", "", "Pairing store file, enables pairing reuse")
	fs.BoolVar(&opts.Teardown, "teardown", true, "Unpair all slots at the end of each session")
	fs.StringVar(&opts.Metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `hwlite %s - %s

Usage:
  hwlite %s [flags]

Flags:
`, name, summary, name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "teardown" {
			opts.teardownSet = true
		}
	})
	return opts
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Listen != "" {
		cfg.Bridge.Listen = opts.Listen
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.ProtocolLog != "" {
		cfg.Storage.ProtocolLog = opts.ProtocolLog
	}
	if opts.Pairings != "" {
		cfg.Storage.Pairings = opts.Pairings
	}
	if opts.teardownSet {
		cfg.Flow.Teardown = opts.Teardown
	}
	if opts.Metrics != "" {
		cfg.Metrics.Listen = opts.Metrics
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// host is the wiring shared by every command.
type host struct {
	cfg      *config.Config
	logger   *slog.Logger
	flow     session.FlowConfig
	monitor  *transport.Monitor
	bridge   *transport.Bridge
	registry *metrics.Registry

	protoLog *hwlog.FileLogger
	metrics  *http.Server
}

func newHost(cfg *config.Config, logger *slog.Logger) (*host, error) {
	flow, err := cfg.Session()
	if err != nil {
		return nil, err
	}
	flow.Logger = logger

	h := &host{
		cfg:      cfg,
		logger:   logger,
		flow:     flow,
		monitor:  transport.NewMonitor(8),
		registry: metrics.NewRegistry(),
	}

	if path := cfg.Storage.Pairings; path != "" {
		h.flow.Pairings = persistence.NewPairingFile(path)
		logger.Info("pairing store", "path", path)
	}
	if path := cfg.Storage.ProtocolLog; path != "" {
		fl, err := hwlog.NewFileLogger(path)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		h.protoLog = fl
		logger.Info("protocol logging enabled", "path", path)
	}

	h.bridge, err = transport.NewBridge(transport.BridgeConfig{
		Address:         cfg.Bridge.Listen,
		ExchangeTimeout: cfg.Bridge.ExchangeTimeout,
		Logger:          logger,
	}, h.monitor)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Bridge.Listen, err)
	}
	return h, nil
}

// protocolLogger returns the capture sink. At debug level events are also
// written to the operational log.
func (h *host) protocolLogger() hwlog.Logger {
	debug := h.logger.Enabled(context.Background(), slog.LevelDebug)
	switch {
	case h.protoLog != nil && debug:
		return hwlog.NewMultiLogger(h.protoLog, hwlog.NewSlogAdapter(h.logger))
	case h.protoLog != nil:
		return h.protoLog
	case debug:
		return hwlog.NewSlogAdapter(h.logger)
	default:
		return nil
	}
}

func (h *host) controller(procedure session.Procedure, timeout time.Duration, onOutcome func(session.Outcome)) *session.Controller {
	cfg := session.ControllerConfig{
		Procedure:      procedure,
		SessionTimeout: timeout,
		Logger:         h.logger,
		ProtocolLogger: h.protocolLogger(),
		OnOutcome:      onOutcome,
		OnIgnored: func(ev transport.Event) {
			// The token stays on the bridge otherwise.
			if ev.Channel != nil {
				ev.Channel.Close()
			}
		},
	}
	h.registry.Instrument(&cfg)
	return session.NewController(cfg)
}

// serve runs the bridge, the metrics endpoint and the controller until ctx
// is done.
func (h *host) serve(ctx context.Context, c *session.Controller) error {
	if addr := h.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h.registry.Handler())
		h.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := h.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logger.Error("metrics server", "error", err)
			}
		}()
		h.logger.Info("metrics enabled", "address", addr)
	}

	go func() {
		if err := h.bridge.Serve(ctx); err != nil {
			h.logger.Error("bridge stopped", "error", err)
		}
	}()
	h.logger.Info("waiting for token", "address", h.bridge.Addr().String())

	err := c.Run(ctx, h.monitor.Events())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *host) close() {
	if h.bridge != nil {
		h.bridge.Close()
	}
	h.monitor.Close()
	if h.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		h.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	if h.protoLog != nil {
		if n := h.protoLog.Dropped(); n > 0 {
			h.logger.Warn("protocol log dropped events", "count", n)
		}
		h.protoLog.Close()
	}
}

// setup loads the configuration and builds the host. It exits on error.
func setup(name, summary string, args []string) (*host, *config.Config) {
	opts := parseOptions(name, summary, args)
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	h, err := newHost(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	return h, cfg
}

func runOnce(args []string) int {
	h, cfg := setup("run", "Handle the next token tap, then exit", args)
	defer h.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result session.Outcome
	c := h.controller(session.StandardFlow(h.flow), cfg.SessionTimeout, func(o session.Outcome) {
		result = o
		cancel()
	})
	if err := h.serve(ctx, c); err != nil {
		h.logger.Error("controller stopped", "error", err)
		return 1
	}
	if result.SessionID == "" {
		h.logger.Info("interrupted before a token was tapped")
		return 1
	}

	interactive.WriteReport(os.Stdout, result)
	if !result.Success() {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	h, cfg := setup("watch", "Handle token taps until interrupted", args)
	defer h.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var failed int
	c := h.controller(session.StandardFlow(h.flow), cfg.SessionTimeout, func(o session.Outcome) {
		if o.Success() {
			h.logger.Info(interactive.Summary(o))
		} else {
			failed++
			h.logger.Warn(interactive.Summary(o))
		}
	})
	if err := h.serve(ctx, c); err != nil {
		h.logger.Error("controller stopped", "error", err)
		return 1
	}
	h.logger.Info("stopped", "failed_sessions", failed)
	return 0
}

func runShell(args []string) int {
	opts := parseOptions("shell", "Drive each session by hand", args)
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	flow, _ := cfg.Session()
	sh, err := interactive.New(interactive.Config{Secrets: flow.Secrets, Path: flow.Path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(sh.Stdout(), &slog.HandlerOptions{Level: level}))
	h, err := newHost(cfg, logger)
	if err != nil {
		fmt.Fprintf(sh.Stdout(), "Error: %v\n", err)
		return 1
	}
	defer h.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := h.controller(sh.Procedure(), -1, sh.OnOutcome)
	done := make(chan error, 1)
	go func() { done <- h.serve(ctx, c) }()

	sh.Run(ctx, cancel)
	if err := <-done; err != nil {
		logger.Error("controller stopped", "error", err)
		return 1
	}
	return 0
}
