// Command hwlite-sim is a simulated wallet token that taps a hwlite bridge.
//
// Each tap dials the bridge, answers APDUs until the host hangs up or the
// hold time runs out, then disconnects. The token keeps its state (pairings,
// PIN counter, keys) across taps.
//
// Usage:
//
//	hwlite-sim [flags]
//
// Flags:
//
//	-connect string       Bridge address (default "127.0.0.1:7816")
//	-taps int             Number of taps, 0 taps forever (default 1)
//	-hold duration        Maximum time per tap, 0 waits for the host (default 0)
//	-gap duration         Pause between taps (default 2s)
//	-initialized          Start with the default credentials already set
//	-mnemonic string      Pre-load a master key from a BIP-39 phrase
//	-protocol-log string  Write token-side frames to this .hwlog file
//	-log-level string     Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Factory-fresh token, one tap
//	hwlite-sim
//
//	# Initialized token tapped three times, pulled away after 300ms
//	hwlite-sim -initialized -taps 3 -hold 300ms
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hwlite/hwlite-go/internal/simulator"
	"github.com/hwlite/hwlite-go/pkg/config"
	hwlog "github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/transport"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Config holds the simulator settings.
type Config struct {
	Connect     string
	Taps        int
	Hold        time.Duration
	Gap         time.Duration
	Initialized bool
	Mnemonic    string
	ProtocolLog string
	LogLevel    string
}

var cfg Config

func init() {
	flag.StringVar(&cfg.Connect, "connect", config.DefaultListen, "Bridge address")
	flag.IntVar(&cfg.Taps, "taps", 1, "Number of taps, 0 taps forever")
	flag.DurationVar(&cfg.Hold, "hold", 0, "Maximum time per tap, 0 waits for the host")
	flag.DurationVar(&cfg.Gap, "gap", 2*time.Second, "Pause between taps")
	flag.BoolVar(&cfg.Initialized, "initialized", false, "Start with the default credentials already set")
	flag.StringVar(&cfg.Mnemonic, "mnemonic", "", "Pre-load a master key from a BIP-39 phrase")
	flag.StringVar(&cfg.ProtocolLog, "protocol-log", "", "Write token-side frames to this .hwlog file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tok, err := newToken()
	if err != nil {
		logger.Error("create token", "error", err)
		os.Exit(1)
	}
	logger.Info("simulated token ready",
		"instance_uid", hex.EncodeToString(tok.InstanceUID()),
		"initialized", tok.Initialized())

	var protoLog hwlog.Logger
	if cfg.ProtocolLog != "" {
		fl, err := hwlog.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			logger.Error("open protocol log", "error", err)
			os.Exit(1)
		}
		defer fl.Close()
		protoLog = fl
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backoff := transport.NewBackoff(transport.BackoffConfig{})
	for n := 1; cfg.Taps == 0 || n <= cfg.Taps; n++ {
		if n > 1 && !sleep(ctx, cfg.Gap) {
			break
		}
		if err := tap(ctx, tok, backoff, protoLog, logger.With("tap", n)); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("tap failed", "tap", n, "error", err)
		}
	}
	logger.Info("done", "pin_retries", tok.PINRetries(), "paired_slots", len(tok.PairedSlots()))
}

func newToken() (*simulator.Token, error) {
	sc := simulator.Config{}
	if cfg.Initialized || cfg.Mnemonic != "" {
		sc.Secrets = &wallet.Secrets{
			PIN:             session.DefaultPIN,
			PUK:             session.DefaultPUK,
			PairingPassword: session.DefaultPairingPassword,
		}
	}
	if cfg.Mnemonic != "" {
		seed, err := wallet.SeedFromMnemonic(cfg.Mnemonic, "")
		if err != nil {
			return nil, err
		}
		sc.Seed = seed
	}
	return simulator.New(sc)
}

// tap runs one presence: dial, serve, hang up.
func tap(ctx context.Context, tok *simulator.Token, backoff *transport.Backoff, protoLog hwlog.Logger, logger *slog.Logger) error {
	conn, err := transport.DialWithBackoff(ctx, cfg.Connect, backoff)
	if err != nil {
		return err
	}
	defer conn.Close()

	tok.Reset()
	logger.Info("tapped", "bridge", conn.RemoteAddr().String())

	tapCtx := ctx
	if cfg.Hold > 0 {
		var cancel context.CancelFunc
		tapCtx, cancel = context.WithTimeout(ctx, cfg.Hold)
		defer cancel()
	}

	start := time.Now()
	err = transport.ServeFrames(tapCtx, conn, tok.Process, transport.ServeConfig{
		ProtocolLogger: protoLog,
		SessionID:      uuid.NewString(),
	})
	logger.Info("removed", "held", time.Since(start).Round(time.Millisecond))
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
