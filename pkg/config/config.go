package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// DefaultListen is the default bridge address.
const DefaultListen = "127.0.0.1:7816"

// HashSize is the length of a hash accepted for signing.
const HashSize = 32

var (
	ErrInvalidHash     = errors.New("hash must be 32 bytes of hex")
	ErrNoHashes        = errors.New("at least one hash is required")
	ErrSeedAndMnemonic = errors.New("seed and mnemonic are mutually exclusive")
	ErrInvalidSeed     = errors.New("seed must be 64 bytes of hex")
	ErrInvalidListen   = errors.New("listen address is required")
	ErrInvalidDuration = errors.New("duration must not be negative")
	ErrInvalidLogLevel = errors.New("unknown log level")
)

// Config is the complete hwlite configuration.
type Config struct {
	Secrets SecretsConfig `yaml:"secrets"`
	Flow    FlowConfig    `yaml:"flow"`

	// SessionTimeout bounds one session. Zero uses the controller default;
	// negative disables the limit.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	Bridge  BridgeConfig  `yaml:"bridge"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// SecretsConfig holds the token credentials.
type SecretsConfig struct {
	PIN             string `yaml:"pin"`
	PUK             string `yaml:"puk"`
	PairingPassword string `yaml:"pairing_password"`
}

// FlowConfig holds the signing flow settings.
type FlowConfig struct {
	// Path is the derivation path of the signing key.
	Path string `yaml:"path"`

	// Hashes are hex encoded 32-byte digests.
	Hashes []string `yaml:"hashes"`

	// Seed is a hex 64-byte seed loaded when the token has no key.
	Seed string `yaml:"seed,omitempty"`

	// Mnemonic is a BIP-39 phrase converted to a seed. Exclusive with Seed.
	Mnemonic   string `yaml:"mnemonic,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`

	// Teardown unpairs every slot at the end of each session.
	Teardown bool `yaml:"teardown"`
}

// BridgeConfig configures the token bridge listener.
type BridgeConfig struct {
	Listen          string        `yaml:"listen"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
}

// StorageConfig names the files hwlite writes.
type StorageConfig struct {
	// Pairings is the pairing store file. Empty disables reuse.
	Pairings string `yaml:"pairings"`

	// ProtocolLog is the .hwlog capture file. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the demonstration configuration.
func Default() *Config {
	return &Config{
		Secrets: SecretsConfig{
			PIN:             session.DefaultPIN,
			PUK:             session.DefaultPUK,
			PairingPassword: session.DefaultPairingPassword,
		},
		Flow: FlowConfig{
			Path:     session.DefaultPath,
			Hashes:   []string{hex.EncodeToString([]byte(session.DefaultHash))},
			Teardown: true,
		},
		SessionTimeout: session.DefaultSessionTimeout,
		Bridge: BridgeConfig{
			Listen:          DefaultListen,
			ExchangeTimeout: 5 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Unmarshal decodes YAML onto c. Keys absent from data keep their values.
func (c *Config) Unmarshal(data []byte) error {
	return yaml.Unmarshal(data, c)
}

// Marshal encodes c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if err := c.Secrets.wallet().Validate(); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if _, err := wallet.ParseDerivationPath(c.Flow.Path); err != nil {
		return fmt.Errorf("flow.path: %w", err)
	}
	if _, err := c.Flow.hashes(); err != nil {
		return err
	}
	if _, err := c.Flow.seed(); err != nil {
		return err
	}
	if c.Bridge.Listen == "" {
		return ErrInvalidListen
	}
	if c.Bridge.ExchangeTimeout < 0 {
		return fmt.Errorf("bridge.exchange_timeout: %w", ErrInvalidDuration)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Session returns the flow configuration for session.StandardFlow.
// Pairings and Logger are left for the caller.
func (c *Config) Session() (session.FlowConfig, error) {
	if err := c.Validate(); err != nil {
		return session.FlowConfig{}, err
	}
	hashes, _ := c.Flow.hashes()
	seed, _ := c.Flow.seed()
	return session.FlowConfig{
		Secrets:  c.Secrets.wallet(),
		Path:     c.Flow.Path,
		Hashes:   hashes,
		Seed:     seed,
		Teardown: c.Flow.Teardown,
	}, nil
}

func (s SecretsConfig) wallet() wallet.Secrets {
	return wallet.Secrets{PIN: s.PIN, PUK: s.PUK, PairingPassword: s.PairingPassword}
}

func (f FlowConfig) hashes() ([][]byte, error) {
	if len(f.Hashes) == 0 {
		return nil, ErrNoHashes
	}
	out := make([][]byte, 0, len(f.Hashes))
	for i, h := range f.Hashes {
		b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil || len(b) != HashSize {
			return nil, fmt.Errorf("flow.hashes[%d]: %w", i, ErrInvalidHash)
		}
		out = append(out, b)
	}
	return out, nil
}

func (f FlowConfig) seed() ([]byte, error) {
	switch {
	case f.Seed != "" && f.Mnemonic != "":
		return nil, ErrSeedAndMnemonic
	case f.Mnemonic != "":
		seed, err := wallet.SeedFromMnemonic(f.Mnemonic, f.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("flow.mnemonic: %w", err)
		}
		return seed, nil
	case f.Seed != "":
		b, err := hex.DecodeString(f.Seed)
		if err != nil || len(b) != wallet.SeedSize {
			return nil, ErrInvalidSeed
		}
		return b, nil
	default:
		return nil, nil
	}
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
}
