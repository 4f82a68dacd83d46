package session

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Flow defaults.
const (
	DefaultPIN             = "000000"
	DefaultPUK             = "123456789012"
	DefaultPairingPassword = "WalletAppletTest"
	DefaultPath            = "m/44'/0'/0'/0/0"
	DefaultHash            = "thiscouldbeahashintheorysoitisok"
)

// PairingStore persists pairing material per token between sessions.
// Load returns nil, nil when nothing is stored for tokenID.
type PairingStore interface {
	Load(tokenID string) (*wallet.PairingMaterial, error)
	Save(tokenID string, material *wallet.PairingMaterial) error
	Delete(tokenID string) error
}

// FlowConfig configures StandardFlow.
type FlowConfig struct {
	// Secrets initialize an uninitialized token and authenticate.
	Secrets wallet.Secrets

	// Path is the derivation path of the signing key.
	Path string

	// Hashes are signed in order. Each must be 32 bytes.
	Hashes [][]byte

	// Seed loads a master key when the token has none. When empty the
	// token generates one.
	Seed []byte

	// Teardown unpairs every slot, including this session's, before
	// finishing. When false the pairing is kept and saved to Pairings.
	Teardown bool

	// Pairings stores material for reuse. Optional.
	Pairings PairingStore

	Logger *slog.Logger
}

// DefaultFlowConfig returns the demonstration settings, with teardown on.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Secrets: wallet.Secrets{
			PIN:             DefaultPIN,
			PUK:             DefaultPUK,
			PairingPassword: DefaultPairingPassword,
		},
		Path:     DefaultPath,
		Hashes:   [][]byte{[]byte(DefaultHash)},
		Teardown: true,
	}
}

// StandardFlow returns the full lifecycle: select, initialize when needed,
// pair or reuse a stored pairing, open the secure channel, read the status,
// verify the PIN, create a master key when none exists, derive, sign, and
// finally tear down or keep the pairing.
func StandardFlow(cfg FlowConfig) Procedure {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(ctx context.Context, s *Session) error {
		desc, err := s.Select(ctx)
		if err != nil {
			return err
		}
		if !desc.Initialized() {
			logger.Info("initializing token", "session", s.ID())
			if desc, err = s.Initialize(ctx, cfg.Secrets); err != nil {
				return err
			}
		}
		tokenID := hex.EncodeToString(desc.InstanceUID())
		logger.Info("token selected", "session", s.ID(), "token", tokenID,
			"version", desc.VersionString(), "free_slots", desc.FreePairingSlots())

		if err := establish(ctx, s, cfg, tokenID, logger); err != nil {
			return err
		}

		status, err := s.GetStatus(ctx)
		if err != nil {
			return err
		}
		logger.Info("status", "session", s.ID(),
			"pin_retries", status.PINRetryCount, "puk_retries", status.PUKRetryCount, "master_key", status.HasMasterKey())

		if err := s.VerifyPIN(ctx, cfg.Secrets.PIN); err != nil {
			return err
		}

		if !status.HasMasterKey() {
			var keyUID []byte
			if len(cfg.Seed) > 0 {
				keyUID, err = s.LoadSeed(ctx, cfg.Seed)
			} else {
				keyUID, err = s.GenerateKey(ctx)
			}
			if err != nil {
				return err
			}
			logger.Info("master key created", "session", s.ID(), "key_uid", hex.EncodeToString(keyUID))
		}

		if _, err := s.DeriveKey(ctx, cfg.Path); err != nil {
			return err
		}
		for _, hash := range cfg.Hashes {
			sig, err := s.Sign(ctx, hash)
			if err != nil {
				return err
			}
			logger.Info("signed", "session", s.ID(), "rec_id", sig.RecID())
		}

		if !cfg.Teardown {
			s.Finish()
			return nil
		}
		if err := s.UnpairOthers(ctx); err != nil {
			return err
		}
		if err := s.Unpair(ctx); err != nil {
			return err
		}
		if cfg.Pairings != nil {
			if err := cfg.Pairings.Delete(tokenID); err != nil {
				logger.Warn("pairing store delete", "token", tokenID, "error", err)
			}
		}
		return nil
	}
}

// establish reuses stored pairing material when available, pairs
// otherwise, and opens the secure channel. A stored pairing the token
// rejects is dropped from the store so the next presence pairs afresh.
func establish(ctx context.Context, s *Session, cfg FlowConfig, tokenID string, logger *slog.Logger) error {
	var stored *wallet.PairingMaterial
	if cfg.Pairings != nil {
		p, err := cfg.Pairings.Load(tokenID)
		if err != nil {
			logger.Warn("pairing store load", "token", tokenID, "error", err)
		}
		stored = p
	}

	if stored != nil {
		if err := s.UsePairing(stored); err != nil {
			return err
		}
		err := s.OpenSecureChannel(ctx)
		var se *StatusError
		if errors.As(err, &se) {
			logger.Info("stored pairing rejected", "token", tokenID, "status", se.Code.String())
			if derr := cfg.Pairings.Delete(tokenID); derr != nil {
				logger.Warn("pairing store delete", "token", tokenID, "error", derr)
			}
		}
		return err
	}

	material, err := s.Pair(ctx, cfg.Secrets.PairingPassword)
	if err != nil {
		return err
	}
	if cfg.Pairings != nil && !cfg.Teardown {
		if err := cfg.Pairings.Save(tokenID, material); err != nil {
			logger.Warn("pairing store save", "token", tokenID, "error", err)
		}
	}
	return s.OpenSecureChannel(ctx)
}
