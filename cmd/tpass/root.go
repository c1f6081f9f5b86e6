package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/tpass/tpass/internal/config"
	"github.com/tpass/tpass/pkg/access"
	"github.com/tpass/tpass/pkg/history"
	"github.com/tpass/tpass/pkg/keystore"
	"github.com/tpass/tpass/pkg/remote"
	"github.com/tpass/tpass/pkg/store"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgPath string

	cfg    *config.Config
	ks     keystore.Store
	gate   *access.Gate
	mirror *store.Mirror
	st     *store.Store
	hist   *history.Log
	tokens *remote.KeystoreTokens
)

const historyChainKeySlot = "history_chain_key"

var rootCmd = &cobra.Command{
	Use:   "tpass",
	Short: "tpass is a local password vault with cloud sync",
	Long:  `A password vault storing credentials in a local file, guarded by a master secret with attempt limiting, with optional push/pull sync against a cloud disk.`,
	// PersistentPreRunE builds the engine for every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return err
		}

		ks, err = keystore.OpenFile(cfg.KeystorePath())
		if err != nil {
			return err
		}
		gate = access.NewGate(ks)

		mirror, err = store.OpenMirror(cfg.MirrorPath())
		if err != nil {
			return err
		}
		st = store.New(cfg.VaultPath(), mirror)

		chainKey, err := historyChainKey(ks)
		if err != nil {
			return err
		}
		hist, err = history.Open(cfg.HistoryPath(), chainKey)
		if err != nil {
			return err
		}
		st.SetHistorySink(hist)

		tokens = remote.NewKeystoreTokens(ks)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if hist != nil {
			hist.Close()
		}
		if mirror != nil {
			mirror.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "Config file path")
}

// historyChainKey returns the per-install MAC key material for the history
// log, generating and persisting it on first use.
func historyChainKey(ks keystore.Store) ([]byte, error) {
	stored, ok, err := ks.Get(historyChainKeySlot)
	if err != nil {
		return nil, fmt.Errorf("failed to read history chain key: %w", err)
	}
	if ok && stored != "" {
		return hex.DecodeString(stored)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate history chain key: %w", err)
	}
	if err := ks.Set(historyChainKeySlot, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("failed to store history chain key: %w", err)
	}
	return key, nil
}

// promptPassword reads a secret from the terminal without echo.
func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(b), nil
}

// promptMasterVerified prompts for the master secret and verifies it against
// the gate, translating lockout state into user-facing messages. A cooldown
// window that has already elapsed re-arms the attempt counter before the
// check.
func promptMasterVerified() (string, error) {
	if !gate.InCooldown() && gate.RemainingAttempts() == 0 {
		if err := gate.ResetAttempts(); err != nil {
			return "", err
		}
	}

	secret, err := promptPassword("Enter master password")
	if err != nil {
		return "", err
	}
	if err := gate.Verify(secret); err != nil {
		return "", friendlyGateError(err)
	}
	return secret, nil
}

func friendlyGateError(err error) error {
	var cooldown *access.CooldownError
	if errors.As(err, &cooldown) {
		return fmt.Errorf("too many failed attempts; retry in %s", cooldown.Remaining.Round(time.Second))
	}
	var invalid *access.InvalidSecretError
	if errors.As(err, &invalid) {
		if invalid.Remaining == 0 {
			return fmt.Errorf("invalid master password; vault locked for %s", access.Cooldown)
		}
		return fmt.Errorf("invalid master password (%d attempts remaining)", invalid.Remaining)
	}
	if errors.Is(err, access.ErrNoSecret) {
		return fmt.Errorf("no master password set; run 'tpass init' first")
	}
	return err
}

// ensureUnlocked verifies the master secret and opens the store.
func ensureUnlocked() (string, error) {
	secret, err := promptMasterVerified()
	if err != nil {
		return "", err
	}
	if err := st.Open(secret); err != nil {
		return "", fmt.Errorf("failed to open vault: %w", err)
	}
	return secret, nil
}
