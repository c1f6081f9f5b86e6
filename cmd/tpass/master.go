package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(masterCmd)
	masterCmd.AddCommand(masterChangeCmd)
	masterCmd.AddCommand(masterStatusCmd)
}

// initCmd sets the master password and creates the vault file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set the master password and create an empty vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := gate.HasSecret()
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("master password already set; use 'tpass master change'")
		}

		secret, err := promptNewMaster()
		if err != nil {
			return err
		}
		if err := gate.SetSecret(secret); err != nil {
			return err
		}
		if err := st.Open(secret); err != nil {
			return fmt.Errorf("failed to create vault: %w", err)
		}

		fmt.Printf("Vault initialized at %s\n", st.Path())
		return nil
	},
}

// unlockCmd verifies the master password and reports the vault state.
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the master password and open the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ensureUnlocked(); err != nil {
			return err
		}
		records, err := st.List()
		if err != nil {
			return err
		}
		fmt.Printf("Vault unlocked: %d records\n", len(records))
		return nil
	},
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Master password operations",
}

// masterChangeCmd rotates the master password. The vault file content is not
// re-keyed; only the stored digest changes.
var masterChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := promptMasterVerified(); err != nil {
			return err
		}

		secret, err := promptNewMaster()
		if err != nil {
			return err
		}
		if err := gate.SetSecret(secret); err != nil {
			return err
		}
		fmt.Println("Master password changed")
		return nil
	},
}

// masterStatusCmd reports the lockout state without consuming an attempt.
var masterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show attempt and lockout state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := gate.HasSecret()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No master password set")
			return nil
		}
		if gate.InCooldown() {
			fmt.Printf("Locked out: retry in %s\n", gate.CooldownRemaining().Round(time.Second))
			return nil
		}
		fmt.Printf("Attempts remaining: %d\n", gate.RemainingAttempts())
		return nil
	},
}

func promptNewMaster() (string, error) {
	first, err := promptPassword("Enter new master password")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("master password must not be empty")
	}
	second, err := promptPassword("Confirm new master password")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}
