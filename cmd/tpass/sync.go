package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tpass/tpass/pkg/remote"

	"github.com/spf13/cobra"
)

var (
	loginName  string
	loginEmail string
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncLoginCmd)
	syncCmd.AddCommand(syncLogoutCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncStatusCmd)

	syncLoginCmd.Flags().StringVar(&loginName, "name", "", "Account display name")
	syncLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the vault with the cloud disk",
}

// syncLoginCmd stores the OAuth token for the disk service.
var syncLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save a cloud disk access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := promptPassword("Enter access token")
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("token must not be empty")
		}
		if err := tokens.Save(remote.Token{Value: value}, loginName, loginEmail); err != nil {
			return err
		}
		fmt.Println("Logged in")
		return nil
	},
}

// syncLogoutCmd forgets the stored session.
var syncLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored cloud disk session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tokens.Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

// syncStatusCmd shows who is logged in.
var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		tok, err := tokens.Token()
		if errors.Is(err, remote.ErrNoToken) {
			fmt.Println("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}
		name, email, err := tokens.User()
		if err != nil {
			return err
		}
		switch {
		case name != "" && email != "":
			fmt.Printf("Logged in as %s <%s>\n", name, email)
		case email != "":
			fmt.Printf("Logged in as %s\n", email)
		default:
			fmt.Println("Logged in")
		}
		if !tok.Valid() {
			fmt.Println("Warning: stored token has expired")
		}
		return nil
	},
}

// syncPushCmd uploads the local vault, replacing the remote copy.
var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload the local vault to the cloud disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, tok, secret, err := syncSetup()
		if err != nil {
			return err
		}
		if err := rec.Upload(context.Background(), tok, secret); err != nil {
			return friendlySyncError(err)
		}
		fmt.Println("Vault uploaded")
		return nil
	},
}

// syncPullCmd downloads the remote vault, replacing the local copy.
var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the remote vault, replacing the local one",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, tok, secret, err := syncSetup()
		if err != nil {
			return err
		}
		if err := rec.Download(context.Background(), tok, secret); err != nil {
			return friendlySyncError(err)
		}
		records, err := st.List()
		if err != nil {
			return err
		}
		fmt.Printf("Vault downloaded: %d records\n", len(records))
		return nil
	},
}

func syncSetup() (*remote.Reconciler, remote.Token, string, error) {
	tok, err := tokens.Token()
	if errors.Is(err, remote.ErrNoToken) {
		return nil, remote.Token{}, "", fmt.Errorf("not logged in; run 'tpass sync login' first")
	}
	if err != nil {
		return nil, remote.Token{}, "", err
	}
	if !tok.Valid() {
		return nil, remote.Token{}, "", fmt.Errorf("stored token has expired; run 'tpass sync login' again")
	}

	secret, err := promptMasterVerified()
	if err != nil {
		return nil, remote.Token{}, "", err
	}

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std())
	return remote.NewReconciler(client, st, gate, cfg.Remote.Path), tok, secret, nil
}

func friendlySyncError(err error) error {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		return fmt.Errorf("no vault found on the remote disk; push one first")
	case errors.Is(err, remote.ErrUnauthorized):
		return fmt.Errorf("the remote disk rejected the token; run 'tpass sync login' again")
	case errors.Is(err, remote.ErrLocalValidation):
		return fmt.Errorf("remote content is not a valid vault; local vault left untouched")
	default:
		return err
	}
}
