package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/tpass/tpass/pkg/access"
	"github.com/tpass/tpass/pkg/codec"
	"github.com/tpass/tpass/pkg/safefile"
	"github.com/tpass/tpass/pkg/store"
)

// Errors surfaced by reconciliation.
var (
	// ErrBadSecret indicates the master secret did not verify; nothing was
	// transferred.
	ErrBadSecret = errors.New("remote: master secret rejected")

	// ErrLocalValidation indicates downloaded content that does not parse to
	// at least one record. The local vault is left byte-identical.
	ErrLocalValidation = errors.New("remote: downloaded vault failed validation")
)

// Reconciler moves the vault file between disk and the remote service. There
// is no merge: Upload replaces the remote copy, Download replaces the local
// one. Neither direction retries; callers decide what a failure means.
type Reconciler struct {
	client     *Client
	store      *store.Store
	gate       *access.Gate
	remotePath string
	replacer   *safefile.Replacer
}

// NewReconciler binds a reconciler to the local store and the remote file at
// remotePath.
func NewReconciler(client *Client, st *store.Store, gate *access.Gate, remotePath string) *Reconciler {
	return &Reconciler{
		client:     client,
		store:      st,
		gate:       gate,
		remotePath: remotePath,
		replacer:   safefile.New(),
	}
}

// Upload pushes the local vault file to the remote disk, overwriting the
// remote copy. The local file is created (empty) if absent and must open
// under secret before any bytes leave the machine.
func (r *Reconciler) Upload(ctx context.Context, tok Token, secret string) error {
	if err := r.verifySecret(secret); err != nil {
		return err
	}
	if err := r.store.Open(secret); err != nil {
		return fmt.Errorf("remote: local vault did not validate for upload: %w", err)
	}

	// Existence probe. The result does not gate the upload; it only surfaces
	// remote-side trouble before the href round trip.
	if _, err := r.client.Stat(ctx, tok.Value, r.remotePath); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("remote: upload pre-check failed: %v", err)
	}

	location, err := r.client.UploadHref(ctx, tok.Value, r.remotePath)
	if err != nil {
		return err
	}

	f, err := os.Open(r.store.Path())
	if err != nil {
		return fmt.Errorf("remote: failed to read local vault: %w", err)
	}
	defer f.Close()
	return r.client.Put(ctx, tok.Value, location, f)
}

// Download pulls the remote vault file and replaces the local one.
//
// The fetched content lands in a temp file first and must parse to at least
// one record before it touches the vault; otherwise ErrLocalValidation is
// returned and the local file stays byte-identical. The replace itself runs
// under the backup-then-restore protocol, and a vault that fails to reload
// afterwards is rolled back to the previous content.
func (r *Reconciler) Download(ctx context.Context, tok Token, secret string) error {
	if err := r.verifySecret(secret); err != nil {
		return err
	}

	if _, err := r.client.Stat(ctx, tok.Value, r.remotePath); err != nil {
		return err
	}
	location, err := r.client.DownloadHref(ctx, tok.Value, r.remotePath)
	if err != nil {
		return err
	}
	body, err := r.client.Fetch(ctx, tok.Value, location)
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := r.spool(body)
	if err != nil {
		return err
	}

	parsed, err := codec.Parse(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocalValidation, err)
	}
	if len(parsed) == 0 {
		return fmt.Errorf("%w: no records in remote content", ErrLocalValidation)
	}

	prev, err := os.ReadFile(r.store.Path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remote: failed to read current vault: %w", err)
	}
	hadLocal := err == nil

	if err := r.replacer.Replace(r.store.Path(), data); err != nil {
		return err
	}
	if err := r.store.Open(secret); err != nil {
		if hadLocal {
			if rerr := r.replacer.Replace(r.store.Path(), prev); rerr != nil {
				return fmt.Errorf("remote: reload failed (%v) and restore failed: %w", err, rerr)
			}
			if rerr := r.store.Open(secret); rerr != nil {
				log.Printf("remote: failed to reopen restored vault: %v", rerr)
			}
		}
		return fmt.Errorf("remote: failed to load downloaded vault: %w", err)
	}
	return nil
}

// spool drains the download into a temp file next to the vault and returns
// its content. Keeping the stream off the vault path means a broken transfer
// never touches the real file.
func (r *Reconciler) spool(body io.Reader) ([]byte, error) {
	tmp, err := os.CreateTemp(filepath.Dir(r.store.Path()), ".tpass-download-*")
	if err != nil {
		return nil, fmt.Errorf("remote: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, body); err != nil {
		return nil, fmt.Errorf("remote: download interrupted: %w", err)
	}
	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("remote: failed to read temp file: %w", err)
	}
	return data, nil
}

func (r *Reconciler) verifySecret(secret string) error {
	err := r.gate.Verify(secret)
	var invalid *access.InvalidSecretError
	if errors.As(err, &invalid) || errors.Is(err, access.ErrNoSecret) {
		return fmt.Errorf("%w: %v", ErrBadSecret, err)
	}
	return err
}
