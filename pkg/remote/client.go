// Package remote synchronizes the vault file with a cloud disk service.
//
// The wire contract is a small REST surface: resource metadata lookups plus
// indirected download/upload hrefs, authenticated with an OAuth bearer token.
// The Client speaks that contract; the Reconciler layers the push/pull
// semantics (validate before upload, backup-and-replace on download) on top.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Errors surfaced by client calls. Network failures are wrapped and returned
// as-is; these cover the protocol-level outcomes callers branch on.
var (
	ErrNotFound       = errors.New("remote: no vault file on the remote disk")
	ErrUnauthorized   = errors.New("remote: token rejected")
	ErrRemoteRejected = errors.New("remote: request rejected")
)

// DefaultTimeout bounds each individual HTTP call.
const DefaultTimeout = 30 * time.Second

// Resource is the metadata the disk service reports for a stored file.
type Resource struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// href is the indirection document returned by download/upload endpoints.
type href struct {
	Href string `json:"href"`
}

// Client issues disk-API calls against a single base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the disk API rooted at baseURL. A zero
// timeout falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Stat fetches the metadata of the resource at path.
func (c *Client) Stat(ctx context.Context, token, path string) (*Resource, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.resourceURL("", path), token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: stat failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}
	var res Resource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("remote: invalid stat response: %w", err)
	}
	return &res, nil
}

// DownloadHref resolves the direct download location for path.
func (c *Client) DownloadHref(ctx context.Context, token, path string) (string, error) {
	return c.resolveHref(ctx, token, c.resourceURL("/download", path))
}

// UploadHref resolves the direct upload location for path, overwriting any
// existing remote content.
func (c *Client) UploadHref(ctx context.Context, token, path string) (string, error) {
	u := c.resourceURL("/upload", path) + "&overwrite=true"
	return c.resolveHref(ctx, token, u)
}

// Fetch streams the content behind a resolved download href. The caller must
// close the returned reader.
func (c *Client) Fetch(ctx context.Context, token, location string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, location, token, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: download failed: %w", err)
	}
	if err := statusError(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Put streams body to a resolved upload href.
func (c *Client) Put(ctx context.Context, token, location string, body io.Reader) error {
	req, err := c.newRequest(ctx, http.MethodPut, location, token, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: upload failed: %w", err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func (c *Client) resolveHref(ctx context.Context, token, u string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, u, token, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: href lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return "", err
	}
	var h href
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return "", fmt.Errorf("remote: invalid href response: %w", err)
	}
	if h.Href == "" {
		return "", fmt.Errorf("%w: empty href", ErrRemoteRejected)
	}
	return h.Href, nil
}

func (c *Client) resourceURL(suffix, path string) string {
	return c.baseURL + "/resources" + suffix + "?path=" + url.QueryEscape(path)
}

func (c *Client) newRequest(ctx context.Context, method, u, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("remote: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+token)
	return req, nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w (status %d): %s", ErrRemoteRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
