/**
 * @description
 * This package fetches submitted screenshots from the platform's blob store.
 * It is the SSRF boundary of the pipeline: a URL is validated against the
 * trusted storage host and the submitting account's own path prefix before any
 * network request is attempted. Rejected URLs are a security decision, not a
 * fraud signal.
 *
 * @dependencies
 * - net/http, net/url: Standard Go libraries.
 */
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUntrustedURL marks a screenshot reference that failed origin or ownership
// validation.
var ErrUntrustedURL = errors.New("screenshot url failed trust validation")

// maxScreenshotBytes bounds the fetched body. Receipt screenshots are small;
// anything larger is not worth pulling into memory.
const maxScreenshotBytes = 10 << 20

// Client fetches screenshot bytes from the trusted blob store.
type Client struct {
	TrustedHost string
	HTTPClient  *http.Client
}

// NewClient creates a blob store client bound to one trusted host.
func NewClient(trustedHost string) *Client {
	return &Client{
		TrustedHost: strings.ToLower(strings.TrimSpace(trustedHost)),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ValidateURL checks that the screenshot reference resolves through the
// trusted blob-store origin over an encrypted transport, under a path
// namespaced by the submitting account's id.
func (c *Client) ValidateURL(rawURL string, accountID uuid.UUID) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: unparsable url", ErrUntrustedURL)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not https", ErrUntrustedURL, parsed.Scheme)
	}
	if strings.ToLower(parsed.Hostname()) != c.TrustedHost {
		return fmt.Errorf("%w: host %q is not the trusted storage origin", ErrUntrustedURL, parsed.Hostname())
	}
	ownerPrefix := "/screenshots/" + accountID.String() + "/"
	if !strings.HasPrefix(parsed.Path, ownerPrefix) {
		return fmt.Errorf("%w: path is outside the submitting account's namespace", ErrUntrustedURL)
	}
	return nil
}

// Fetch validates the URL and downloads the screenshot bytes. The signed URL
// carries its own authorization; no credentials are attached.
func (c *Client) Fetch(ctx context.Context, rawURL string, accountID uuid.UUID) ([]byte, error) {
	if err := c.ValidateURL(rawURL, accountID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build screenshot request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch screenshot: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScreenshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read screenshot body: %w", err)
	}
	if len(data) > maxScreenshotBytes {
		return nil, fmt.Errorf("screenshot exceeds %d byte limit", maxScreenshotBytes)
	}
	return data, nil
}
