// Package genobank talks to the external authority that knows which wallets
// are permittees and holds owner display details.
package genobank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const maxBody = 1 << 20

// Client implements ports.PermitteeChecker and ports.OwnerDirectory.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client; timeout bounds each lookup.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

var (
	_ ports.PermitteeChecker = (*Client)(nil)
	_ ports.OwnerDirectory   = (*Client)(nil)
)

type permitteeResponse struct {
	Status string `json:"status"`
}

// CheckPermittee reports true only when the authority answers "Success".
// Transport failures return ErrUpstreamUnavailable alongside false.
func (c *Client) CheckPermittee(ctx context.Context, address string) (bool, error) {
	var resp permitteeResponse
	if err := c.get(ctx, "/get_validate_permittee", url.Values{"owner_wallet": {address}}, &resp); err != nil {
		return false, err
	}
	return resp.Status == "Success", nil
}

type ownerResponse struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Data    *struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	} `json:"data"`
}

// OwnerDetails fetches display metadata for a wallet owner.
func (c *Client) OwnerDetails(ctx context.Context, address string) (*ports.OwnerDetails, error) {
	var resp ownerResponse
	if err := c.get(ctx, "/get_owner_details", url.Values{"owner_address": {address}}, &resp); err != nil {
		return nil, err
	}
	details := &ports.OwnerDetails{Name: resp.Name, Picture: resp.Picture}
	if resp.Data != nil {
		if details.Name == "" {
			details.Name = resp.Data.Name
		}
		if details.Picture == "" {
			details.Picture = resp.Data.Picture
		}
	}
	return details, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("genobank %s: %w: %w", path, core.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("genobank %s: %w: %w", path, core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return fmt.Errorf("genobank %s: status %d: %w", path, resp.StatusCode, core.ErrUpstreamUnavailable)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("genobank %s: decode: %w: %w", path, core.ErrUpstreamUnavailable, err)
	}
	return nil
}
