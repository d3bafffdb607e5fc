// Package poap is a small client for the public POAP API.
package poap

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

// ErrNotFound is returned when the API has no such token.
var ErrNotFound = errors.New("poap: not found")

// EventInfo is the drop a token belongs to.
type EventInfo struct {
	ID          int    `json:"id"`
	FancyID     string `json:"fancy_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	City        string `json:"city"`
	Country     string `json:"country"`
	EventURL    string `json:"event_url"`
	ImageURL    string `json:"image_url"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// Token is a minted POAP.
type Token struct {
	TokenID string    `json:"tokenId"`
	Owner   string    `json:"owner"`
	Created string    `json:"created"`
	Supply  int       `json:"supply"`
	Event   EventInfo `json:"event"`
}

// Account is an owner address and its ENS name, if any.
type Account struct {
	Address string `json:"address"`
	ENS     string `json:"ens"`
}

// DisplayName returns the ENS name, or a shortened address.
func (a Account) DisplayName() string {
	if a.ENS != "" {
		return a.ENS
	}
	if len(a.Address) > 12 {
		return a.Address[:6] + "…" + a.Address[len(a.Address)-4:]
	}
	return a.Address
}

// Client calls the POAP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL    string // e.g. https://api.poap.tech
	APIKey     string // optional
	HTTPClient *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("poap: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("poap: base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    hc,
	}, nil
}

// Token fetches a token by ID.
func (c *Client) Token(ctx context.Context, tokenID string) (Token, error) {
	var tok Token
	if err := c.get(ctx, "/token/"+url.PathEscape(tokenID), &tok); err != nil {
		return Token{}, fmt.Errorf("poap: token %s: %w", tokenID, err)
	}
	if tok.TokenID == "" {
		tok.TokenID = tokenID
	}
	return tok, nil
}

// Account resolves the ENS name of an address. An address without a name
// is returned with an empty ENS.
func (c *Client) Account(ctx context.Context, address string) (Account, error) {
	var resp struct {
		Valid bool   `json:"valid"`
		ENS   string `json:"ens"`
	}
	err := c.get(ctx, "/actions/ens_lookup/"+url.PathEscape(address), &resp)
	if errors.Is(err, ErrNotFound) {
		return Account{Address: address}, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("poap: ens lookup %s: %w", address, err)
	}
	acct := Account{Address: address}
	if resp.Valid {
		acct.ENS = resp.ENS
	}
	return acct, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
