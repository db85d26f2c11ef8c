// Package broker is the transport shell around the external brokerage
// capability. The wire protocol is the broker's concern; this package only
// maps its responses and failure modes onto domain errors the scheduler and
// monitor can retry or surface.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/pkg/id"
)

// Account is one brokerage account reachable with a credential.
type Account struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

// Client is the external broker capability. Implementations are expected to
// be slow, rate-limited and occasionally flaky; callers own retry policy,
// rate limiting and per-call timeouts.
type Client interface {
	// Validate checks that the credential still works. A definitively
	// rejected credential returns domain.ErrValidationFailed; anything
	// retryable returns domain.ErrTransient.
	Validate(ctx context.Context, secret string) error
	ListAccounts(ctx context.Context, secret string) ([]Account, error)
	FetchPortfolio(ctx context.Context, secret, accountRef string) (*domain.PortfolioSnapshot, error)
}

// HTTPClient talks to a broker REST gateway.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Validate(ctx context.Context, secret string) error {
	_, err := c.ListAccounts(ctx, secret)
	return err
}

func (c *HTTPClient) ListAccounts(ctx context.Context, secret string) ([]Account, error) {
	var payload struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.do(ctx, secret, "/accounts", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Accounts, nil
}

func (c *HTTPClient) FetchPortfolio(ctx context.Context, secret, accountRef string) (*domain.PortfolioSnapshot, error) {
	var payload struct {
		Owner      string  `json:"owner"`
		TotalValue float64 `json:"total_value"`
		Positions  []struct {
			Ticker        string  `json:"ticker"`
			Quantity      float64 `json:"quantity"`
			Price         float64 `json:"price"`
			ExpectedYield float64 `json:"expected_yield"`
		} `json:"positions"`
	}
	body := map[string]string{"account_ref": accountRef}
	if err := c.do(ctx, secret, "/portfolio", body, &payload); err != nil {
		return nil, err
	}

	snapshot := &domain.PortfolioSnapshot{
		SnapshotID: id.New(),
		AccountRef: accountRef,
		Timestamp:  time.Now().UTC(),
		TotalValue: payload.TotalValue,
	}
	for _, p := range payload.Positions {
		snapshot.Positions = append(snapshot.Positions, domain.Position{
			Ticker:        p.Ticker,
			Quantity:      p.Quantity,
			Price:         p.Price,
			ExpectedYield: p.ExpectedYield,
		})
	}
	return snapshot, nil
}

func (c *HTTPClient) do(ctx context.Context, secret, path string, body, out interface{}) error {
	var reader *bytes.Reader
	method := http.MethodGet
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
		method = http.MethodPost
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable.
		return fmt.Errorf("broker %s: %v: %w", path, err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("broker %s: status %d: %w", path, resp.StatusCode, domain.ErrValidationFailed)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("broker %s: status %d: %w", path, resp.StatusCode, domain.ErrTransient)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("broker %s: unexpected status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode broker response: %w", err)
		}
	}
	return nil
}
