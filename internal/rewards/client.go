package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Grant reasons reported by the reward service. The two named reasons are
// informational outcomes, not failures.
const (
	ReasonAlreadyClaimed   = "already_claimed"
	ReasonNoCodesAvailable = "no_codes_available"
	ReasonOther            = "other"
)

// Grant is the outcome of a welcome-reward attempt.
type Grant struct {
	Granted bool   `json:"granted"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Rewarder grants a one-time welcome reward to a newly verified identity.
type Rewarder interface {
	GrantWelcomeReward(ctx context.Context, identityID, email string) (*Grant, error)
}

// Client calls the reward service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a reward service client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// GrantWelcomeReward asks the reward service for a welcome promo code.
func (c *Client) GrantWelcomeReward(ctx context.Context, identityID, email string) (*Grant, error) {
	payload := map[string]string{
		"identity_id": identityID,
		"email":       email,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := c.baseURL + "/api/rewards/welcome"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reward request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reward service returned %d: %s", resp.StatusCode, string(body))
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode reward response: %w", err)
	}

	return &grant, nil
}
