package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks transient order-source failures. Callers treat it as
// "no data for this identity, continue".
var ErrUnavailable = errors.New("order source unavailable")

// Order statuses the eligibility predicate cares about.
const (
	FinancialStatusPaid        = "paid"
	FulfillmentStatusFulfilled = "fulfilled"
)

// LineItem is one purchased product on an order.
type LineItem struct {
	Title       string `json:"title"`
	Quantity    int    `json:"quantity"`
	VariantID   int64  `json:"variant_id"`
	ProductType string `json:"product_type,omitempty"`
}

// Fulfillment carries shipment tracking details.
type Fulfillment struct {
	TrackingURL    string `json:"tracking_url,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"tracking_company,omitempty"`
}

// Order is the read-only view of a shop order.
type Order struct {
	ID                int64         `json:"id"`
	CreatedAt         time.Time     `json:"created_at"`
	FinancialStatus   string        `json:"financial_status"`
	FulfillmentStatus string        `json:"fulfillment_status"`
	TotalPrice        string        `json:"total_price"`
	LineItems         []LineItem    `json:"line_items"`
	Fulfillments      []Fulfillment `json:"fulfillments"`
}

// OrderID returns the order id as the opaque string the rest of the system
// keys on.
func (o *Order) OrderID() string {
	return strconv.FormatInt(o.ID, 10)
}

// DistinctTitles returns the unique line-item product titles, in order of
// first appearance.
func (o *Order) DistinctTitles() []string {
	seen := make(map[string]struct{}, len(o.LineItems))
	titles := make([]string, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		if item.Title == "" {
			continue
		}
		if _, ok := seen[item.Title]; ok {
			continue
		}
		seen[item.Title] = struct{}{}
		titles = append(titles, item.Title)
	}
	return titles
}

// Source supplies order history per customer email. May fail transiently per
// call; failures are isolated per identity by the scanner.
type Source interface {
	FindOrders(ctx context.Context, email, statusFilter string, limit int, sortOrder string) ([]Order, error)
}

// Client reads orders from a Shopify-style admin API.
type Client struct {
	baseURL     string
	accessToken string
	client      *http.Client
}

// NewClient creates an order-source client
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{Timeout: timeout},
	}
}

// FindOrders fetches orders for an email, newest first by default.
func (c *Client) FindOrders(ctx context.Context, email, statusFilter string, limit int, sortOrder string) ([]Order, error) {
	if limit <= 0 {
		limit = 1
	}
	if sortOrder == "" {
		sortOrder = "created_at desc"
	}

	query := url.Values{}
	query.Set("email", email)
	query.Set("status", statusFilter)
	query.Set("limit", strconv.Itoa(limit))
	query.Set("order", sortOrder)

	reqURL := fmt.Sprintf("%s/orders.json?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("order source returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Orders []Order `json:"orders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode orders response: %w", err)
	}

	return envelope.Orders, nil
}
