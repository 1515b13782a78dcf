package orders

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders.json", r.URL.Path)
		assert.Equal(t, "a@x.com", r.URL.Query().Get("email"))
		assert.Equal(t, "any", r.URL.Query().Get("status"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "secret-token", r.Header.Get("X-Shopify-Access-Token"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orders":[{
			"id": 9001,
			"created_at": "2025-06-05T10:00:00Z",
			"financial_status": "paid",
			"fulfillment_status": "fulfilled",
			"total_price": "42.00",
			"line_items": [
				{"title": "Widget", "quantity": 2},
				{"title": "Gadget", "quantity": 1},
				{"title": "Widget", "quantity": 1}
			]
		}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-token", 5*time.Second)
	found, err := client.FindOrders(context.Background(), "a@x.com", "any", 1, "created_at desc")
	require.NoError(t, err)
	require.Len(t, found, 1)

	order := found[0]
	assert.Equal(t, "9001", order.OrderID())
	assert.Equal(t, FinancialStatusPaid, order.FinancialStatus)
	assert.Equal(t, FulfillmentStatusFulfilled, order.FulfillmentStatus)
	assert.Equal(t, []string{"Widget", "Gadget"}, order.DistinctTitles())
}

func TestFindOrdersUnavailable(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		client := NewClient(server.URL, "", time.Second)
		_, err := client.FindOrders(context.Background(), "a@x.com", "any", 1, "")
		assert.ErrorIs(t, err, ErrUnavailable, "status %d", status)

		server.Close()
	}
}

func TestFindOrdersRejectsNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.FindOrders(context.Background(), "a@x.com", "any", 1, "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestDistinctTitlesSkipsEmpty(t *testing.T) {
	order := Order{LineItems: []LineItem{
		{Title: "Widget"},
		{Title: ""},
		{Title: "Widget"},
	}}
	assert.Equal(t, []string{"Widget"}, order.DistinctTitles())
}
