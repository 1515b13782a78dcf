package rewards

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantWelcomeReward(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rewards/welcome", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "disc-1", payload["identity_id"])
		assert.Equal(t, "a@x.com", payload["email"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"granted": true, "code": "WELCOME10"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 5*time.Second)
	grant, err := client.GrantWelcomeReward(context.Background(), "disc-1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, grant.Granted)
	assert.Equal(t, "WELCOME10", grant.Code)
}

func TestGrantWelcomeRewardInformationalReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"granted": false, "reason": "already_claimed"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	grant, err := client.GrantWelcomeReward(context.Background(), "disc-1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, grant.Granted)
	assert.Equal(t, ReasonAlreadyClaimed, grant.Reason)
}

func TestGrantWelcomeRewardServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.GrantWelcomeReward(context.Background(), "disc-1", "a@x.com")
	require.Error(t, err)
}
