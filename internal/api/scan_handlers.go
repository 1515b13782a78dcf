package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lafoncedalle/reviewlink/internal/links"
	"github.com/lafoncedalle/reviewlink/internal/scanner"
)

// HandleRunScan triggers an eligibility pass and returns the worklist
func HandleRunScan(sc *scanner.Scanner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := sc.Run(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "scan_failed", "Eligibility scan could not start")
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

// MarkNotifiedRequest records a delivered reminder
type MarkNotifiedRequest struct {
	IdentityID string `json:"identity_id"`
	OrderID    string `json:"order_id"`
}

// HandleMarkNotified records that the notifier delivered a reminder.
// Idempotent: repeating a pair succeeds and leaves a single ledger row.
func HandleMarkNotified(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkNotifiedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if req.IdentityID == "" || req.OrderID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "identity_id and order_id are required")
			return
		}

		if err := store.MarkNotified(req.IdentityID, req.OrderID, time.Now()); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to record reminder")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// SuppressRequest adds an identity to the suppression list
type SuppressRequest struct {
	IdentityID string `json:"identity_id"`
}

// HandleAddSuppression excludes an identity from future scans
func HandleAddSuppression(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SuppressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if req.IdentityID == "" {
			writeError(w, http.StatusBadRequest, "invalid_identity", "identity_id is required")
			return
		}

		if err := store.Suppress(req.IdentityID, time.Now()); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to add suppression")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// HandleCheckSuppression reports whether an identity is suppressed
func HandleCheckSuppression(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID := chi.URLParam(r, "identity")

		suppressed, err := store.IsSuppressed(identityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to check suppression")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"identity_id": identityID,
			"suppressed":  suppressed,
		})
	}
}
