package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/lafoncedalle/reviewlink/internal/links"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

// errorResponse is the JSON error envelope for lifecycle operations
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeLifecycleError maps core error kinds to HTTP statuses
func writeLifecycleError(w http.ResponseWriter, err error) {
	var conflict *links.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          "conflict",
			"message":        "An active link already exists",
			"existing_email": links.MaskEmail(conflict.ExistingEmail),
		})
	case errors.Is(err, links.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "An active link already exists")
	case errors.Is(err, links.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "No active link for this identity")
	case errors.Is(err, links.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code", "Verification code is incorrect")
	case errors.Is(err, links.ErrExpired):
		writeError(w, http.StatusGone, "code_expired", "Verification code expired. Request a new one.")
	case errors.Is(err, links.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "email_failed", "Could not send the verification email. Try again later.")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "Operation failed")
	}
}

// StartVerificationRequest is the start-verification payload
type StartVerificationRequest struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	Force      bool   `json:"force"`
}

// HandleStartVerification begins linking an identity to an email
func HandleStartVerification(ctrl *links.Controller, emailLimiter *RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartVerificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if req.IdentityID == "" {
			writeError(w, http.StatusBadRequest, "invalid_identity", "identity_id is required")
			return
		}

		email := links.NormalizeEmail(req.Email)
		if !emailPattern.MatchString(email) {
			writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
			return
		}

		// 3 code requests per email per 10 minutes
		if !emailLimiter.Allow(email) {
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many verification requests for this email. Try again later.")
			return
		}

		result, err := ctrl.StartVerification(r.Context(), req.IdentityID, email, req.Force)
		if err != nil {
			writeLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// ConfirmVerificationRequest is the confirm-verification payload
type ConfirmVerificationRequest struct {
	IdentityID  string `json:"identity_id"`
	Code        string `json:"code"`
	DisplayName string `json:"display_name,omitempty"`
}

// ConfirmVerificationResponse augments the core result with a reward error,
// if granting failed after the verification had already committed.
type ConfirmVerificationResponse struct {
	*links.ConfirmResult
	RewardError string `json:"reward_error,omitempty"`
}

// HandleConfirmVerification completes a pending verification
func HandleConfirmVerification(ctrl *links.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmVerificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if req.IdentityID == "" {
			writeError(w, http.StatusBadRequest, "invalid_identity", "identity_id is required")
			return
		}
		if !codePattern.MatchString(req.Code) {
			writeError(w, http.StatusBadRequest, "invalid_code", "A 6-digit code is required")
			return
		}

		result, err := ctrl.ConfirmVerification(r.Context(), req.IdentityID, req.Code, req.DisplayName)
		if err != nil {
			if result != nil {
				// Verification committed; only the reward hook failed.
				writeJSON(w, http.StatusOK, ConfirmVerificationResponse{
					ConfirmResult: result,
					RewardError:   err.Error(),
				})
				return
			}
			writeLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ConfirmVerificationResponse{ConfirmResult: result})
	}
}

// ForceLinkRequest is the administrative force-link payload
type ForceLinkRequest struct {
	IdentityID  string `json:"identity_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Force       bool   `json:"force"`
}

// HandleForceLink binds an identity without code verification
func HandleForceLink(ctrl *links.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ForceLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}

		if req.IdentityID == "" {
			writeError(w, http.StatusBadRequest, "invalid_identity", "identity_id is required")
			return
		}
		if !emailPattern.MatchString(links.NormalizeEmail(req.Email)) {
			writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
			return
		}

		link, err := ctrl.ForceLink(r.Context(), req.IdentityID, req.Email, req.DisplayName, req.Force)
		if err != nil {
			writeLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, link)
	}
}

// HandleUnlink tombstones an identity's active link
func HandleUnlink(ctrl *links.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID := chi.URLParam(r, "identity")

		if err := ctrl.Unlink(r.Context(), identityID); err != nil {
			writeLifecycleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// HandleLookupEmail returns the active link for an identity
func HandleLookupEmail(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identityID := chi.URLParam(r, "identity")

		link, err := store.GetActiveLink(identityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to look up link")
			return
		}
		if link == nil {
			writeError(w, http.StatusNotFound, "not_found", "No active link for this identity")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"identity_id":  link.IdentityID,
			"email":        link.Email,
			"display_name": link.Name(),
			"verified":     link.Verified,
		})
	}
}

// HandleListActiveLinks returns all active links
func HandleListActiveLinks(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListActive()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to list links")
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

// HandleLinkStats returns link counts for the dashboard
func HandleLinkStats(store *links.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.GetStats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", "Failed to compute stats")
			return
		}

		writeJSON(w, http.StatusOK, stats)
	}
}
