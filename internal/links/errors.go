package links

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by lifecycle operations. Handlers map these to
// user-facing statuses; the core never retries.
var (
	ErrConflict       = errors.New("identity or email already actively linked")
	ErrNotFound       = errors.New("no active link for identity")
	ErrInvalidCode    = errors.New("verification code invalid")
	ErrExpired        = errors.New("verification code expired")
	ErrDeliveryFailed = errors.New("verification email delivery failed")
)

// ConflictError reports which email currently holds the active link.
// The address is masked before it leaves the core.
type ConflictError struct {
	ExistingEmail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: already linked to %s", MaskEmail(e.ExistingEmail))
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// MaskEmail hides most of the local part of an address, keeping enough for
// the owner to recognize it.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	domain := email[at:]
	if len(local) <= 2 {
		return local[:1] + "***" + domain
	}
	return local[:2] + strings.Repeat("*", len(local)-2) + domain
}
