package links

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/lafoncedalle/reviewlink/internal/models"
)

const (
	// CodeTTL is how long a verification code stays valid.
	CodeTTL = 10 * time.Minute

	// MaxCodeAttempts invalidates a code after this many wrong guesses.
	MaxCodeAttempts = 5
)

// CodeIssuer generates one-time verification codes. One pending code per
// identity at a time; issuing a new one supersedes the old.
type CodeIssuer struct {
	now func() time.Time
}

// NewCodeIssuer creates a code issuer using the given clock.
func NewCodeIssuer(now func() time.Time) *CodeIssuer {
	if now == nil {
		now = time.Now
	}
	return &CodeIssuer{now: now}
}

// Issue generates a 6-digit code and its absolute expiry.
func (i *CodeIssuer) Issue() (string, time.Time, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate verification code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64()+100000)
	return code, i.now().Add(CodeTTL), nil
}

// Validate checks a submitted code against the stored row. Match is checked
// before expiry, so a correct-but-stale code reports ErrExpired.
func Validate(pending *models.PendingCode, submitted string, now time.Time) error {
	if pending.Code != submitted {
		return ErrInvalidCode
	}
	if pending.Expired(now) {
		return ErrExpired
	}
	return nil
}
