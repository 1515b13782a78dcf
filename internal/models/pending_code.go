package models

import "time"

// PendingCode is a one-time email verification code. One row per identity:
// issuing a new code replaces the previous one. Expiry is enforced by
// comparison at confirmation time, never by a correctness-relevant sweep.
type PendingCode struct {
	IdentityID string    `json:"identity_id" gorm:"column:identity_id;primaryKey"`
	Email      string    `json:"email" gorm:"not null"`
	Code       string    `json:"-" gorm:"not null"`
	Attempts   int       `json:"attempts" gorm:"default:0"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"column:expires_at;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null"`
}

// TableName specifies the table name for PendingCode
func (PendingCode) TableName() string {
	return "pending_codes"
}

// Expired reports whether the code is past its expiry at the given instant.
func (c *PendingCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
