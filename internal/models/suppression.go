package models

import "time"

// SuppressedIdentity marks an identity as excluded from reminder scans.
type SuppressedIdentity struct {
	IdentityID string    `json:"identity_id" gorm:"column:identity_id;primaryKey"`
	AddedAt    time.Time `json:"added_at" gorm:"column:added_at;not null"`
}

// TableName specifies the table name for SuppressedIdentity
func (SuppressedIdentity) TableName() string {
	return "suppressed_identities"
}
