package models

import (
	"fmt"
	"time"
)

// UserLink associates an external chat-platform identity with a customer
// email address. Rows are never deleted: unlinking flips Active to false and
// the tombstone keeps LinkedAt for a later reactivation.
type UserLink struct {
	IdentityID  string    `json:"identity_id" gorm:"column:identity_id;primaryKey"`
	Email       string    `json:"email" gorm:"not null;index"`
	DisplayName *string   `json:"display_name,omitempty" gorm:"column:display_name"`
	Verified    bool      `json:"verified" gorm:"default:false"`
	Active      bool      `json:"active" gorm:"default:true;index"`
	LinkedAt    time.Time `json:"linked_at" gorm:"column:linked_at;not null"`
	LastUpdated time.Time `json:"last_updated" gorm:"column:last_updated;not null"`
}

// TableName specifies the table name for UserLink
func (UserLink) TableName() string {
	return "user_links"
}

// Name returns the display name, falling back to a placeholder derived from
// the identity id when none was stored.
func (l *UserLink) Name() string {
	if l.DisplayName != nil && *l.DisplayName != "" {
		return *l.DisplayName
	}
	return PlaceholderName(l.IdentityID)
}

// PlaceholderName derives a readable label from an identity id.
func PlaceholderName(identityID string) string {
	suffix := identityID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("User#%s", suffix)
}
