package models

import "time"

// ReviewReminder records that an identity was notified about an order.
// The composite primary key is the de-duplication guard: inserting the same
// (identity, order) pair twice fails at the storage layer.
type ReviewReminder struct {
	IdentityID string    `json:"identity_id" gorm:"column:identity_id;primaryKey"`
	OrderID    string    `json:"order_id" gorm:"column:order_id;primaryKey"`
	NotifiedAt time.Time `json:"notified_at" gorm:"column:notified_at;not null"`
}

// TableName specifies the table name for ReviewReminder
func (ReviewReminder) TableName() string {
	return "review_reminders"
}
