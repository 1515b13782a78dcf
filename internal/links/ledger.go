package links

import (
	"time"

	"gorm.io/gorm/clause"

	"github.com/lafoncedalle/reviewlink/internal/models"
)

// Suppress adds an identity to the suppression list. Idempotent: adding an
// already-suppressed identity succeeds without touching the original AddedAt.
func (s *Store) Suppress(identityID string, now time.Time) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SuppressedIdentity{IdentityID: identityID, AddedAt: now}).Error
}

// IsSuppressed reports whether an identity is excluded from reminder scans.
func (s *Store) IsSuppressed(identityID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.SuppressedIdentity{}).
		Where("identity_id = ?", identityID).Count(&count).Error
	return count > 0, err
}

// HasReminder reports whether a reminder was already recorded for the pair.
func (s *Store) HasReminder(identityID, orderID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.ReviewReminder{}).
		Where("identity_id = ? AND order_id = ?", identityID, orderID).Count(&count).Error
	return count > 0, err
}

// MarkNotified records that a reminder went out for (identity, order).
// The composite primary key rejects a second row; "already recorded" is
// success, so the conflict is swallowed and exactly one row remains.
func (s *Store) MarkNotified(identityID, orderID string, now time.Time) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ReviewReminder{
			IdentityID: identityID,
			OrderID:    orderID,
			NotifiedAt: now,
		}).Error
}
