package links

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lafoncedalle/reviewlink/internal/models"
)

// Store is the persistence layer for links and pending codes. All mutations
// are atomic at single-row granularity; cross-row consistency is the
// Controller's job via its keyed locks.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new link store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that share the database.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// GetLink returns the record for an identity, active or tombstoned.
// Returns (nil, nil) when the identity has never been linked.
func (s *Store) GetLink(identityID string) (*models.UserLink, error) {
	var link models.UserLink
	err := s.db.Where("identity_id = ?", identityID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// GetActiveLink returns the active record for an identity, or (nil, nil).
func (s *Store) GetActiveLink(identityID string) (*models.UserLink, error) {
	var link models.UserLink
	err := s.db.Where("identity_id = ? AND active = ?", identityID, true).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// FindActiveByEmail returns the active record bound to an email, or (nil, nil).
func (s *Store) FindActiveByEmail(email string) (*models.UserLink, error) {
	var link models.UserLink
	err := s.db.Where("email = ? AND active = ?", email, true).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpsertLink inserts or updates the record for link.IdentityID. LinkedAt is
// coalesced: an existing row keeps its original value across reactivations.
func (s *Store) UpsertLink(link *models.UserLink) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "display_name", "verified", "active", "last_updated",
		}),
	}).Create(link).Error
}

// Deactivate tombstones the active record for an identity. Email, display
// name and linked_at are retained for audit and reactivation.
func (s *Store) Deactivate(identityID string, now time.Time) error {
	result := s.db.Model(&models.UserLink{}).
		Where("identity_id = ? AND active = ?", identityID, true).
		Updates(map[string]interface{}{"active": false, "last_updated": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns all active links, most recently linked first.
func (s *Store) ListActive() ([]models.UserLink, error) {
	var out []models.UserLink
	err := s.db.Where("active = ?", true).Order("linked_at DESC").Find(&out).Error
	return out, err
}

// ListScanTargets returns the links a reminder scan should consider: active
// records minus suppressed identities. Suppression is enforced here, in the
// selection itself, so the returned worklist is already final.
func (s *Store) ListScanTargets() ([]models.UserLink, error) {
	var out []models.UserLink
	err := s.db.Raw(`
		SELECT l.*
		FROM user_links l
		WHERE l.active = ?
		AND NOT EXISTS (
			SELECT 1 FROM suppressed_identities sup
			WHERE sup.identity_id = l.identity_id
		)
		ORDER BY l.linked_at
	`, true).Scan(&out).Error
	return out, err
}

// Stats summarizes link state for the dashboard.
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Verified int64 `json:"verified"`
	Pending  int64 `json:"pending"`
}

// GetStats counts links per state.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	if err := s.db.Model(&models.UserLink{}).Count(&st.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.UserLink{}).Where("active = ?", true).Count(&st.Active).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.UserLink{}).Where("active = ? AND verified = ?", true, true).Count(&st.Verified).Error; err != nil {
		return nil, err
	}
	st.Pending = st.Active - st.Verified
	return &st, nil
}

// SavePendingCode stores a code for an identity, replacing any previous one.
func (s *Store) SavePendingCode(code *models.PendingCode) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "code", "attempts", "expires_at", "created_at",
		}),
	}).Create(code).Error
}

// GetPendingCode returns the pending code for an identity, or (nil, nil).
func (s *Store) GetPendingCode(identityID string) (*models.PendingCode, error) {
	var code models.PendingCode
	err := s.db.Where("identity_id = ?", identityID).First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// DeletePendingCode removes the pending code for an identity, if any.
func (s *Store) DeletePendingCode(identityID string) error {
	return s.db.Where("identity_id = ?", identityID).Delete(&models.PendingCode{}).Error
}

// BumpCodeAttempts increments the failed-attempt counter and returns the new
// count.
func (s *Store) BumpCodeAttempts(identityID string) (int, error) {
	err := s.db.Model(&models.PendingCode{}).
		Where("identity_id = ?", identityID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return 0, err
	}
	code, err := s.GetPendingCode(identityID)
	if err != nil || code == nil {
		return 0, err
	}
	return code.Attempts, nil
}

// DeleteCodesExpiredBefore trims long-expired code rows. Hygiene only:
// correctness never depends on this running.
func (s *Store) DeleteCodesExpiredBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("expires_at < ?", cutoff).Delete(&models.PendingCode{})
	return result.RowsAffected, result.Error
}
