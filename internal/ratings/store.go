package ratings

import (
	"context"

	"gorm.io/gorm"
)

// Lookup answers "which product names has this identity already rated".
type Lookup interface {
	RatedProductNames(ctx context.Context, identityID string) (map[string]struct{}, error)
}

// Store reads the review store's ratings table. Read-only: the rating data
// is owned by the review application, not by this service.
type Store struct {
	db *gorm.DB
}

// NewStore creates a rating lookup over the given database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// RatedProductNames returns the set of product names the identity has rated.
func (s *Store) RatedProductNames(ctx context.Context, identityID string) (map[string]struct{}, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT product_name FROM product_ratings WHERE identity_id = ?`, identityID).
		Scan(&names).Error
	if err != nil {
		return nil, err
	}

	rated := make(map[string]struct{}, len(names))
	for _, name := range names {
		rated[name] = struct{}{}
	}
	return rated, nil
}
