package ratings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRatedProductNames(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE product_ratings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		rating INTEGER NOT NULL
	)`).Error)

	for _, row := range [][2]string{
		{"disc-a", "Widget"},
		{"disc-a", "Widget"}, // re-rated, must still count once
		{"disc-a", "Gadget"},
		{"disc-b", "Sprocket"},
	} {
		require.NoError(t, db.Exec(
			`INSERT INTO product_ratings (identity_id, product_name, rating) VALUES (?, ?, 5)`,
			row[0], row[1]).Error)
	}

	store := NewStore(db)
	ctx := context.Background()

	rated, err := store.RatedProductNames(ctx, "disc-a")
	require.NoError(t, err)
	require.Len(t, rated, 2)
	require.Contains(t, rated, "Widget")
	require.Contains(t, rated, "Gadget")

	rated, err = store.RatedProductNames(ctx, "disc-c")
	require.NoError(t, err)
	require.Empty(t, rated)
}
