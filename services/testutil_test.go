// services/testutil_test.go
package services

import (
	"testing"

	"spot-discovery-system/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens an in-memory SQLite database and migrates every table.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// An in-memory SQLite database exists per connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("access test db pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Spot{},
		&models.XPTransaction{},
		&models.XPHistory{},
		&models.Reward{},
		&models.Redemption{},
		&models.Sponsor{},
		&models.BadgeDefinition{},
		&models.UserBadge{},
		&models.SpotReport{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	return db
}

// createTestUser inserts a user with sane economy defaults.
func createTestUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	user := &models.User{
		ID:         id,
		Username:   "user-" + id[:4],
		Level:      1,
		TrustScore: 1.0,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}
