package database

import (
	"errors"

	"gorm.io/gorm"

	"github.com/charlesng35/marketlive/internal/models"
)

// AutoMigrate creates or updates the schema used for persisted client state.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.AutoMigrate(&models.CacheEntry{})
}
