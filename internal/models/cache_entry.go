package models

import (
	"time"
)

// CacheEntry is a persisted key/value row backing the client state store.
// A nil ExpiresAt means the entry never expires.
type CacheEntry struct {
	Key       string     `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the entry has passed its expiry at the supplied instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}
