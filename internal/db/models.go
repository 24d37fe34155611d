package db

import (
	"time"
)

// Entry is the row behind a cache entry. ExpiresAt holds epoch milliseconds.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:cache_key;index;size:255;not null" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	ExpiresAt int64     `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Entry) TableName() string { return "cache_entries" }
