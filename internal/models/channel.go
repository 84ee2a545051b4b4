package models

import (
	"time"
)

// Channel is a Telegram destination whose membership gates bot access.
// Channels are populated once at startup from configuration and are
// read-only at runtime.
type Channel struct {
	ChatID  string    `gorm:"primaryKey;size:64" json:"chat_id" bson:"chat_id"`
	Name    string    `gorm:"size:255" json:"name" bson:"name"`
	AddedAt time.Time `json:"added_at" bson:"added_at"`
}
