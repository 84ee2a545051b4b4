package models

import (
	"time"
)

// Referral is a completed attribution: at most one referrer per referred
// user, never mutated or deleted once written.
type Referral struct {
	ReferredID int64     `gorm:"primaryKey;autoIncrement:false" json:"referred_id" bson:"referred_id"`
	ReferrerID int64     `gorm:"not null;index" json:"referrer_id" bson:"referrer_id"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// PendingReferral is a claimed-but-unconfirmed attribution awaiting the
// referred user's channel membership. First claim wins; removed on
// promotion or after the retention window.
type PendingReferral struct {
	ReferredID int64     `gorm:"primaryKey;autoIncrement:false" json:"referred_id" bson:"referred_id"`
	ReferrerID int64     `gorm:"not null;index" json:"referrer_id" bson:"referrer_id"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}
