// Package store provides persistent access to the four logical collections
// (users, channels, referrals, pending referrals) behind a narrow CRUD
// interface. The ledger and coordinator depend only on this interface.
package store

import (
	"refgate-bot/internal/models"
)

// Store is the persistence contract. All Save operations are upserts keyed
// by the record's identity; duplicate inserts are no-ops at this layer.
// Uniqueness invariants beyond the key (one referrer per referred user)
// are enforced by the ledger, not the store.
type Store interface {
	LoadUsers() ([]models.User, error)
	SaveUser(u *models.User) error

	LoadChannels() ([]models.Channel, error)
	SaveChannel(ch models.Channel) error

	LoadReferrals() ([]models.Referral, error)
	SaveReferral(r models.Referral) error

	LoadPending() ([]models.PendingReferral, error)
	SavePending(p models.PendingReferral) error
	DeletePending(referredID int64) error

	// Name identifies the backing driver for logs and the health endpoint.
	Name() string
	Close() error
}
