// Package persist implements write-behind persistence for the ledger. The
// in-memory ledger state is the immediate source of truth; the store is
// brought up to date asynchronously with at-least-once semantics. A failed
// write is logged and retried, never rolled back into memory. The crash
// window between mutation and persisted write is an accepted durability
// gap, bounded by the periodic full flush.
package persist

import (
	"log"

	"refgate-bot/internal/models"
	"refgate-bot/internal/store"
)

// Queue receives ledger mutations for persistence. Implementations must
// never block the caller on slow I/O failures; errors are logged, not
// returned.
type Queue interface {
	SaveUser(u *models.User)
	SaveReferral(r models.Referral)
	SavePending(p models.PendingReferral)
	DeletePending(referredID int64)
}

// Direct applies mutations synchronously against the store. Used in tests
// and when no redis is configured for the asynq queue.
type Direct struct {
	store store.Store
}

func NewDirect(st store.Store) *Direct {
	return &Direct{store: st}
}

func (d *Direct) SaveUser(u *models.User) {
	if err := d.store.SaveUser(u); err != nil {
		log.Printf("Failed to persist user %d: %v", u.ID, err)
	}
}

func (d *Direct) SaveReferral(r models.Referral) {
	if err := d.store.SaveReferral(r); err != nil {
		log.Printf("Failed to persist referral %d->%d: %v", r.ReferrerID, r.ReferredID, err)
	}
}

func (d *Direct) SavePending(p models.PendingReferral) {
	if err := d.store.SavePending(p); err != nil {
		log.Printf("Failed to persist pending referral for %d: %v", p.ReferredID, err)
	}
}

func (d *Direct) DeletePending(referredID int64) {
	if err := d.store.DeletePending(referredID); err != nil {
		log.Printf("Failed to delete pending referral for %d: %v", referredID, err)
	}
}
