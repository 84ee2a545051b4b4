// Package ledger owns the referred→referrer mapping, the pending-referral
// queue and every balance-affecting mutation. The in-memory maps are the
// immediate source of truth; persistence happens through the write-behind
// queue. All read-modify-write sequences for a given user are serialized
// by striped per-user locks; no network I/O happens inside a critical
// section.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"refgate-bot/internal/models"
	"refgate-bot/internal/persist"
	"refgate-bot/internal/store"
)

const (
	// ReferralBonus is credited to the referrer when a pending referral is
	// promoted.
	ReferralBonus = 1.0
	// WelcomeBonus is credited once to any user who completes the channel
	// gate.
	WelcomeBonus = 1.0
	// MinWithdrawal is the smallest accepted withdrawal amount, inclusive.
	MinWithdrawal = 10.0
	// PendingTTL is how long an unconfirmed claim is retained.
	PendingTTL = 7 * 24 * time.Hour
)

var (
	ErrBelowMinimum        = fmt.Errorf("withdrawal below the %.0f minimum", MinWithdrawal)
	ErrInsufficientBalance = errors.New("withdrawal exceeds current balance")
	ErrInvalidAmount       = errors.New("withdrawal amount must be positive")
)

// PromotionResult describes a completed promotion; ReferrerBalance is the
// post-credit balance, read for the notification text.
type PromotionResult struct {
	ReferrerID      int64
	ReferredID      int64
	ReferrerBalance float64
	ReferralCount   int
}

// Stats is the admin-facing aggregate view.
type Stats struct {
	Users        int
	Referrals    int
	Pending      int
	TotalBalance float64
}

type Ledger struct {
	// mu guards map structure only; field access goes through the striped
	// per-user locks.
	mu        sync.RWMutex
	locks     keyLock
	users     map[int64]*models.User
	referrals map[int64]models.Referral
	pending   map[int64]models.PendingReferral
	queue     persist.Queue
}

func New(queue persist.Queue) *Ledger {
	return &Ledger{
		users:     make(map[int64]*models.User),
		referrals: make(map[int64]models.Referral),
		pending:   make(map[int64]models.PendingReferral),
		queue:     queue,
	}
}

// LoadFrom seeds the in-memory state from the store. Called once at
// startup, before any concurrent access.
func (l *Ledger) LoadFrom(st store.Store) error {
	users, err := st.LoadUsers()
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	for i := range users {
		u := users[i]
		l.users[u.ID] = &u
	}

	referrals, err := st.LoadReferrals()
	if err != nil {
		return fmt.Errorf("failed to load referrals: %w", err)
	}
	for _, r := range referrals {
		l.referrals[r.ReferredID] = r
	}

	pending, err := st.LoadPending()
	if err != nil {
		return fmt.Errorf("failed to load pending referrals: %w", err)
	}
	for _, p := range pending {
		l.pending[p.ReferredID] = p
	}

	log.Printf("Loaded %d users, %d referrals, %d pending", len(l.users), len(l.referrals), len(l.pending))
	return nil
}

// GetOrCreateUser returns a snapshot of the user, creating the account on
// first interaction.
func (l *Ledger) GetOrCreateUser(userID int64) *models.User {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	u := l.getOrCreateLocked(userID)
	u.LastActive = time.Now()
	l.queue.SaveUser(u.Clone())
	return u.Clone()
}

// getOrCreateLocked requires the caller to hold the user's stripe lock.
func (l *Ledger) getOrCreateLocked(userID int64) *models.User {
	l.mu.RLock()
	u, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return u
	}

	now := time.Now()
	u = &models.User{
		ID:           userID,
		ReferralCode: models.ReferralCodeFor(userID),
		JoinedAt:     now,
		LastActive:   now,
	}
	l.mu.Lock()
	// Re-check: another stripe holder cannot create this id, but LoadFrom
	// ran lock-free and map writes must stay serialized anyway.
	if existing, ok := l.users[userID]; ok {
		u = existing
	} else {
		l.users[userID] = u
	}
	l.mu.Unlock()
	return u
}

// ClaimPending records a pending referral iff the referred user has no
// pending entry and is not already completed-referred. First claim wins;
// everything else, self-referral included, is a silent no-op.
func (l *Ledger) ClaimPending(referrerID, referredID int64) bool {
	if referrerID == referredID {
		log.Printf("Rejected self-referral from user %d", referredID)
		return false
	}

	l.locks.Lock(referredID)
	defer l.locks.Unlock(referredID)

	l.mu.Lock()
	if _, done := l.referrals[referredID]; done {
		l.mu.Unlock()
		return false
	}
	if _, claimed := l.pending[referredID]; claimed {
		l.mu.Unlock()
		return false
	}
	p := models.PendingReferral{
		ReferredID: referredID,
		ReferrerID: referrerID,
		CreatedAt:  time.Now(),
	}
	l.pending[referredID] = p
	l.mu.Unlock()

	l.queue.SavePending(p)
	log.Printf("Pending referral claimed: %d -> %d", referrerID, referredID)
	return true
}

// PromoteIfPending promotes a pending referral once the referred user's
// membership is confirmed: writes the completed referral, removes the
// pending entry and credits the referrer. Exactly one promotion occurs per
// referred user even under concurrent invocation.
func (l *Ledger) PromoteIfPending(referredID int64) (PromotionResult, bool) {
	l.mu.RLock()
	p, ok := l.pending[referredID]
	l.mu.RUnlock()
	if !ok {
		return PromotionResult{}, false
	}

	l.locks.LockPair(referredID, p.ReferrerID)
	defer l.locks.UnlockPair(referredID, p.ReferrerID)

	l.mu.Lock()
	p, ok = l.pending[referredID]
	if !ok {
		// Lost the race to a concurrent promotion or the expiry sweep.
		l.mu.Unlock()
		return PromotionResult{}, false
	}
	if _, done := l.referrals[referredID]; done {
		delete(l.pending, referredID)
		l.mu.Unlock()
		l.queue.DeletePending(referredID)
		return PromotionResult{}, false
	}
	r := models.Referral{
		ReferredID: referredID,
		ReferrerID: p.ReferrerID,
		CreatedAt:  time.Now(),
	}
	l.referrals[referredID] = r
	delete(l.pending, referredID)
	l.mu.Unlock()

	referrer := l.getOrCreateLocked(p.ReferrerID)
	referrer.Balance += ReferralBonus
	referrer.ReferralCount++
	referrer.TotalEarned += ReferralBonus
	referrer.AppendTransaction(ReferralBonus, models.TxCredit, models.TxReferralBonus,
		fmt.Sprintf("Referral bonus for user %d", referredID))

	result := PromotionResult{
		ReferrerID:      p.ReferrerID,
		ReferredID:      referredID,
		ReferrerBalance: referrer.Balance,
		ReferralCount:   referrer.ReferralCount,
	}

	l.queue.SaveReferral(r)
	l.queue.DeletePending(referredID)
	l.queue.SaveUser(referrer.Clone())

	log.Printf("Referral promoted: %d -> %d (referrer balance %.2f)", p.ReferrerID, referredID, referrer.Balance)
	return result, true
}

// GrantWelcomeBonus credits the one-time welcome bonus. Returns false if
// already granted.
func (l *Ledger) GrantWelcomeBonus(userID int64) bool {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	u := l.getOrCreateLocked(userID)
	if u.WelcomeBonusReceived {
		return false
	}
	u.WelcomeBonusReceived = true
	u.Balance += WelcomeBonus
	u.TotalEarned += WelcomeBonus
	u.AppendTransaction(WelcomeBonus, models.TxCredit, models.TxWelcomeBonus, "Welcome bonus")

	l.queue.SaveUser(u.Clone())
	log.Printf("Welcome bonus granted to user %d", userID)
	return true
}

// MarkJoinedChannels records that the user has passed the membership gate.
func (l *Ledger) MarkJoinedChannels(userID int64) {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	u := l.getOrCreateLocked(userID)
	if u.HasJoinedChannels {
		return
	}
	u.HasJoinedChannels = true
	l.queue.SaveUser(u.Clone())
}

// RecordWithdrawal debits the balance and appends a withdrawal transaction.
// A withdrawal is a logged request, not a settled transfer. Returns the
// request id for the admin notification.
func (l *Ledger) RecordWithdrawal(userID int64, amount float64, method string) (string, error) {
	// NaN compares false against every bound below, so non-finite input is
	// rejected explicitly before balance checks.
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", ErrInvalidAmount
	}
	if amount < MinWithdrawal {
		return "", ErrBelowMinimum
	}

	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	u := l.getOrCreateLocked(userID)
	if amount > u.Balance {
		return "", ErrInsufficientBalance
	}

	requestID := uuid.New().String()
	u.Balance -= amount
	u.TotalWithdrawn += amount
	u.AppendTransaction(-amount, models.TxDebit, models.TxWithdrawal,
		fmt.Sprintf("Withdrawal via %s (request %s)", method, requestID))

	l.queue.SaveUser(u.Clone())
	log.Printf("Withdrawal recorded: user %d, %.2f via %s (request %s)", userID, amount, method, requestID)
	return requestID, nil
}

// FindUserByCode resolves a referral code to its owner by exact match.
// Linear scan over the user map; at this scale the scan is fine, the
// growth path is a code→id index maintained on user creation.
func (l *Ledger) FindUserByCode(code string) (int64, bool) {
	if code == "" {
		return 0, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for id, u := range l.users {
		if u.ReferralCode == code {
			return id, true
		}
	}
	return 0, false
}

// IsReferred reports whether a completed referral exists for the user.
func (l *Ledger) IsReferred(userID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.referrals[userID]
	return ok
}

// UserSnapshot returns a copy of the user's current state.
func (l *Ledger) UserSnapshot(userID int64) (*models.User, bool) {
	l.locks.Lock(userID)
	defer l.locks.Unlock(userID)

	l.mu.RLock()
	u, ok := l.users[userID]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// ReferralsOf lists user ids referred by the given user.
func (l *Ledger) ReferralsOf(referrerID int64) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []int64
	for referred, r := range l.referrals {
		if r.ReferrerID == referrerID {
			out = append(out, referred)
		}
	}
	return out
}

// AllUserIDs returns every known user id, for admin broadcast fan-out.
func (l *Ledger) AllUserIDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]int64, 0, len(l.users))
	for id := range l.users {
		out = append(out, id)
	}
	return out
}

// ExpirePending drops pending entries older than maxAge and returns how
// many were removed.
func (l *Ledger) ExpirePending(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	l.mu.RLock()
	var stale []int64
	for id, p := range l.pending {
		if p.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	l.mu.RUnlock()

	expired := 0
	for _, id := range stale {
		if l.expireOne(id, cutoff) {
			expired++
		}
	}
	if expired > 0 {
		log.Printf("Expired %d stale pending referrals", expired)
	}
	return expired
}

// expireOne re-checks the entry under lock and removes it only if it is
// still stale; a claim promoted or refreshed since the scan stays intact.
// The store delete is issued iff the in-memory delete happened.
func (l *Ledger) expireOne(id int64, cutoff time.Time) bool {
	l.locks.Lock(id)
	l.mu.Lock()
	p, ok := l.pending[id]
	removed := ok && p.CreatedAt.Before(cutoff)
	if removed {
		delete(l.pending, id)
	}
	l.mu.Unlock()
	l.locks.Unlock(id)

	if removed {
		l.queue.DeletePending(id)
	}
	return removed
}

// Stats aggregates the admin view.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	s := Stats{
		Users:     len(l.users),
		Referrals: len(l.referrals),
		Pending:   len(l.pending),
	}
	l.mu.RUnlock()

	for _, id := range ids {
		l.locks.Lock(id)
		l.mu.RLock()
		if u, ok := l.users[id]; ok {
			s.TotalBalance += u.Balance
		}
		l.mu.RUnlock()
		l.locks.Unlock(id)
	}
	return s
}

// FlushTo writes the full in-memory state through to the store. Run
// periodically to bound the write-behind durability gap.
func (l *Ledger) FlushTo(st store.Store) {
	l.mu.RLock()
	ids := make([]int64, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	referrals := make([]models.Referral, 0, len(l.referrals))
	for _, r := range l.referrals {
		referrals = append(referrals, r)
	}
	pending := make([]models.PendingReferral, 0, len(l.pending))
	for _, p := range l.pending {
		pending = append(pending, p)
	}
	l.mu.RUnlock()

	for _, id := range ids {
		u, ok := l.UserSnapshot(id)
		if !ok {
			continue
		}
		if err := st.SaveUser(u); err != nil {
			log.Printf("Flush: failed to save user %d: %v", id, err)
		}
	}
	for _, r := range referrals {
		if err := st.SaveReferral(r); err != nil {
			log.Printf("Flush: failed to save referral for %d: %v", r.ReferredID, err)
		}
	}
	for _, p := range pending {
		if err := st.SavePending(p); err != nil {
			log.Printf("Flush: failed to save pending for %d: %v", p.ReferredID, err)
		}
	}
}
