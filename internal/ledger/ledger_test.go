package ledger

import (
	"math"
	"sync"
	"testing"
	"time"

	"refgate-bot/internal/models"
	"refgate-bot/internal/persist"
	"refgate-bot/internal/store"
)

func newTestLedger() (*Ledger, *store.Memory) {
	st := store.NewMemory()
	return New(persist.NewDirect(st)), st
}

func TestGetOrCreateUserAssignsCode(t *testing.T) {
	l, _ := newTestLedger()

	u := l.GetOrCreateUser(42)
	if u.ReferralCode != "REF42" {
		t.Fatalf("referral code = %q, want REF42", u.ReferralCode)
	}
	if u.Balance != 0 {
		t.Fatalf("new user balance = %.2f, want 0", u.Balance)
	}

	again := l.GetOrCreateUser(42)
	if again.JoinedAt != u.JoinedAt {
		t.Errorf("second lookup created a new account")
	}
}

func TestFindUserByCodeExactMatch(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(7)
	l.GetOrCreateUser(77)

	id, ok := l.FindUserByCode("REF7")
	if !ok || id != 7 {
		t.Fatalf("FindUserByCode(REF7) = (%d, %v), want (7, true)", id, ok)
	}

	// Prefix of a valid code must not resolve.
	if _, ok := l.FindUserByCode("REF"); ok {
		t.Error("bare REF prefix resolved to a user")
	}
	if _, ok := l.FindUserByCode(""); ok {
		t.Error("empty code resolved to a user")
	}
	if _, ok := l.FindUserByCode("REF999"); ok {
		t.Error("unknown code resolved to a user")
	}
}

func TestClaimPendingFirstWriterWins(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)

	if !l.ClaimPending(1, 100) {
		t.Fatal("first claim rejected")
	}
	if l.ClaimPending(2, 100) {
		t.Fatal("second claim for the same referred user accepted")
	}
}

func TestClaimPendingRejectsSelfReferral(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(5)

	if l.ClaimPending(5, 5) {
		t.Fatal("self-referral accepted")
	}
	if s := l.Stats(); s.Pending != 0 {
		t.Fatalf("pending count = %d after rejected self-referral, want 0", s.Pending)
	}
}

func TestClaimPendingConcurrentOnlyOneWins(t *testing.T) {
	l, _ := newTestLedger()
	for i := int64(1); i <= 10; i++ {
		l.GetOrCreateUser(i)
	}

	var wg sync.WaitGroup
	wins := make(chan int64, 10)
	for i := int64(1); i <= 10; i++ {
		wg.Add(1)
		go func(referrer int64) {
			defer wg.Done()
			if l.ClaimPending(referrer, 500) {
				wins <- referrer
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Fatalf("%d claims won, want exactly 1", got)
	}
}

func TestPromoteIfPendingCreditsReferrerOnce(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)
	l.ClaimPending(1, 2)

	result, ok := l.PromoteIfPending(2)
	if !ok {
		t.Fatal("promotion did not happen")
	}
	if result.ReferrerID != 1 || result.ReferredID != 2 {
		t.Fatalf("promotion pair = %d->%d, want 1->2", result.ReferrerID, result.ReferredID)
	}
	if result.ReferrerBalance != ReferralBonus {
		t.Errorf("referrer balance = %.2f, want %.2f", result.ReferrerBalance, ReferralBonus)
	}
	if result.ReferralCount != 1 {
		t.Errorf("referral count = %d, want 1", result.ReferralCount)
	}

	// Re-verifying must not credit again.
	if _, ok := l.PromoteIfPending(2); ok {
		t.Fatal("second promotion happened for the same referred user")
	}
	u, _ := l.UserSnapshot(1)
	if u.Balance != ReferralBonus {
		t.Errorf("referrer balance after re-verify = %.2f, want %.2f", u.Balance, ReferralBonus)
	}
}

func TestPromoteIfPendingConcurrent(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)
	l.ClaimPending(1, 2)

	const workers = 16
	var wg sync.WaitGroup
	promotions := make(chan PromotionResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result, ok := l.PromoteIfPending(2); ok {
				promotions <- result
			}
		}()
	}
	wg.Wait()
	close(promotions)

	if got := len(promotions); got != 1 {
		t.Fatalf("%d promotions happened, want exactly 1", got)
	}
	u, _ := l.UserSnapshot(1)
	if u.Balance != ReferralBonus {
		t.Errorf("referrer balance = %.2f, want %.2f", u.Balance, ReferralBonus)
	}
	if u.ReferralCount != 1 {
		t.Errorf("referral count = %d, want 1", u.ReferralCount)
	}
}

func TestPromotionBalanceReflectsPriorEarnings(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)

	// Seed the referrer with two prior promotions plus a welcome bonus.
	l.GrantWelcomeBonus(1)
	for _, referred := range []int64{10, 11} {
		l.GetOrCreateUser(referred)
		l.ClaimPending(1, referred)
		if _, ok := l.PromoteIfPending(referred); !ok {
			t.Fatalf("seed promotion for %d failed", referred)
		}
	}

	l.GetOrCreateUser(12)
	l.ClaimPending(1, 12)
	result, ok := l.PromoteIfPending(12)
	if !ok {
		t.Fatal("promotion did not happen")
	}

	want := WelcomeBonus + 3*ReferralBonus
	if result.ReferrerBalance != want {
		t.Errorf("referrer balance = %.2f, want %.2f", result.ReferrerBalance, want)
	}
	if result.ReferralCount != 3 {
		t.Errorf("referral count = %d, want 3", result.ReferralCount)
	}
}

func TestGrantWelcomeBonusIdempotent(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(3)

	const workers = 16
	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.GrantWelcomeBonus(3) {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	if got := len(granted); got != 1 {
		t.Fatalf("welcome bonus granted %d times, want exactly 1", got)
	}
	u, _ := l.UserSnapshot(3)
	if u.Balance != WelcomeBonus {
		t.Errorf("balance = %.2f, want %.2f", u.Balance, WelcomeBonus)
	}
	if len(u.Transactions) != 1 {
		t.Errorf("%d transactions recorded, want 1", len(u.Transactions))
	}
}

func TestRecordWithdrawalBoundaries(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(4)

	// Seed a balance above the minimum.
	for i := int64(100); i < 115; i++ {
		l.GetOrCreateUser(i)
		l.ClaimPending(4, i)
		l.PromoteIfPending(i)
	}
	u, _ := l.UserSnapshot(4)
	if u.Balance != 15*ReferralBonus {
		t.Fatalf("seed balance = %.2f, want %.2f", u.Balance, 15*ReferralBonus)
	}

	if _, err := l.RecordWithdrawal(4, 0, "UPI"); err != ErrInvalidAmount {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.RecordWithdrawal(4, -5, "UPI"); err != ErrInvalidAmount {
		t.Errorf("negative amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.RecordWithdrawal(4, MinWithdrawal-0.01, "UPI"); err != ErrBelowMinimum {
		t.Errorf("below minimum: err = %v, want ErrBelowMinimum", err)
	}
	if _, err := l.RecordWithdrawal(4, 100, "UPI"); err != ErrInsufficientBalance {
		t.Errorf("over balance: err = %v, want ErrInsufficientBalance", err)
	}

	// Exactly the minimum is accepted.
	requestID, err := l.RecordWithdrawal(4, MinWithdrawal, "UPI")
	if err != nil {
		t.Fatalf("minimum withdrawal rejected: %v", err)
	}
	if requestID == "" {
		t.Error("empty request id")
	}

	u, _ = l.UserSnapshot(4)
	if u.Balance != 15*ReferralBonus-MinWithdrawal {
		t.Errorf("balance after withdrawal = %.2f, want %.2f", u.Balance, 15*ReferralBonus-MinWithdrawal)
	}
	if u.TotalWithdrawn != MinWithdrawal {
		t.Errorf("total withdrawn = %.2f, want %.2f", u.TotalWithdrawn, MinWithdrawal)
	}
}

func TestRecordWithdrawalRejectsNonFiniteAmounts(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(4)

	for i := int64(300); i < 315; i++ {
		l.GetOrCreateUser(i)
		l.ClaimPending(4, i)
		l.PromoteIfPending(i)
	}
	before, _ := l.UserSnapshot(4)

	for _, amount := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := l.RecordWithdrawal(4, amount, "UPI"); err != ErrInvalidAmount {
			t.Errorf("amount %v: err = %v, want ErrInvalidAmount", amount, err)
		}
	}

	// Rejected input must leave no trace in the account.
	after, _ := l.UserSnapshot(4)
	if after.Balance != before.Balance {
		t.Errorf("balance changed: %.2f -> %v", before.Balance, after.Balance)
	}
	if math.IsNaN(after.Balance) {
		t.Error("balance corrupted to NaN")
	}
	if after.TotalWithdrawn != 0 {
		t.Errorf("total withdrawn = %v, want 0", after.TotalWithdrawn)
	}
	if len(after.Transactions) != len(before.Transactions) {
		t.Errorf("transaction recorded for rejected withdrawal")
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(4)

	// Seed balance 20, then race two withdrawals of 15 each.
	for i := int64(200); i < 220; i++ {
		l.GetOrCreateUser(i)
		l.ClaimPending(4, i)
		l.PromoteIfPending(i)
	}

	var wg sync.WaitGroup
	succeeded := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordWithdrawal(4, 15, "UPI"); err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	if got := len(succeeded); got != 1 {
		t.Fatalf("%d withdrawals succeeded, want exactly 1", got)
	}
	u, _ := l.UserSnapshot(4)
	if u.Balance != 5 {
		t.Errorf("balance = %.2f, want 5.00", u.Balance)
	}
}

func TestExpirePendingDropsOnlyStale(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)
	l.ClaimPending(1, 100)
	l.ClaimPending(2, 200)

	// Age one claim past the cutoff.
	l.mu.Lock()
	p := l.pending[100]
	p.CreatedAt = time.Now().Add(-PendingTTL - time.Hour)
	l.pending[100] = p
	l.mu.Unlock()

	if got := l.ExpirePending(PendingTTL); got != 1 {
		t.Fatalf("expired %d claims, want 1", got)
	}

	// The expired claim must not promote; the fresh one must.
	if _, ok := l.PromoteIfPending(100); ok {
		t.Error("expired claim promoted")
	}
	if _, ok := l.PromoteIfPending(200); !ok {
		t.Error("fresh claim failed to promote")
	}
}

// recordingQueue counts persistence calls so tests can assert what the
// ledger dispatched.
type recordingQueue struct {
	mu             sync.Mutex
	pendingDeletes []int64
}

func (q *recordingQueue) SaveUser(*models.User)              {}
func (q *recordingQueue) SaveReferral(models.Referral)       {}
func (q *recordingQueue) SavePending(models.PendingReferral) {}

func (q *recordingQueue) DeletePending(referredID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pendingDeletes = append(q.pendingDeletes, referredID)
}

func TestExpireOneSkipsFreshClaim(t *testing.T) {
	q := &recordingQueue{}
	l := New(q)
	l.GetOrCreateUser(1)
	l.ClaimPending(1, 100)

	// The sweep's scan can race a refresh: by recheck time the entry is
	// fresh again and must survive, with no store delete dispatched.
	cutoff := time.Now().Add(-time.Hour)
	if l.expireOne(100, cutoff) {
		t.Fatal("fresh claim expired")
	}
	if len(q.pendingDeletes) != 0 {
		t.Fatalf("store delete dispatched for a live claim: %v", q.pendingDeletes)
	}

	// The claim is still promotable.
	if _, ok := l.PromoteIfPending(100); !ok {
		t.Error("surviving claim failed to promote")
	}
}

func TestExpirePendingDispatchesDeleteOnlyForRemoved(t *testing.T) {
	q := &recordingQueue{}
	l := New(q)
	l.GetOrCreateUser(1)
	l.ClaimPending(1, 100)
	l.ClaimPending(1, 200)

	l.mu.Lock()
	p := l.pending[100]
	p.CreatedAt = time.Now().Add(-PendingTTL - time.Hour)
	l.pending[100] = p
	l.mu.Unlock()

	if got := l.ExpirePending(PendingTTL); got != 1 {
		t.Fatalf("expired %d claims, want 1", got)
	}
	if len(q.pendingDeletes) != 1 || q.pendingDeletes[0] != 100 {
		t.Fatalf("store deletes = %v, want exactly [100]", q.pendingDeletes)
	}
}

func TestTransactionLogCapped(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(9)

	for i := 0; i < models.MaxTransactions+10; i++ {
		referred := int64(1000 + i)
		l.GetOrCreateUser(referred)
		l.ClaimPending(9, referred)
		l.PromoteIfPending(referred)
	}

	u, _ := l.UserSnapshot(9)
	if len(u.Transactions) != models.MaxTransactions {
		t.Fatalf("transaction log length = %d, want %d", len(u.Transactions), models.MaxTransactions)
	}
	// Sequence numbers keep climbing after eviction.
	last := u.Transactions[len(u.Transactions)-1]
	if last.Seq != models.MaxTransactions+10 {
		t.Errorf("last seq = %d, want %d", last.Seq, models.MaxTransactions+10)
	}
	// Balance survives eviction untouched.
	want := float64(models.MaxTransactions+10) * ReferralBonus
	if u.Balance != want {
		t.Errorf("balance = %.2f, want %.2f", u.Balance, want)
	}
}

func TestLoadFromSeedsState(t *testing.T) {
	st := store.NewMemory()
	st.SaveUser(&models.User{ID: 1, Balance: 5, ReferralCode: "REF1"})
	st.SaveReferral(models.Referral{ReferredID: 2, ReferrerID: 1, CreatedAt: time.Now()})
	st.SavePending(models.PendingReferral{ReferredID: 3, ReferrerID: 1, CreatedAt: time.Now()})

	l := New(persist.NewDirect(st))
	if err := l.LoadFrom(st); err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	u, ok := l.UserSnapshot(1)
	if !ok || u.Balance != 5 {
		t.Fatalf("loaded user balance = %v, want 5", u)
	}
	if !l.IsReferred(2) {
		t.Error("loaded referral missing")
	}
	if _, ok := l.PromoteIfPending(3); !ok {
		t.Error("loaded pending claim failed to promote")
	}
}

func TestReferralsOf(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	for _, referred := range []int64{10, 11} {
		l.GetOrCreateUser(referred)
		l.ClaimPending(1, referred)
		l.PromoteIfPending(referred)
	}

	got := l.ReferralsOf(1)
	if len(got) != 2 {
		t.Fatalf("ReferralsOf(1) = %v, want two entries", got)
	}
	if len(l.ReferralsOf(10)) != 0 {
		t.Error("referred user unexpectedly has referrals of its own")
	}
}

func TestStatsAggregates(t *testing.T) {
	l, _ := newTestLedger()
	l.GetOrCreateUser(1)
	l.GetOrCreateUser(2)
	l.GrantWelcomeBonus(1)
	l.GrantWelcomeBonus(2)
	l.ClaimPending(1, 2)
	l.PromoteIfPending(2)
	l.ClaimPending(1, 3)

	s := l.Stats()
	if s.Users < 2 {
		t.Errorf("users = %d, want >= 2", s.Users)
	}
	if s.Referrals != 1 {
		t.Errorf("referrals = %d, want 1", s.Referrals)
	}
	if s.Pending != 1 {
		t.Errorf("pending = %d, want 1", s.Pending)
	}
	want := 2*WelcomeBonus + ReferralBonus
	if s.TotalBalance != want {
		t.Errorf("total balance = %.2f, want %.2f", s.TotalBalance, want)
	}
}
