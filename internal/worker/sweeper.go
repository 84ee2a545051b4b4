package worker

import (
	"log"

	"refgate-bot/internal/ledger"
	"refgate-bot/internal/store"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the background maintenance cycles: expiring stale pending
// referrals and flushing the in-memory ledger through to the store. The
// flush bounds how much the write-behind path can lose on a crash.
type Sweeper struct {
	Ledger *ledger.Ledger
	Store  store.Store
	cron   *cron.Cron
}

func NewSweeper(l *ledger.Ledger, st store.Store) *Sweeper {
	return &Sweeper{
		Ledger: l,
		Store:  st,
		cron:   cron.New(),
	}
}

func (s *Sweeper) Start() {
	// Run once at start
	s.expireCycle()

	if _, err := s.cron.AddFunc("@every 1h", s.expireCycle); err != nil {
		log.Printf("Failed to schedule expiry cycle: %v", err)
	}
	if _, err := s.cron.AddFunc("@every 10m", s.flushCycle); err != nil {
		log.Printf("Failed to schedule flush cycle: %v", err)
	}

	s.cron.Start()
	log.Println("Background maintenance worker started")
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	// Final flush so a clean shutdown leaves no durability gap.
	s.flushCycle()
}

func (s *Sweeper) expireCycle() {
	log.Println("Running pending-referral expiry cycle...")
	s.Ledger.ExpirePending(ledger.PendingTTL)
}

func (s *Sweeper) flushCycle() {
	s.Ledger.FlushTo(s.Store)
}
