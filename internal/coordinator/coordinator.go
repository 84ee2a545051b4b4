// Package coordinator drives the per-user state machine behind every
// "start" and "verify" event: claim a pending referral when a code is
// presented, check the membership gate, and once the gate is passed apply
// the ledger mutations in their fixed order. The coordinator never aborts
// an interaction: whatever goes wrong, it resolves to a renderable outcome.
package coordinator

import (
	"context"
	"strings"
	"time"

	"refgate-bot/internal/ledger"
	"refgate-bot/internal/models"
	"refgate-bot/internal/verifier"
)

// membershipTimeout bounds the whole join-prompt/verify path; the verifier
// applies its own per-probe deadlines underneath.
const membershipTimeout = 10 * time.Second

type Kind int

const (
	// JoinPrompt: the user still has channels to join.
	JoinPrompt Kind = iota
	// MainMenu: the gate is passed (or we degraded to it).
	MainMenu
)

// JoinTarget pairs a missing channel with its resolved invite link. Link is
// empty when no link could be resolved; the gateway omits the button.
type JoinTarget struct {
	Channel models.Channel
	Link    string
}

// Outcome is everything the gateway needs to render a response and fire
// follow-up notifications.
type Outcome struct {
	Kind    Kind
	User    *models.User
	Missing []JoinTarget

	// Referral-claim flags for the entry event.
	ReferralClaimed bool
	AlreadyReferred bool
	ClaimDuplicate  bool

	WelcomeGranted bool
	Promotion      *ledger.PromotionResult
}

type Coordinator struct {
	ledger   *ledger.Ledger
	verifier *verifier.Verifier
}

func New(l *ledger.Ledger, v *verifier.Verifier) *Coordinator {
	return &Coordinator{ledger: l, verifier: v}
}

// HandleEntry processes a "start" event with an optional referral payload.
func (c *Coordinator) HandleEntry(ctx context.Context, userID int64, payload string) Outcome {
	c.ledger.GetOrCreateUser(userID)

	var out Outcome
	if strings.HasPrefix(payload, "REF") {
		c.claimReferral(userID, payload, &out)
	}

	c.resolveMembership(ctx, userID, false, &out)
	return out
}

// HandleVerify processes a "verify" event: the user asserts they have
// joined the required channels. The check bypasses the cached verdict, a
// stale negative must not block a user who just joined.
func (c *Coordinator) HandleVerify(ctx context.Context, userID int64) Outcome {
	c.ledger.GetOrCreateUser(userID)

	var out Outcome
	c.resolveMembership(ctx, userID, true, &out)
	return out
}

// claimReferral resolves the code by exact match and records a pending
// claim. No credit happens here: attribution is deferred until membership
// is confirmed.
func (c *Coordinator) claimReferral(userID int64, code string, out *Outcome) {
	if c.ledger.IsReferred(userID) {
		out.AlreadyReferred = true
		return
	}

	referrerID, found := c.ledger.FindUserByCode(code)
	if !found || referrerID == userID {
		return
	}

	if c.ledger.ClaimPending(referrerID, userID) {
		out.ReferralClaimed = true
	} else {
		out.ClaimDuplicate = true
	}
}

// resolveMembership runs the gate check and, only when the gate is passed,
// applies the ledger mutations in the fixed order
// {mark-joined, welcome bonus, promotion}. The promotion notification reads
// the post-bonus balance, which is why the order matters.
func (c *Coordinator) resolveMembership(ctx context.Context, userID int64, fresh bool, out *Outcome) {
	ctx, cancel := context.WithTimeout(ctx, membershipTimeout)
	defer cancel()

	var allJoined bool
	var missing []models.Channel
	if fresh {
		allJoined, missing = c.verifier.RecheckMembership(ctx, userID)
	} else {
		allJoined, missing = c.verifier.CheckMembership(ctx, userID)
	}
	if !allJoined {
		out.Kind = JoinPrompt
		out.Missing = c.resolveLinks(ctx, missing)
		if u, ok := c.ledger.UserSnapshot(userID); ok {
			out.User = u
		}
		return
	}

	c.ledger.MarkJoinedChannels(userID)
	out.WelcomeGranted = c.ledger.GrantWelcomeBonus(userID)
	if result, promoted := c.ledger.PromoteIfPending(userID); promoted {
		out.Promotion = &result
	}

	out.Kind = MainMenu
	if u, ok := c.ledger.UserSnapshot(userID); ok {
		out.User = u
	}
}

func (c *Coordinator) resolveLinks(ctx context.Context, missing []models.Channel) []JoinTarget {
	targets := make([]JoinTarget, 0, len(missing))
	for _, ch := range missing {
		link, _ := c.verifier.InviteLink(ctx, ch)
		targets = append(targets, JoinTarget{Channel: ch, Link: link})
	}
	return targets
}
