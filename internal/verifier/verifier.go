// Package verifier checks a user's standing against the configured channel
// list. Probes run concurrently under a bounded limiter, each with its own
// timeout; a probe that errors or times out counts as "not a member"
// (fail-closed). Results are cached for a short TTL to absorb bursts of
// repeated checks.
package verifier

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"refgate-bot/internal/cache"
	"refgate-bot/internal/models"
	"refgate-bot/internal/registry"
)

// ChatInfo is the subset of chat metadata invite-link resolution needs.
type ChatInfo struct {
	Username   string
	InviteLink string
}

// ChatAPI is the narrow transport surface the verifier probes through.
type ChatAPI interface {
	MemberStatus(ctx context.Context, chatID string, userID int64) (string, error)
	ChatInfo(ctx context.Context, chatID string) (*ChatInfo, error)
	CreateInviteLink(ctx context.Context, chatID string) (string, error)
}

const (
	maxInFlightProbes = 5
	probeTimeout      = 10 * time.Second
	overallTimeout    = 10 * time.Second
	cacheTTL          = 5 * time.Minute
)

// Member statuses that mean the user is not in the chat.
const (
	statusLeft   = "left"
	statusKicked = "kicked"
)

type Verifier struct {
	api      ChatAPI
	registry *registry.Registry
	cache    cache.Cache
	sem      *semaphore.Weighted
}

func New(api ChatAPI, reg *registry.Registry, c cache.Cache) *Verifier {
	return &Verifier{
		api:      api,
		registry: reg,
		cache:    c,
		sem:      semaphore.NewWeighted(maxInFlightProbes),
	}
}

// CheckMembership reports whether the user is a member of every configured
// channel, and which channels are missing. No channels configured means no
// gate. The verifier never mutates persisted state.
func (v *Verifier) CheckMembership(ctx context.Context, userID int64) (bool, []models.Channel) {
	return v.check(ctx, userID, false)
}

// RecheckMembership skips the cached verdict and probes the transport. Used
// on explicit verify taps, where the user just joined and a cached negative
// would wrongly keep the gate shut. The fresh result still refreshes the
// cache.
func (v *Verifier) RecheckMembership(ctx context.Context, userID int64) (bool, []models.Channel) {
	return v.check(ctx, userID, true)
}

func (v *Verifier) check(ctx context.Context, userID int64, bypassCache bool) (bool, []models.Channel) {
	channels := v.registry.Channels()
	if len(channels) == 0 {
		return true, nil
	}

	key := fmt.Sprintf("membership:%d:%d", userID, len(channels))
	if !bypassCache {
		if cached, ok := v.cache.Get(ctx, key); ok {
			return v.decodeResult(cached, channels)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	joined := make([]bool, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch models.Channel) {
			defer wg.Done()
			joined[i] = v.probe(ctx, ch, userID)
		}(i, ch)
	}
	wg.Wait()

	var missing []models.Channel
	for i, ok := range joined {
		if !ok {
			missing = append(missing, channels[i])
		}
	}

	v.cache.Set(ctx, key, encodeResult(missing), cacheTTL)
	log.Printf("User %d membership: joined=%v missing=%d", userID, len(missing) == 0, len(missing))
	return len(missing) == 0, missing
}

// probe checks one channel under the concurrency limiter. Any failure,
// including a limiter wait cut short by the overall deadline, is treated
// as not joined.
func (v *Verifier) probe(ctx context.Context, ch models.Channel, userID int64) bool {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		log.Printf("Membership probe for %s cancelled before dispatch: %v", ch.ChatID, err)
		return false
	}
	defer v.sem.Release(1)

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status, err := v.api.MemberStatus(probeCtx, ch.ChatID, userID)
	if err != nil {
		log.Printf("Membership probe for %s failed: %v", ch.ChatID, err)
		return false
	}
	return status != statusLeft && status != statusKicked
}

// InviteLink resolves a shareable link for a channel: reuse the chat's
// existing invite, otherwise mint a new one, otherwise fall back to a
// public username link. Returns false when none of those work; callers
// degrade gracefully (omit the button).
func (v *Verifier) InviteLink(ctx context.Context, ch models.Channel) (string, bool) {
	key := "invitelink:" + ch.ChatID
	if cached, ok := v.cache.Get(ctx, key); ok {
		return cached, cached != ""
	}

	link := v.resolveInviteLink(ctx, ch)
	v.cache.Set(ctx, key, link, cacheTTL)
	return link, link != ""
}

func (v *Verifier) resolveInviteLink(ctx context.Context, ch models.Channel) string {
	infoCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	info, err := v.api.ChatInfo(infoCtx, ch.ChatID)
	if err != nil {
		log.Printf("Failed to fetch chat %s: %v", ch.ChatID, err)
		return usernameLink(ch.ChatID)
	}

	if info.InviteLink != "" {
		return info.InviteLink
	}

	createCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if link, err := v.api.CreateInviteLink(createCtx, ch.ChatID); err == nil && link != "" {
		return link
	} else if err != nil {
		log.Printf("Failed to create invite link for %s: %v", ch.ChatID, err)
	}

	if info.Username != "" {
		return "https://t.me/" + info.Username
	}
	return usernameLink(ch.ChatID)
}

// usernameLink is the last-resort fallback for @username chat ids.
func usernameLink(chatID string) string {
	if strings.HasPrefix(chatID, "@") {
		return "https://t.me/" + strings.TrimPrefix(chatID, "@")
	}
	return ""
}

func encodeResult(missing []models.Channel) string {
	if len(missing) == 0 {
		return "ok"
	}
	ids := make([]string, len(missing))
	for i, ch := range missing {
		ids[i] = ch.ChatID
	}
	return "missing:" + strings.Join(ids, ",")
}

func (v *Verifier) decodeResult(cached string, channels []models.Channel) (bool, []models.Channel) {
	if cached == "ok" {
		return true, nil
	}
	ids := strings.Split(strings.TrimPrefix(cached, "missing:"), ",")
	var missing []models.Channel
	for _, ch := range channels {
		for _, id := range ids {
			if ch.ChatID == id {
				missing = append(missing, ch)
				break
			}
		}
	}
	// A stale entry naming unknown channels resolves to fail-closed.
	if len(missing) == 0 {
		missing = channels
	}
	return false, missing
}
