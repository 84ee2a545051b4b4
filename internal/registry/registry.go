// Package registry holds the configured channel list. Channels are parsed
// once from the environment at startup and are read-only afterwards.
package registry

import (
	"fmt"
	"log"
	"strings"
	"time"

	"refgate-bot/internal/models"
)

type Registry struct {
	channels []models.Channel
}

// Parse builds a registry from a comma-separated channel list. Accepted
// entry formats: @username, -100<id> (channel), -<id> (group), or a bare
// numeric id longer than 9 digits (auto-prefixed -100). Malformed entries
// are skipped with a warning; duplicates by normalized chat id are ignored.
func Parse(raw string) *Registry {
	r := &Registry{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		chatID, ok := normalize(entry)
		if !ok {
			log.Printf("Skipping invalid channel id %q", entry)
			continue
		}
		if r.contains(chatID) {
			continue
		}
		r.channels = append(r.channels, models.Channel{
			ChatID:  chatID,
			Name:    displayName(chatID, len(r.channels)+1),
			AddedAt: time.Now(),
		})
	}
	return r
}

// FromChannels wraps an already-loaded channel list (e.g. from the store).
func FromChannels(channels []models.Channel) *Registry {
	r := &Registry{}
	for _, ch := range channels {
		if !r.contains(ch.ChatID) {
			r.channels = append(r.channels, ch)
		}
	}
	return r
}

// Channels returns the configured list. The returned slice must not be
// mutated.
func (r *Registry) Channels() []models.Channel {
	return r.channels
}

func (r *Registry) Len() int {
	return len(r.channels)
}

func (r *Registry) contains(chatID string) bool {
	for _, ch := range r.channels {
		if ch.ChatID == chatID {
			return true
		}
	}
	return false
}

func normalize(entry string) (string, bool) {
	switch {
	case strings.HasPrefix(entry, "@"):
		if len(entry) == 1 {
			return "", false
		}
		return entry, true
	case strings.HasPrefix(entry, "-"):
		if !isDigits(entry[1:]) {
			return "", false
		}
		return entry, true
	case isDigits(entry) && len(entry) > 9:
		return "-100" + entry, true
	default:
		return "", false
	}
}

func displayName(chatID string, ordinal int) string {
	if strings.HasPrefix(chatID, "@") {
		return strings.TrimPrefix(chatID, "@")
	}
	return fmt.Sprintf("Channel %d", ordinal)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
