package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"refgate-bot/internal/models"
)

// File is the flat-file fallback store: one JSON file per collection under
// a data directory. It round-trips the same logical records as the durable
// drivers and is used whenever no database is reachable at startup.
type File struct {
	mu  sync.Mutex
	dir string

	users     map[int64]models.User
	channels  map[string]models.Channel
	referrals map[int64]models.Referral
	pending   map[int64]models.PendingReferral
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	f := &File{
		dir:       dir,
		users:     make(map[int64]models.User),
		channels:  make(map[string]models.Channel),
		referrals: make(map[int64]models.Referral),
		pending:   make(map[int64]models.PendingReferral),
	}
	if err := f.loadAll(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadAll() error {
	var users []models.User
	if err := f.readFile("users.json", &users); err != nil {
		return err
	}
	for _, u := range users {
		f.users[u.ID] = u
	}

	var channels []models.Channel
	if err := f.readFile("channels.json", &channels); err != nil {
		return err
	}
	for _, ch := range channels {
		f.channels[ch.ChatID] = ch
	}

	var referrals []models.Referral
	if err := f.readFile("referrals.json", &referrals); err != nil {
		return err
	}
	for _, r := range referrals {
		f.referrals[r.ReferredID] = r
	}

	var pending []models.PendingReferral
	if err := f.readFile("pending_referrals.json", &pending); err != nil {
		return err
	}
	for _, p := range pending {
		f.pending[p.ReferredID] = p
	}
	return nil
}

func (f *File) readFile(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// writeFile persists via a temp file + rename so a crash mid-write never
// truncates a collection.
func (f *File) writeFile(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (f *File) flushUsers() error {
	out := make([]models.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return f.writeFile("users.json", out)
}

func (f *File) flushChannels() error {
	out := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return f.writeFile("channels.json", out)
}

func (f *File) flushReferrals() error {
	out := make([]models.Referral, 0, len(f.referrals))
	for _, r := range f.referrals {
		out = append(out, r)
	}
	return f.writeFile("referrals.json", out)
}

func (f *File) flushPending() error {
	out := make([]models.PendingReferral, 0, len(f.pending))
	for _, p := range f.pending {
		out = append(out, p)
	}
	return f.writeFile("pending_referrals.json", out)
}

func (f *File) LoadUsers() ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u.Clone())
	}
	return out, nil
}

func (f *File) SaveUser(u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = *u.Clone()
	return f.flushUsers()
}

func (f *File) LoadChannels() ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *File) SaveChannel(ch models.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ChatID] = ch
	return f.flushChannels()
}

func (f *File) LoadReferrals() ([]models.Referral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Referral, 0, len(f.referrals))
	for _, r := range f.referrals {
		out = append(out, r)
	}
	return out, nil
}

func (f *File) SaveReferral(r models.Referral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.referrals[r.ReferredID] = r
	return f.flushReferrals()
}

func (f *File) LoadPending() ([]models.PendingReferral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PendingReferral, 0, len(f.pending))
	for _, p := range f.pending {
		out = append(out, p)
	}
	return out, nil
}

func (f *File) SavePending(p models.PendingReferral) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[p.ReferredID] = p
	return f.flushPending()
}

func (f *File) DeletePending(referredID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, referredID)
	return f.flushPending()
}

func (f *File) Name() string { return "file" }

func (f *File) Close() error { return nil }
