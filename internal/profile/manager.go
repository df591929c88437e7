package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/storage"
)

// DocStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type DocStore interface {
	Get(ctx context.Context, path string) (storage.Snapshot, error)
	Set(ctx context.Context, path string, data map[string]any, opts ...storage.SetOption) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  Profile
	cachedAt time.Time
}

// Manager provides cached access to user profile documents.
type Manager struct {
	store     DocStore
	clock     Clock
	ttl       time.Duration
	defaultTZ string
	logger    *slog.Logger

	mu     sync.RWMutex
	cached map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store DocStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store DocStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:     store,
		clock:     clock,
		ttl:       ttl,
		defaultTZ: journal.DefaultTimezone,
		logger:    slog.Default(),
		cached:    make(map[string]cacheEntry),
	}
}

// SetDefaultTimezone changes the timezone reported for users that have
// not chosen one.
func (m *Manager) SetDefaultTimezone(name string) error {
	if _, err := journal.LoadLocation(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		name = journal.DefaultTimezone
	}
	m.defaultTZ = name
	clear(m.cached)
	return nil
}

// GetProfile returns the profile of uid from cache or storage. A user
// without a document gets a profile carrying only uid and the default
// timezone.
func (m *Manager) GetProfile(ctx context.Context, uid string) (Profile, error) {
	if uid == "" {
		return Profile{}, apperr.Validation("uid", "user id required")
	}

	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cached[uid]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		m.mu.RUnlock()
		return e.profile, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cached[uid]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		return e.profile, nil
	}

	snap, err := m.store.Get(ctx, Path(uid))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Profile{}, apperr.WrapStore("loading profile", err)
	}

	p := decodeProfile(uid, snap, m.defaultTZ)
	m.cached[uid] = cacheEntry{profile: p, cachedAt: m.clock.Now()}
	return p, nil
}

// SetField merge-writes one editable profile field and invalidates the
// cache. Timezones must name a known IANA zone.
func (m *Manager) SetField(ctx context.Context, uid, key, value string) error {
	if uid == "" {
		return apperr.Validation("uid", "user id required")
	}
	if !editableFields[key] {
		return apperr.Validation(key, "unknown profile field %q", key)
	}
	value = strings.TrimSpace(value)
	if key == FieldTimezone {
		if value == "" {
			return apperr.Validation(key, "timezone must not be empty")
		}
		if _, err := journal.LoadLocation(value); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data := map[string]any{"uid": uid, key: value}
	if err := m.store.Set(ctx, Path(uid), data, storage.Merge()); err != nil {
		return apperr.WrapStore(fmt.Sprintf("setting profile field %q", key), err)
	}

	delete(m.cached, uid)
	return nil
}

// Touch records a sign-in: the identity fields and lastLoginAt are merged
// in, createdAt and the default timezone only when the document is new.
func (m *Manager) Touch(ctx context.Context, uid string, login Login) (Profile, error) {
	if uid == "" {
		return Profile{}, apperr.Validation("uid", "user id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := Path(uid)
	snap, err := m.store.Get(ctx, path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Profile{}, apperr.WrapStore("loading profile", err)
	}

	now := m.clock.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	data := map[string]any{
		"uid":         uid,
		"email":       login.Email,
		"displayName": login.DisplayName,
		"photoURL":    login.PhotoURL,
		"lastLoginAt": stamp,
	}
	if !snap.Exists {
		data["createdAt"] = stamp
		data["timezone"] = m.defaultTZ
	}
	if err := m.store.Set(ctx, path, data, storage.Merge()); err != nil {
		return Profile{}, apperr.WrapStore("touching profile", err)
	}
	delete(m.cached, uid)

	p := decodeProfile(uid, snap, m.defaultTZ)
	p.Email, p.DisplayName, p.PhotoURL = login.Email, login.DisplayName, login.PhotoURL
	p.LastLoginAt = now
	if !snap.Exists {
		p.CreatedAt = now
		m.logger.Info("profile created", "uid", uid)
	}
	return p, nil
}

// Location returns the timezone of uid.
func (m *Manager) Location(ctx context.Context, uid string) (*time.Location, error) {
	p, err := m.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	loc, err := journal.LoadLocation(p.Timezone)
	if err != nil {
		m.logger.Warn("stored timezone is invalid, using default", "uid", uid, "timezone", p.Timezone)
		return journal.LoadLocation(m.defaultTZ)
	}
	return loc, nil
}

// Today returns the current day key of uid in their timezone.
func (m *Manager) Today(ctx context.Context, uid string) (string, error) {
	loc, err := m.Location(ctx, uid)
	if err != nil {
		return "", err
	}
	return journal.DateIn(m.clock.Now(), loc), nil
}
