package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/storage"
)

// EntriesCollection is the collection holding the entries of one day.
func EntriesCollection(uid, date string) string {
	return storage.Collection("users", uid, "days", date, "entries")
}

// EntryInput is the user-editable part of an entry. A nil Success means
// the entry counts as a success.
type EntryInput struct {
	Text     string `json:"text"`
	Minutes  int    `json:"minutes"`
	Category string `json:"category"`
	Mood     string `json:"mood"`
	Success  *bool  `json:"success,omitempty"`
}

func (in EntryInput) normalize() (EntryInput, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return in, apperr.Validation("text", "text must not be empty")
	}
	in.Minutes = ClampMinutes(in.Minutes)
	in.Category = string(ParseCategory(in.Category))
	in.Mood = string(ParseMood(in.Mood))
	if in.Success == nil {
		ok := true
		in.Success = &ok
	}
	return in, nil
}

func (in EntryInput) fields() map[string]any {
	return map[string]any{
		"text":     in.Text,
		"minutes":  in.Minutes,
		"category": in.Category,
		"mood":     in.Mood,
		"success":  *in.Success,
	}
}

// Entries reads and writes time entries.
type Entries struct {
	store  *storage.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEntries creates an entry repository on store.
func NewEntries(store *storage.Store) *Entries {
	return &Entries{store: store, logger: slog.Default(), now: time.Now, newID: storage.NewID}
}

// List returns the entries of a day, newest first.
func (r *Entries) List(ctx context.Context, uid, date string) ([]Entry, error) {
	if err := CheckDate(date); err != nil {
		return nil, err
	}
	snaps, err := r.store.List(ctx, EntriesCollection(uid, date))
	if err != nil {
		return nil, apperr.WrapStore("listing entries", err)
	}
	return decodeEntries(snaps), nil
}

func decodeEntries(snaps []storage.Snapshot) []Entry {
	out := make([]Entry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		out = append(out, DecodeEntry(snaps[i]))
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Add creates an entry and returns it with its generated ID.
func (r *Entries) Add(ctx context.Context, uid, date string, in EntryInput) (Entry, error) {
	if err := CheckDate(date); err != nil {
		return Entry{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return Entry{}, err
	}

	now := r.now()
	id := r.newID()
	data := in.fields()
	data["createdAt"] = TimeField(now)
	data["updatedAt"] = TimeField(now)

	path := EntriesCollection(uid, date) + "/" + id
	if err := r.store.Set(ctx, path, data); err != nil {
		return Entry{}, apperr.WrapStore("adding entry", err)
	}
	r.logger.Debug("entry added", "date", date, "id", id, "minutes", in.Minutes)

	return Entry{
		ID:        id,
		Text:      in.Text,
		Minutes:   in.Minutes,
		Category:  Category(in.Category),
		Mood:      Mood(in.Mood),
		Success:   *in.Success,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update replaces the editable fields of an existing entry. The read and
// the write share one transaction, so an entry deleted concurrently is
// reported as not found instead of coming back as a partial document.
func (r *Entries) Update(ctx context.Context, uid, date, id string, in EntryInput) (Entry, error) {
	if err := CheckDate(date); err != nil {
		return Entry{}, err
	}
	in, err := in.normalize()
	if err != nil {
		return Entry{}, err
	}

	path := EntriesCollection(uid, date) + "/" + id
	var e Entry
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		snap, err := tx.Get(ctx, path)
		if err != nil {
			return err
		}
		now := r.now()
		data := in.fields()
		data["updatedAt"] = TimeField(now)

		e = DecodeEntry(snap)
		e.Text = in.Text
		e.Minutes = in.Minutes
		e.Category = Category(in.Category)
		e.Mood = Mood(in.Mood)
		e.Success = *in.Success
		e.UpdatedAt = now
		return tx.Set(path, data, storage.Merge())
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Entry{}, fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return Entry{}, apperr.WrapStore("updating entry", err)
	}
	return e, nil
}

// Delete removes an entry.
func (r *Entries) Delete(ctx context.Context, uid, date, id string) error {
	if err := CheckDate(date); err != nil {
		return err
	}
	err := r.store.Delete(ctx, EntriesCollection(uid, date)+"/"+id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	return apperr.WrapStore("deleting entry", err)
}

// Subscribe calls fn with the full entry list of a day, newest first, now
// and after every change.
func (r *Entries) Subscribe(ctx context.Context, uid, date string, fn func([]Entry, error)) (stop func()) {
	return r.store.WatchCollection(ctx, EntriesCollection(uid, date), func(snaps []storage.Snapshot, err error) {
		if err != nil {
			fn(nil, apperr.WrapStore("watching entries", err))
			return
		}
		fn(decodeEntries(snaps), nil)
	})
}
