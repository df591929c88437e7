// Package review persists the per-day review document and runs the
// feedback-run lifecycle inside it.
package review

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/sanitize"
	"github.com/kalambet/timeledger/internal/storage"
)

// Path is the path of the review document of one day.
func Path(uid, date string) string {
	return storage.Doc("users", uid, "days", date, "review", "main")
}

// emptyFeedback is the container of a day without runs.
func emptyFeedback() map[string]any {
	return journal.Feedback{Runs: []journal.FeedbackRun{}}.Fields()
}

// Store reads and writes review documents.
type Store struct {
	docs   *storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a review Store on docs.
func NewStore(docs *storage.Store) *Store {
	return &Store{docs: docs, logger: slog.Default(), now: time.Now}
}

// Get returns the review of a day, or nil when none exists yet.
func (s *Store) Get(ctx context.Context, uid, date string) (*journal.ReviewDoc, error) {
	if err := journal.CheckDate(date); err != nil {
		return nil, err
	}
	snap, err := s.docs.Get(ctx, Path(uid, date))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.WrapStore("reading review", err)
	}
	doc, err := journal.DecodeReview(snap)
	if err != nil {
		return nil, apperr.WrapStore("decoding review", err)
	}
	return doc, nil
}

// SaveReflectionAndSnapshot stores the reflection text and the latest
// computed snapshot. The feedback container is left exactly as stored; a
// new document starts with an empty one. Saving unchanged values writes
// nothing.
func (s *Store) SaveReflectionAndSnapshot(ctx context.Context, uid, date, reflection string, computed journal.Computed) (journal.ReviewDoc, error) {
	if err := journal.CheckDate(date); err != nil {
		return journal.ReviewDoc{}, err
	}
	if computed.ByCategory == nil {
		computed.ByCategory = map[string]int{}
	}
	path := Path(uid, date)

	var saved journal.ReviewDoc
	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		snap, err := tx.Get(ctx, path)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		cur, err := journal.DecodeReview(snap)
		if err != nil {
			return err
		}

		if cur != nil && cur.Reflection == reflection && sameComputed(cur.Computed, computed) {
			saved = *cur
			return nil
		}

		now := s.now()
		payload := map[string]any{
			"reflection": reflection,
			"computed":   computed.Fields(),
			"updatedAt":  journal.TimeField(now),
		}
		if cur == nil {
			payload["feedback"] = emptyFeedback()
			payload["createdAt"] = journal.TimeField(now)
			saved = journal.ReviewDoc{Feedback: journal.Feedback{Runs: []journal.FeedbackRun{}}, CreatedAt: now}
		} else {
			saved = *cur
		}
		if err := sanitize.AssertNoMissing(payload, "review.save"); err != nil {
			return err
		}
		saved.Reflection = reflection
		saved.Computed = computed
		saved.UpdatedAt = now
		return tx.Set(path, payload, storage.Merge())
	})
	if err != nil {
		return journal.ReviewDoc{}, apperr.WrapStore("saving review", err)
	}
	s.logger.Debug("review saved", "date", date, "total_minutes", computed.TotalMinutes)
	return saved, nil
}

func sameComputed(a, b journal.Computed) bool {
	return a.TotalMinutes == b.TotalMinutes &&
		a.EntryCount == b.EntryCount &&
		a.SuccessCount == b.SuccessCount &&
		a.PlanTotal == b.PlanTotal &&
		a.PlanDone == b.PlanDone &&
		maps.Equal(a.ByCategory, b.ByCategory)
}

// Subscribe calls fn with the full review document of a day (nil when
// absent), now and after every change. Each call replaces the previous
// state; nothing is sent as a delta.
func (s *Store) Subscribe(ctx context.Context, uid, date string, fn func(*journal.ReviewDoc, error)) (stop func()) {
	return s.docs.Watch(ctx, Path(uid, date), func(snap storage.Snapshot, err error) {
		if err != nil {
			fn(nil, apperr.WrapStore("watching review", err))
			return
		}
		doc, err := journal.DecodeReview(snap)
		if err != nil {
			fn(nil, apperr.WrapStore("decoding review", err))
			return
		}
		fn(doc, nil)
	})
}
