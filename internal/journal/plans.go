package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/storage"
)

// PlanPath is the path of the plan document of one day.
func PlanPath(uid, date string) string {
	return storage.Doc("users", uid, "days", date, "plan", "main")
}

// Plans reads and writes day plans.
type Plans struct {
	store  *storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewPlans creates a plan repository on store.
func NewPlans(store *storage.Store) *Plans {
	return &Plans{store: store, logger: slog.Default(), now: time.Now}
}

// Get returns the plan of a day, or nil when none was saved.
func (r *Plans) Get(ctx context.Context, uid, date string) (*Plan, error) {
	if err := CheckDate(date); err != nil {
		return nil, err
	}
	snap, err := r.store.Get(ctx, PlanPath(uid, date))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.WrapStore("reading plan", err)
	}
	return DecodePlan(snap), nil
}

// Save merge-writes the goals and note of a day. createdAt is written on
// the first save only.
func (r *Plans) Save(ctx context.Context, uid, date string, top3 []PlanItem, note string) (Plan, error) {
	if err := CheckDate(date); err != nil {
		return Plan{}, err
	}
	path := PlanPath(uid, date)
	cur, err := r.Get(ctx, uid, date)
	if err != nil {
		return Plan{}, err
	}

	now := r.now()
	p := Plan{
		Top3:      NormalizeTop3(top3),
		Note:      truncateRunes(note, maxPlanNoteRunes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	data := map[string]any{
		"top3":      planItemsField(p.Top3),
		"note":      p.Note,
		"updatedAt": TimeField(now),
	}
	if cur != nil && !cur.CreatedAt.IsZero() {
		p.CreatedAt = cur.CreatedAt
	} else {
		data["createdAt"] = TimeField(now)
	}

	if err := r.store.Set(ctx, path, data, storage.Merge()); err != nil {
		return Plan{}, apperr.WrapStore("saving plan", err)
	}
	r.logger.Debug("plan saved", "date", date, "done", countDone(p.Top3))
	return p, nil
}

// Subscribe calls fn with the plan of a day (nil when absent), now and
// after every change.
func (r *Plans) Subscribe(ctx context.Context, uid, date string, fn func(*Plan, error)) (stop func()) {
	return r.store.Watch(ctx, PlanPath(uid, date), func(snap storage.Snapshot, err error) {
		if err != nil {
			fn(nil, apperr.WrapStore("watching plan", err))
			return
		}
		fn(DecodePlan(snap), nil)
	})
}

func countDone(items []PlanItem) int {
	n := 0
	for _, it := range items {
		if it.Done {
			n++
		}
	}
	return n
}
