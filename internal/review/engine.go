package review

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/sanitize"
	"github.com/kalambet/timeledger/internal/storage"
)

// Limits bounds the feedback history of one day. The two caps are
// independent: eviction keeps the retained list short while RunSeq keeps
// counting every run ever created.
type Limits struct {
	MaxRetainedRuns int
	MaxRunsPerDay   int
}

// DefaultLimits keeps the last 3 runs and allows 4 per day.
func DefaultLimits() Limits {
	return Limits{MaxRetainedRuns: 3, MaxRunsPerDay: 4}
}

// Engine appends feedback runs and reactions to review documents. Every
// mutation is a read-modify-write inside a store transaction, so concurrent
// callers on the same day serialize there.
type Engine struct {
	docs   *storage.Store
	limits Limits
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewEngine creates an Engine. Non-positive limits fall back to DefaultLimits.
func NewEngine(docs *storage.Store, limits Limits) *Engine {
	def := DefaultLimits()
	if limits.MaxRetainedRuns <= 0 {
		limits.MaxRetainedRuns = def.MaxRetainedRuns
	}
	if limits.MaxRunsPerDay <= 0 {
		limits.MaxRunsPerDay = def.MaxRunsPerDay
	}
	return &Engine{
		docs:   docs,
		limits: limits,
		logger: slog.Default(),
		now:    time.Now,
		newID:  storage.NewID,
	}
}

// Limits returns the caps the engine enforces.
func (e *Engine) Limits() Limits { return e.limits }

// AppendParams is everything a new run records. The generator has already
// produced Output; nothing here calls out of process. Reflection and
// Computed also seed the review document when it has none yet.
type AppendParams struct {
	UID            string
	Date           string
	Plan           *journal.Plan
	EntriesDigest  []journal.EntryDigest
	ComputedDigest journal.ComputedDigest
	Computed       journal.Computed
	Reflection     string
	UserNotes      string
	Output         journal.RunOutput
}

// AppendRun records a new active run for the day, supersedes the previous
// active run and evicts the oldest runs beyond MaxRetainedRuns. It fails
// with a PreconditionError once MaxRunsPerDay runs were created that day.
// A stored reflection or computed snapshot is never overwritten.
func (e *Engine) AppendRun(ctx context.Context, p AppendParams) (journal.FeedbackRun, error) {
	if err := journal.CheckDate(p.Date); err != nil {
		return journal.FeedbackRun{}, err
	}
	if strings.TrimSpace(p.Reflection) == "" {
		return journal.FeedbackRun{}, apperr.Validation("reflection", "reflection must not be empty")
	}
	out := p.Output.Normalize()
	if out.IsEmpty() {
		return journal.FeedbackRun{}, apperr.Validation("output", "generator output is empty")
	}

	digest := p.EntriesDigest
	if digest == nil {
		digest = []journal.EntryDigest{}
	}
	computed := p.ComputedDigest
	if computed.ByCategory == nil {
		computed.ByCategory = map[string]int{}
	}

	path := Path(p.UID, p.Date)
	var created journal.FeedbackRun
	err := e.docs.RunTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		snap, err := tx.Get(ctx, path)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		cur, err := journal.DecodeReview(snap)
		if err != nil {
			return err
		}
		var fb journal.Feedback
		if cur != nil {
			fb = cur.Feedback
		}

		nextSeq := fb.RunSeq + 1
		if nextSeq > e.limits.MaxRunsPerDay {
			return apperr.Precondition("daily feedback limit reached (%d/%d)", fb.RunSeq, e.limits.MaxRunsPerDay)
		}

		now := e.now()
		run := journal.FeedbackRun{
			RunID:     e.newID(),
			Seq:       nextSeq,
			CreatedAt: now,
			Status:    journal.RunCreated,
			Input: journal.RunInput{
				Date:               p.Date,
				PlanSnapshot:       p.Plan.Snapshot(),
				EntriesSnapshot:    journal.EntriesSnapshot{ItemsDigest: digest, ComputedDigest: computed},
				ReflectionSnapshot: p.Reflection,
				UserContext:        journal.UserContext{Notes: p.UserNotes},
				ParentRunID:        fb.ActiveRunID,
			},
			OutputText: out.Text,
			Output:     out.Structured,
		}

		runs := make([]journal.FeedbackRun, 0, len(fb.Runs)+1)
		for _, r := range fb.Runs {
			if fb.ActiveRunID != "" && r.RunID == fb.ActiveRunID {
				r.Status = journal.RunSuperseded
			}
			runs = append(runs, r)
		}
		runs = append(runs, run)
		slices.SortStableFunc(runs, func(a, b journal.FeedbackRun) int { return a.Seq - b.Seq })
		for len(runs) > e.limits.MaxRetainedRuns {
			runs = runs[1:]
		}

		payload := map[string]any{
			"feedback":  feedbackFields(run.RunID, nextSeq, runs),
			"updatedAt": journal.TimeField(now),
		}
		if snap.Data["createdAt"] == nil {
			payload["createdAt"] = journal.TimeField(now)
		}
		if cur == nil || strings.TrimSpace(cur.Reflection) == "" {
			payload["reflection"] = p.Reflection
		}
		if _, ok := snap.Data["computed"]; !ok {
			c := p.Computed
			if c.ByCategory == nil {
				c.ByCategory = map[string]int{}
			}
			payload["computed"] = c.Fields()
		}
		if err := sanitize.AssertNoMissing(payload, "feedback.append"); err != nil {
			return err
		}

		created = run
		return tx.Set(path, payload, storage.Merge())
	})
	if err != nil {
		return journal.FeedbackRun{}, apperr.WrapStore("appending feedback run", err)
	}

	e.logger.Info("feedback run created",
		"date", p.Date,
		"run_id", created.RunID,
		"seq", created.Seq,
		"parent_run_id", created.Input.ParentRunID,
	)
	return created, nil
}

// Reaction is the user's response to the active run.
type Reaction struct {
	Comment  string   `json:"comment"`
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// SaveReaction attaches r to the active run of the day, replacing any
// earlier reaction on it. Superseded runs are never touched.
func (e *Engine) SaveReaction(ctx context.Context, uid, date string, r Reaction) (journal.FeedbackRun, error) {
	if err := journal.CheckDate(date); err != nil {
		return journal.FeedbackRun{}, err
	}
	reaction := journal.UserReaction{
		Comment:  r.Comment,
		Accepted: nonNil(r.Accepted),
		Rejected: nonNil(r.Rejected),
	}

	path := Path(uid, date)
	var updated journal.FeedbackRun
	err := e.docs.RunTransaction(ctx, func(ctx context.Context, tx *storage.Tx) error {
		snap, err := tx.Get(ctx, path)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Precondition("review document not found")
		}
		if err != nil {
			return err
		}
		cur, err := journal.DecodeReview(snap)
		if err != nil {
			return err
		}
		fb := cur.Feedback
		if fb.ActiveRunID == "" {
			return apperr.Precondition("no active feedback run")
		}

		now := e.now()
		found := false
		runs := slices.Clone(fb.Runs)
		for i := range runs {
			if runs[i].RunID != fb.ActiveRunID {
				continue
			}
			rc := reaction
			rc.CreatedAt = now
			runs[i].UserReaction = &rc
			updated = runs[i]
			found = true
		}
		if !found {
			return apperr.Precondition("active feedback run %s is not in the history", fb.ActiveRunID)
		}

		payload := map[string]any{
			"feedback":  feedbackFields(fb.ActiveRunID, fb.RunSeq, runs),
			"updatedAt": journal.TimeField(now),
		}
		if err := sanitize.AssertNoMissing(payload, "feedback.reaction"); err != nil {
			return err
		}
		return tx.Set(path, payload, storage.Merge())
	})
	if err != nil {
		return journal.FeedbackRun{}, apperr.WrapStore("saving reaction", err)
	}
	e.logger.Info("feedback reaction saved", "date", date, "run_id", updated.RunID)
	return updated, nil
}

// Remaining reports how many more runs may be created for the day.
func (e *Engine) Remaining(ctx context.Context, uid, date string) (int, error) {
	if err := journal.CheckDate(date); err != nil {
		return 0, err
	}
	snap, err := e.docs.Get(ctx, Path(uid, date))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, apperr.WrapStore("reading review", err)
	}
	doc, err := journal.DecodeReview(snap)
	if err != nil {
		return 0, apperr.WrapStore("decoding review", err)
	}
	used := 0
	if doc != nil {
		used = doc.Feedback.RunSeq
	}
	return max(e.limits.MaxRunsPerDay-used, 0), nil
}

// feedbackFields builds the stored container. Each run is stripped of
// unset optional fields; anything else left Missing is a bug that
// AssertNoMissing reports.
func feedbackFields(activeRunID string, runSeq int, runs []journal.FeedbackRun) map[string]any {
	stored := make([]any, len(runs))
	for i, r := range runs {
		stored[i] = sanitize.RemoveMissing(r.Fields())
	}
	return map[string]any{
		"activeRunId": activeRunID,
		"runSeq":      runSeq,
		"runs":        stored,
	}
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
