// Package daybook composes the journal repositories, the review store, the
// feedback engine and the generator into the operations callers use for
// one day of one user.
package daybook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/daily"
	"github.com/kalambet/timeledger/internal/generator"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/profile"
	"github.com/kalambet/timeledger/internal/review"
	"github.com/kalambet/timeledger/internal/storage"
)

// Options tunes a Service. Zero values select defaults.
type Options struct {
	Limits      review.Limits
	DigestLimit int
	Logger      *slog.Logger
}

// Service is the operation boundary over one document store.
type Service struct {
	Entries  *journal.Entries
	Plans    *journal.Plans
	Reviews  *review.Store
	Engine   *review.Engine
	Profiles *profile.Manager

	gen         generator.Generator
	digestLimit int
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New wires a Service on store. gen may be nil, in which case feedback
// requests fail with an external service error.
func New(store *storage.Store, profiles *profile.Manager, gen generator.Generator, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.DigestLimit
	if limit <= 0 {
		limit = daily.DefaultDigestLimit
	}
	return &Service{
		Entries:     journal.NewEntries(store),
		Plans:       journal.NewPlans(store),
		Reviews:     review.NewStore(store),
		Engine:      review.NewEngine(store, opts.Limits),
		Profiles:    profiles,
		gen:         gen,
		digestLimit: limit,
		logger:      logger,
		inflight:    make(map[string]struct{}),
	}
}

// Bundle is everything known about one day.
type Bundle struct {
	Date      string             `json:"date"`
	Entries   []journal.Entry    `json:"entries"`
	Plan      *journal.Plan      `json:"plan"`
	Review    *journal.ReviewDoc `json:"review"`
	Computed  journal.Computed   `json:"computed"`
	Remaining int                `json:"remaining"`
	Limits    review.Limits      `json:"limits"`
}

// Active returns the active feedback run of the day, or nil.
func (b Bundle) Active() *journal.FeedbackRun {
	if b.Review == nil {
		return nil
	}
	return b.Review.Feedback.Active()
}

// Today returns the current day key of uid.
func (s *Service) Today(ctx context.Context, uid string) (string, error) {
	return s.Profiles.Today(ctx, uid)
}

// Day loads entries, plan and review of a day concurrently and computes the
// live snapshot from the entries and plan.
func (s *Service) Day(ctx context.Context, uid, date string) (Bundle, error) {
	if err := journal.CheckDate(date); err != nil {
		return Bundle{}, err
	}
	b := Bundle{Date: date, Limits: s.Engine.Limits()}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		b.Entries, err = s.Entries.List(gCtx, uid, date)
		return err
	})
	g.Go(func() error {
		var err error
		b.Plan, err = s.Plans.Get(gCtx, uid, date)
		return err
	})
	g.Go(func() error {
		var err error
		b.Review, err = s.Reviews.Get(gCtx, uid, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}

	b.Computed = daily.Compute(b.Entries, b.Plan)
	b.Remaining = b.Limits.MaxRunsPerDay
	if b.Review != nil {
		b.Remaining = max(b.Limits.MaxRunsPerDay-b.Review.Feedback.RunSeq, 0)
	}
	return b, nil
}

// SaveReview stores the reflection of a day together with a fresh computed
// snapshot.
func (s *Service) SaveReview(ctx context.Context, uid, date, reflection string) (journal.ReviewDoc, error) {
	b, err := s.Day(ctx, uid, date)
	if err != nil {
		return journal.ReviewDoc{}, err
	}
	return s.Reviews.SaveReflectionAndSnapshot(ctx, uid, date, reflection, b.Computed)
}

// FeedbackRequest asks for a new feedback run. An empty Reflection uses
// the stored one.
type FeedbackRequest struct {
	Reflection string `json:"reflection"`
	UserNotes  string `json:"userNotes"`
}

// GenerateFeedback creates a new feedback run for a day. The run cap is
// checked before the generator is called, the generator is called outside
// any transaction, and the engine then appends the run transactionally.
// The review document changes only when the run commits. A second request
// for the same day while one is generating fails with a PreconditionError.
func (s *Service) GenerateFeedback(ctx context.Context, uid, date string, req FeedbackRequest) (journal.FeedbackRun, error) {
	if err := journal.CheckDate(date); err != nil {
		return journal.FeedbackRun{}, err
	}
	key := uid + "/" + date
	if !s.begin(key) {
		s.logger.Debug("feedback request rejected, generation in progress", "date", date)
		return journal.FeedbackRun{}, apperr.Precondition("feedback generation already in progress")
	}
	defer s.end(key)
	return s.generateFeedback(ctx, uid, date, req)
}

func (s *Service) begin(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) end(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

func (s *Service) generateFeedback(ctx context.Context, uid, date string, req FeedbackRequest) (journal.FeedbackRun, error) {
	b, err := s.Day(ctx, uid, date)
	if err != nil {
		return journal.FeedbackRun{}, err
	}

	reflection := strings.TrimSpace(req.Reflection)
	if reflection == "" && b.Review != nil {
		reflection = strings.TrimSpace(b.Review.Reflection)
	}
	if reflection == "" {
		return journal.FeedbackRun{}, apperr.Validation("reflection", "write a reflection before requesting feedback")
	}
	if b.Remaining <= 0 {
		return journal.FeedbackRun{}, apperr.Precondition("daily feedback limit reached (%d/%d)", b.Review.Feedback.RunSeq, b.Limits.MaxRunsPerDay)
	}
	if s.gen == nil {
		return journal.FeedbackRun{}, apperr.External("generator", nil, "no generator configured")
	}

	plan := b.Plan.Snapshot()
	digest := daily.DigestList(b.Entries, s.digestLimit)
	computed := b.Computed.Digest()

	start := time.Now()
	out, err := s.gen.Generate(ctx, generator.Request{
		Date:           date,
		Plan:           &plan,
		EntriesDigest:  digest,
		ComputedDigest: computed,
		Reflection:     reflection,
		UserNotes:      req.UserNotes,
	})
	if err != nil {
		s.logger.Warn("feedback generation failed", "date", date, "error", err)
		return journal.FeedbackRun{}, fmt.Errorf("generating feedback: %w", err)
	}
	s.logger.Debug("feedback generated", "date", date, "elapsed", time.Since(start))

	return s.Engine.AppendRun(ctx, review.AppendParams{
		UID:            uid,
		Date:           date,
		Plan:           b.Plan,
		EntriesDigest:  digest,
		ComputedDigest: computed,
		Computed:       b.Computed,
		Reflection:     reflection,
		UserNotes:      req.UserNotes,
		Output:         out,
	})
}

// React attaches a reaction to the active run of a day.
func (s *Service) React(ctx context.Context, uid, date string, r review.Reaction) (journal.FeedbackRun, error) {
	return s.Engine.SaveReaction(ctx, uid, date, r)
}
