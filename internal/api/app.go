package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/timeledger/internal/daybook"
	"github.com/kalambet/timeledger/internal/generator"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/profile"
	"github.com/kalambet/timeledger/internal/review"
)

// Completer answers raw generation requests for the /generate endpoint,
// which speaks the same protocol generator.Remote consumes.
type Completer interface {
	Complete(ctx context.Context, req generator.Request) (generator.Response, error)
	ListModels(ctx context.Context) ([]generator.Model, error)
}

type AppDeps struct {
	Service   *daybook.Service
	UID       string
	Token     string
	Completer Completer // optional; if nil, /generate and /generator/models are not mounted
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/today", handleToday(deps))
		r.Route("/days/{date}", func(r chi.Router) {
			r.Get("/", handleGetDay(deps))

			r.Get("/entries", handleListEntries(deps))
			r.Post("/entries", handleAddEntry(deps))
			r.Put("/entries/{id}", handleUpdateEntry(deps))
			r.Delete("/entries/{id}", handleDeleteEntry(deps))

			r.Get("/plan", handleGetPlan(deps))
			r.Put("/plan", handleSavePlan(deps))

			r.Get("/review", handleGetReview(deps))
			r.Put("/review", handleSaveReview(deps))
			r.Get("/review/events", handleReviewEvents(deps))

			r.Post("/feedback", handleGenerateFeedback(deps))
			r.Post("/feedback/reaction", handleReaction(deps))
		})

		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))

		if deps.Completer != nil {
			r.Post("/generate", handleGenerate(deps.Completer))
			r.Get("/generator/models", handleModels(deps.Completer))
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleToday(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date, err := deps.Service.Today(r.Context(), deps.UID)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := deps.Service.Day(r.Context(), deps.UID, date)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleGetDay(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := deps.Service.Day(r.Context(), deps.UID, chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Service.Entries.List(r.Context(), deps.UID, chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []journal.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleAddEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in journal.EntryInput
		if !decodeBody(w, r, &in) {
			return
		}
		e, err := deps.Service.Entries.Add(r.Context(), deps.UID, chi.URLParam(r, "date"), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func handleUpdateEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in journal.EntryInput
		if !decodeBody(w, r, &in) {
			return
		}
		e, err := deps.Service.Entries.Update(r.Context(), deps.UID, chi.URLParam(r, "date"), chi.URLParam(r, "id"), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func handleDeleteEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Entries.Delete(r.Context(), deps.UID, chi.URLParam(r, "date"), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Service.Plans.Get(r.Context(), deps.UID, chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type planRequest struct {
	Top3 []journal.PlanItem `json:"top3"`
	Note string             `json:"note"`
}

func handleSavePlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planRequest
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := deps.Service.Plans.Save(r.Context(), deps.UID, chi.URLParam(r, "date"), req.Top3, req.Note)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleGetReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Service.Reviews.Get(r.Context(), deps.UID, chi.URLParam(r, "date"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

type reviewRequest struct {
	Reflection string `json:"reflection"`
}

func handleSaveReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		doc, err := deps.Service.SaveReview(r.Context(), deps.UID, chi.URLParam(r, "date"), req.Reflection)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleGenerateFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req daybook.FeedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		run, err := deps.Service.GenerateFeedback(r.Context(), deps.UID, chi.URLParam(r, "date"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	}
}

func handleReaction(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req review.Reaction
		if !decodeBody(w, r, &req) {
			return
		}
		run, err := deps.Service.React(r.Context(), deps.UID, chi.URLParam(r, "date"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Service.Profiles.GetProfile(r.Context(), deps.UID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]string
		if !decodeBody(w, r, &fields) {
			return
		}

		// Timezone first so an invalid zone rejects the whole patch.
		if tz, ok := fields[profile.FieldTimezone]; ok {
			if err := deps.Service.Profiles.SetField(r.Context(), deps.UID, profile.FieldTimezone, tz); err != nil {
				writeError(w, err)
				return
			}
		}
		for key, value := range fields {
			if key == profile.FieldTimezone {
				continue
			}
			if err := deps.Service.Profiles.SetField(r.Context(), deps.UID, key, value); err != nil {
				writeError(w, err)
				return
			}
		}

		p, err := deps.Service.Profiles.GetProfile(r.Context(), deps.UID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
