package journal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/sanitize"
)

// RunStatus is the lifecycle state of a feedback run. A run starts as
// RunCreated and moves to RunSuperseded when a newer run replaces it; it
// never goes back.
type RunStatus string

const (
	RunCreated    RunStatus = "created"
	RunSuperseded RunStatus = "superseded"
)

// PlanSnapshot is the plan as it was when a run was requested.
type PlanSnapshot struct {
	Top3 []PlanItem `json:"top3"`
	Note string     `json:"note"`
}

// EntriesSnapshot is the bounded view of the day's entries sent with a run.
type EntriesSnapshot struct {
	ItemsDigest    []EntryDigest  `json:"itemsDigest"`
	ComputedDigest ComputedDigest `json:"computedDigest"`
}

// UserContext carries the free-text notes the user attached to a request.
type UserContext struct {
	Notes string `json:"notes"`
}

// RunInput is the exact data a run was generated from. ParentRunID names
// the run that was active when this one was created, if any.
type RunInput struct {
	Date               string          `json:"date"`
	PlanSnapshot       PlanSnapshot    `json:"planSnapshot"`
	EntriesSnapshot    EntriesSnapshot `json:"entriesSnapshot"`
	ReflectionSnapshot string          `json:"reflectionSnapshot"`
	UserContext        UserContext     `json:"userContext"`
	ParentRunID        string          `json:"parentRunId,omitempty"`
}

// StructuredOutput is the older five-section generator response.
type StructuredOutput struct {
	Summary                string   `json:"summary"`
	Gaps                   []string `json:"gaps"`
	Praise                 []string `json:"praise"`
	Improve                []string `json:"improve"`
	TomorrowTop3Suggestion []string `json:"tomorrowTop3Suggestion"`
}

// IsEmpty reports whether o carries no content at all.
func (o *StructuredOutput) IsEmpty() bool {
	if o == nil {
		return true
	}
	return strings.TrimSpace(o.Summary) == "" &&
		len(o.Gaps) == 0 && len(o.Praise) == 0 &&
		len(o.Improve) == 0 && len(o.TomorrowTop3Suggestion) == 0
}

// Render formats o as sectioned plain text.
func (o *StructuredOutput) Render() string {
	if o == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[1) One-line summary]\n")
	if o.Summary != "" {
		b.WriteString("- " + o.Summary + "\n")
	} else {
		b.WriteString("-\n")
	}
	section := func(title string, items []string) {
		b.WriteString("\n" + title + "\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
	}
	section("[2) Behavior accounting]", o.Gaps)
	section("[3) What went well]", o.Praise)
	section("[4) Improvement points]", o.Improve)
	section("[5) Tomorrow's top 3]", o.TomorrowTop3Suggestion)
	return strings.TrimRight(b.String(), "\n")
}

// RunOutput is what a generator returned: free text, the older structured
// shape, or both after normalization.
type RunOutput struct {
	Text       string
	Structured *StructuredOutput
}

// Normalize trims the text and, when only the structured shape is present,
// renders it into Text so every run has a display string. The structured
// value is kept.
func (o RunOutput) Normalize() RunOutput {
	o.Text = strings.TrimSpace(o.Text)
	if o.Structured != nil && o.Structured.IsEmpty() {
		o.Structured = nil
	}
	if o.Text == "" && o.Structured != nil {
		o.Text = o.Structured.Render()
	}
	return o
}

// IsEmpty reports whether neither representation has content.
func (o RunOutput) IsEmpty() bool {
	return strings.TrimSpace(o.Text) == "" && o.Structured.IsEmpty()
}

// UserReaction is the user's response to a run.
type UserReaction struct {
	Comment   string    `json:"comment"`
	Accepted  []string  `json:"accepted"`
	Rejected  []string  `json:"rejected"`
	CreatedAt time.Time `json:"createdAt"`
}

// FeedbackRun is one persisted generator invocation.
type FeedbackRun struct {
	RunID        string            `json:"runId"`
	Seq          int               `json:"seq"`
	CreatedAt    time.Time         `json:"createdAt"`
	Status       RunStatus         `json:"status"`
	Input        RunInput          `json:"input"`
	OutputText   string            `json:"outputText,omitempty"`
	Output       *StructuredOutput `json:"output,omitempty"`
	UserReaction *UserReaction     `json:"userReaction,omitempty"`
}

// DisplayText returns the text to show for r.
func (r FeedbackRun) DisplayText() string {
	if strings.TrimSpace(r.OutputText) != "" {
		return r.OutputText
	}
	return r.Output.Render()
}

// Feedback is the per-day run history. ActiveRunID is empty when no run
// is active and is stored as null.
type Feedback struct {
	ActiveRunID string        `json:"activeRunId"`
	RunSeq      int           `json:"runSeq"`
	Runs        []FeedbackRun `json:"runs"`
}

// Active returns the run ActiveRunID points at, or nil.
func (f Feedback) Active() *FeedbackRun {
	if f.ActiveRunID == "" {
		return nil
	}
	for i := range f.Runs {
		if f.Runs[i].RunID == f.ActiveRunID {
			return &f.Runs[i]
		}
	}
	return nil
}

// MarshalJSON writes the stored form, with a null activeRunId when no run
// is active.
func (f Feedback) MarshalJSON() ([]byte, error) {
	return json.Marshal(sanitize.RemoveMissing(f.Fields()))
}

// ReviewDoc is the single review document of a day.
type ReviewDoc struct {
	Reflection string    `json:"reflection"`
	Computed   Computed  `json:"computed"`
	Feedback   Feedback  `json:"feedback"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}
