package journal

import (
	"fmt"
	"time"

	"github.com/kalambet/timeledger/internal/sanitize"
	"github.com/kalambet/timeledger/internal/storage"
)

// The Fields methods build the stored form of each type. Optional values
// that are unset come out as sanitize.Missing, never as a zero value, so
// callers strip them with sanitize.RemoveMissing before writing.

// TimeField formats t for storage, or returns sanitize.Missing for the zero time.
func TimeField(t time.Time) any {
	if t.IsZero() {
		return sanitize.Missing
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stringsField(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func countsField(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func planItemsField(items []PlanItem) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = map[string]any{"text": it.Text, "done": it.Done}
	}
	return out
}

// Fields returns the stored form of c.
func (c Computed) Fields() map[string]any {
	return map[string]any{
		"totalMinutes": c.TotalMinutes,
		"entryCount":   c.EntryCount,
		"successCount": c.SuccessCount,
		"planTotal":    c.PlanTotal,
		"planDone":     c.PlanDone,
		"byCategory":   countsField(c.ByCategory),
	}
}

func (d ComputedDigest) fields() map[string]any {
	return map[string]any{
		"totalMinutes": d.TotalMinutes,
		"entryCount":   d.EntryCount,
		"successCount": d.SuccessCount,
		"byCategory":   countsField(d.ByCategory),
	}
}

func (d EntryDigest) fields() map[string]any {
	return map[string]any{
		"text":     d.Text,
		"minutes":  d.Minutes,
		"category": d.Category,
		"mood":     d.Mood,
		"success":  d.Success,
	}
}

// Fields returns the stored form of in.
func (in RunInput) Fields() map[string]any {
	digest := make([]any, len(in.EntriesSnapshot.ItemsDigest))
	for i, d := range in.EntriesSnapshot.ItemsDigest {
		digest[i] = d.fields()
	}
	parent := sanitize.Missing
	if in.ParentRunID != "" {
		parent = in.ParentRunID
	}
	return map[string]any{
		"date": in.Date,
		"planSnapshot": map[string]any{
			"top3": planItemsField(in.PlanSnapshot.Top3),
			"note": in.PlanSnapshot.Note,
		},
		"entriesSnapshot": map[string]any{
			"itemsDigest":    digest,
			"computedDigest": in.EntriesSnapshot.ComputedDigest.fields(),
		},
		"reflectionSnapshot": in.ReflectionSnapshot,
		"userContext":        map[string]any{"notes": in.UserContext.Notes},
		"parentRunId":        parent,
	}
}

// Fields returns the stored form of o, or sanitize.Missing for nil.
func (o *StructuredOutput) Fields() any {
	if o == nil {
		return sanitize.Missing
	}
	return map[string]any{
		"summary":                o.Summary,
		"gaps":                   stringsField(o.Gaps),
		"praise":                 stringsField(o.Praise),
		"improve":                stringsField(o.Improve),
		"tomorrowTop3Suggestion": stringsField(o.TomorrowTop3Suggestion),
	}
}

// Fields returns the stored form of u, or sanitize.Missing for nil.
func (u *UserReaction) Fields() any {
	if u == nil {
		return sanitize.Missing
	}
	return map[string]any{
		"comment":   u.Comment,
		"accepted":  stringsField(u.Accepted),
		"rejected":  stringsField(u.Rejected),
		"createdAt": TimeField(u.CreatedAt),
	}
}

// Fields returns the stored form of r.
func (r FeedbackRun) Fields() map[string]any {
	text := sanitize.Missing
	if r.OutputText != "" {
		text = r.OutputText
	}
	return map[string]any{
		"runId":        r.RunID,
		"seq":          r.Seq,
		"createdAt":    TimeField(r.CreatedAt),
		"status":       string(r.Status),
		"input":        r.Input.Fields(),
		"outputText":   text,
		"output":       r.Output.Fields(),
		"userReaction": r.UserReaction.Fields(),
	}
}

// Fields returns the stored form of f. Runs are included as given; callers
// that embed freshly built runs strip them first.
func (f Feedback) Fields() map[string]any {
	runs := make([]any, len(f.Runs))
	for i, r := range f.Runs {
		runs[i] = r.Fields()
	}
	var active any
	if f.ActiveRunID != "" {
		active = f.ActiveRunID
	}
	return map[string]any{
		"activeRunId": active,
		"runSeq":      f.RunSeq,
		"runs":        runs,
	}
}

// DecodeReview converts a review document snapshot. It returns nil for a
// snapshot of an absent document.
func DecodeReview(snap storage.Snapshot) (*ReviewDoc, error) {
	if !snap.Exists {
		return nil, nil
	}
	var doc ReviewDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	if doc.Computed.ByCategory == nil {
		doc.Computed.ByCategory = map[string]int{}
	}
	if doc.Feedback.Runs == nil {
		doc.Feedback.Runs = []FeedbackRun{}
	}
	return &doc, nil
}

// DecodeEntry converts an entry snapshot leniently: non-numeric minutes
// become 0, unknown categories and moods fall back to their defaults and a
// missing success flag counts as success.
func DecodeEntry(snap storage.Snapshot) Entry {
	d := snap.Data
	e := Entry{
		ID:       snap.ID,
		Category: CategoryOther,
		Mood:     MoodNeutral,
		Success:  true,
	}
	switch t := d["text"].(type) {
	case string:
		e.Text = t
	case nil:
	default:
		e.Text = fmt.Sprint(t)
	}
	if m, ok := d["minutes"].(float64); ok {
		e.Minutes = clampFloatMinutes(m)
	}
	if c, ok := d["category"].(string); ok {
		e.Category = ParseCategory(c)
	}
	if m, ok := d["mood"].(string); ok {
		e.Mood = ParseMood(m)
	}
	if s, ok := d["success"].(bool); ok {
		e.Success = s
	}
	e.CreatedAt = timeValue(d["createdAt"])
	e.UpdatedAt = timeValue(d["updatedAt"])
	return e
}

// DecodePlan converts a plan snapshot, normalizing it to PlanSlots goals.
// It returns nil for a snapshot of an absent document.
func DecodePlan(snap storage.Snapshot) *Plan {
	if !snap.Exists {
		return nil
	}
	d := snap.Data
	p := &Plan{}
	if raw, ok := d["top3"].([]any); ok {
		for _, it := range raw {
			m, _ := it.(map[string]any)
			text, _ := m["text"].(string)
			done, _ := m["done"].(bool)
			p.Top3 = append(p.Top3, PlanItem{Text: text, Done: done})
		}
	}
	p.Top3 = NormalizeTop3(p.Top3)
	p.Note, _ = d["note"].(string)
	p.CreatedAt = timeValue(d["createdAt"])
	p.UpdatedAt = timeValue(d["updatedAt"])
	return p
}

func timeValue(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
