package generator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/timeledger/internal/journal"
)

const (
	placeholder        = "—"
	maxBreakdownItems  = 8
	promptPlanSlots    = 3
	unknownDatePattern = "yyyy-mm-dd"
)

// SystemPrompt fixes the coach persona, tone, length and the five output
// sections of every review.
const SystemPrompt = `You are the Daily Reflective Behavioral Coach for a time-ledger application.

Your role balances:
- 40% self-reflection (insight, meaning, internal patterns)
- 40% behavioral accounting (evidence-based analysis using time data)
- 20% productivity optimization (clear and realistic next steps)

Core principles:
- Base all judgments on provided data.
- Do not give generic motivation.
- Do not over-praise or over-criticize.
- No therapy tone. No cliches.
- Be calm, analytical, and precise.
- Every paragraph must add new information.
- Avoid repetition.

Length requirement:
- Total output must be between 250 and 400 words.
- Keep it within one structured page.

Formatting rules:
- Use the exact section headers below.
- Each section must contain 2-5 bullet points.
- Do not add extra sections.
- Do not repeat user input verbatim.
- Use short but meaningful sentences.

Focus:
This is not a diary summary.
This is an evidence-based behavioral analysis with reflective depth.

Required Output Format (fixed):

[1) One-line summary]
- ...

[2) Behavior accounting]
- ...

[3) Patterns and likely causes]
- ...

[4) Productivity corrections]
- ...

[5) Self-reflection points]
- ...`

// PlanSlot is a plan goal as the model sees it.
type PlanSlot struct {
	Text       string
	PlannedMin *float64
}

// CategoryMinutes is one row of the category breakdown.
type CategoryMinutes struct {
	Category string
	Minutes  float64
}

// ActualSummary splits tracked time. Only Total is derived today; the rest
// stay nil until entries carry that detail.
type ActualSummary struct {
	TotalTrackedMin *float64
	DeepFocusMin    *float64
	ShallowWorkMin  *float64
	DistractionMin  *float64
	RestHealthMin   *float64
}

// Outcome describes how the plan went.
type Outcome struct {
	Completed              string
	PartiallyDone          string
	NotDone                string
	BiggestDeviationReason string
}

// MoodEnergy holds 1-5 scores, nil when unscored.
type MoodEnergy struct {
	AvgMood              *float64
	Energy               *float64
	NotableEmotionEvents string
}

// Reflection is the user's own reading of the day.
type Reflection struct {
	WhatWentWell     string
	WhatWasDifficult string
	WhyItHappened    string
	OneThingLearned  string
}

// PromptInput is the structured day snapshot rendered into the user message.
type PromptInput struct {
	Date              string
	PlanTop3          []PlanSlot
	Actual            ActualSummary
	CategoryBreakdown []CategoryMinutes
	Outcome           Outcome
	MoodEnergy        MoodEnergy
	Reflection        Reflection
}

// NewPromptInput maps a request onto the prompt structure.
func NewPromptInput(req Request) PromptInput {
	notes := strings.TrimSpace(req.UserNotes)
	orDash := func(s string) string {
		if s == "" {
			return placeholder
		}
		return s
	}

	in := PromptInput{Date: strings.TrimSpace(req.Date)}
	if in.Date == "" {
		in.Date = unknownDatePattern
	}

	var completed, notDone []string
	if req.Plan != nil {
		for i, it := range req.Plan.Top3 {
			text := strings.TrimSpace(it.Text)
			if i < promptPlanSlots {
				in.PlanTop3 = append(in.PlanTop3, PlanSlot{Text: text})
			}
			if text == "" {
				continue
			}
			if it.Done {
				completed = append(completed, text)
			} else {
				notDone = append(notDone, text)
			}
		}
	}

	total := float64(max(req.ComputedDigest.TotalMinutes, 0))
	in.Actual.TotalTrackedMin = &total

	for cat, m := range req.ComputedDigest.ByCategory {
		in.CategoryBreakdown = append(in.CategoryBreakdown, CategoryMinutes{Category: cat, Minutes: float64(max(m, 0))})
	}
	sort.SliceStable(in.CategoryBreakdown, func(i, j int) bool {
		a, b := in.CategoryBreakdown[i], in.CategoryBreakdown[j]
		if a.Minutes != b.Minutes {
			return a.Minutes > b.Minutes
		}
		return a.Category < b.Category
	})
	if len(in.CategoryBreakdown) > maxBreakdownItems {
		in.CategoryBreakdown = in.CategoryBreakdown[:maxBreakdownItems]
	}

	in.Outcome = Outcome{
		Completed:              orDash(strings.Join(completed, ", ")),
		PartiallyDone:          placeholder,
		NotDone:                orDash(strings.Join(notDone, ", ")),
		BiggestDeviationReason: orDash(notes),
	}

	in.MoodEnergy = MoodEnergy{AvgMood: averageMood(req), NotableEmotionEvents: orDash(notes)}

	in.Reflection = Reflection{
		WhatWentWell:     orDash(strings.TrimSpace(req.Reflection)),
		WhatWasDifficult: placeholder,
		WhyItHappened:    orDash(notes),
		OneThingLearned:  placeholder,
	}
	return in
}

// averageMood scores the digest's moods great=5 .. awful=1, or nil when
// no entry has a known mood.
func averageMood(req Request) *float64 {
	sum, n := 0, 0
	for _, e := range req.EntriesDigest {
		if s := journal.Mood(e.Mood).Score(); s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	return &avg
}

// BuildUserMessage renders in as the fixed sectioned user message. Blank
// text becomes a dash, minutes are rounded and never negative, and scores
// are clamped to 1-5.
func BuildUserMessage(in PromptInput) string {
	lines := []string{
		"[DATE] " + safeLine(in.Date, unknownDatePattern),
		"",
		"[PLAN TOP3]",
	}
	for i := range promptPlanSlots {
		var slot PlanSlot
		if i < len(in.PlanTop3) {
			slot = in.PlanTop3[i]
		}
		lines = append(lines, fmt.Sprintf("%d) %s / planned %sm", i+1, safeLine(slot.Text, placeholder), formatMin(slot.PlannedMin)))
	}

	lines = append(lines,
		"",
		"[ACTUAL SUMMARY]",
		"- Total tracked: "+formatMin(in.Actual.TotalTrackedMin)+"m",
		"- Deep focus: "+formatMin(in.Actual.DeepFocusMin)+"m",
		"- Shallow work: "+formatMin(in.Actual.ShallowWorkMin)+"m",
		"- Distraction: "+formatMin(in.Actual.DistractionMin)+"m",
		"- Rest/health: "+formatMin(in.Actual.RestHealthMin)+"m",
		"",
		"[CATEGORY BREAKDOWN]",
	)
	breakdown := in.CategoryBreakdown
	if len(breakdown) > maxBreakdownItems {
		breakdown = breakdown[:maxBreakdownItems]
	}
	for _, b := range breakdown {
		m := b.Minutes
		lines = append(lines, "- "+safeLine(b.Category, placeholder)+": "+formatMin(&m)+"m")
	}
	if len(breakdown) == 0 {
		lines = append(lines, "- "+placeholder+": "+placeholder+"m")
	}

	lines = append(lines,
		"",
		"[OUTCOME]",
		"- Completed: "+safeLine(in.Outcome.Completed, placeholder),
		"- Partially done: "+safeLine(in.Outcome.PartiallyDone, placeholder),
		"- Not done: "+safeLine(in.Outcome.NotDone, placeholder),
		"- Biggest deviation reason (user choice): "+safeLine(in.Outcome.BiggestDeviationReason, placeholder),
		"",
		"[MOOD & ENERGY]",
		"- Avg mood (1~5): "+formatScore(in.MoodEnergy.AvgMood),
		"- Energy (1~5): "+formatScore(in.MoodEnergy.Energy),
		"- Notable emotion/events: "+safeLine(in.MoodEnergy.NotableEmotionEvents, placeholder),
		"",
		"[USER REFLECTION]",
		"- What went well: "+safeLine(in.Reflection.WhatWentWell, placeholder),
		"- What was difficult: "+safeLine(in.Reflection.WhatWasDifficult, placeholder),
		"- Why it happened (my guess): "+safeLine(in.Reflection.WhyItHappened, placeholder),
		"- One thing learned: "+safeLine(in.Reflection.OneThingLearned, placeholder),
	)
	return strings.Join(lines, "\n")
}

// safeLine collapses whitespace runs so user text cannot break the layout.
func safeLine(s, fallback string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return fallback
	}
	return strings.Join(f, " ")
}

func formatMin(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return "0"
	}
	return fmt.Sprint(int64(math.Max(0, math.Round(*v))))
}

func formatScore(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return placeholder
	}
	return fmt.Sprint(int64(math.Max(1, math.Min(5, math.Round(*v)))))
}
