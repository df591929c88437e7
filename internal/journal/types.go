// Package journal holds the day-scoped data model of the journal and the
// repositories for time entries and plans.
package journal

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Category classifies what a time entry was spent on.
type Category string

const (
	CategoryDev      Category = "dev"
	CategoryWork     Category = "work"
	CategoryStudy    Category = "study"
	CategoryExercise Category = "exercise"
	CategoryRest     Category = "rest"
	CategoryFamily   Category = "family"
	CategoryFaith    Category = "faith"
	CategorySocial   Category = "social"
	CategoryOther    Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryDev, CategoryWork, CategoryStudy, CategoryExercise, CategoryRest,
	CategoryFamily, CategoryFaith, CategorySocial, CategoryOther,
}

// ParseCategory maps s to a known category, falling back to CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryOther
}

// Mood is how the user felt about a time entry.
type Mood string

const (
	MoodGreat   Mood = "great"
	MoodGood    Mood = "good"
	MoodNeutral Mood = "neutral"
	MoodBad     Mood = "bad"
	MoodAwful   Mood = "awful"
)

// Moods lists every known mood from best to worst.
var Moods = []Mood{MoodGreat, MoodGood, MoodNeutral, MoodBad, MoodAwful}

// ParseMood maps s to a known mood, falling back to MoodNeutral.
func ParseMood(s string) Mood {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Moods {
		if m == known {
			return m
		}
	}
	return MoodNeutral
}

// Score rates the mood from 5 (great) to 1 (awful). Unknown moods score 0.
func (m Mood) Score() int {
	switch m {
	case MoodGreat:
		return 5
	case MoodGood:
		return 4
	case MoodNeutral:
		return 3
	case MoodBad:
		return 2
	case MoodAwful:
		return 1
	}
	return 0
}

// MaxEntryMinutes caps the minutes a single entry can record.
const MaxEntryMinutes = 24 * 60

// ClampMinutes limits n to 0..MaxEntryMinutes.
func ClampMinutes(n int) int {
	return min(max(n, 0), MaxEntryMinutes)
}

// clampFloatMinutes truncates f and clamps it, treating NaN and infinities as 0.
func clampFloatMinutes(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f > MaxEntryMinutes {
		return MaxEntryMinutes
	}
	if f < 0 {
		return 0
	}
	return int(f)
}

// Entry is one logged activity of a day.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Minutes   int       `json:"minutes"`
	Category  Category  `json:"category"`
	Mood      Mood      `json:"mood"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// EntryDigest is the part of an entry sent to the review generator.
type EntryDigest struct {
	Text     string `json:"text"`
	Minutes  int    `json:"minutes"`
	Category string `json:"category"`
	Mood     string `json:"mood"`
	Success  bool   `json:"success"`
}

// Digest projects e onto the fields the generator sees.
func (e Entry) Digest() EntryDigest {
	return EntryDigest{
		Text:     e.Text,
		Minutes:  e.Minutes,
		Category: string(e.Category),
		Mood:     string(e.Mood),
		Success:  e.Success,
	}
}

// PlanSlots is the number of goals in a day's plan.
const PlanSlots = 3

const (
	maxPlanItemRunes = 200
	maxPlanNoteRunes = 2000
)

// PlanItem is one of the day's top goals.
type PlanItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Plan is the day's top-3 goals and a free-text note.
type Plan struct {
	Top3      []PlanItem `json:"top3"`
	Note      string     `json:"note"`
	CreatedAt time.Time  `json:"createdAt,omitzero"`
	UpdatedAt time.Time  `json:"updatedAt,omitzero"`
}

// NormalizeTop3 returns exactly PlanSlots items: extra items are dropped,
// missing ones are filled with empty goals and long texts are truncated.
func NormalizeTop3(items []PlanItem) []PlanItem {
	out := make([]PlanItem, PlanSlots)
	for i := range out {
		if i < len(items) {
			out[i] = PlanItem{Text: truncateRunes(items[i].Text, maxPlanItemRunes), Done: items[i].Done}
		}
	}
	return out
}

// Snapshot returns the plan as embedded in a feedback run. A nil plan
// yields three empty slots.
func (p *Plan) Snapshot() PlanSnapshot {
	if p == nil {
		return PlanSnapshot{Top3: NormalizeTop3(nil)}
	}
	return PlanSnapshot{Top3: NormalizeTop3(p.Top3), Note: p.Note}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Computed is the derived per-day summary of entries and plan. It is
// replaced as a whole, never patched.
type Computed struct {
	TotalMinutes int            `json:"totalMinutes"`
	EntryCount   int            `json:"entryCount"`
	SuccessCount int            `json:"successCount"`
	PlanTotal    int            `json:"planTotal"`
	PlanDone     int            `json:"planDone"`
	ByCategory   map[string]int `json:"byCategory"`
}

// ComputedDigest is the part of Computed sent to the review generator.
type ComputedDigest struct {
	TotalMinutes int            `json:"totalMinutes"`
	EntryCount   int            `json:"entryCount"`
	SuccessCount int            `json:"successCount"`
	ByCategory   map[string]int `json:"byCategory"`
}

// Digest drops the plan counters from c.
func (c Computed) Digest() ComputedDigest {
	return ComputedDigest{
		TotalMinutes: c.TotalMinutes,
		EntryCount:   c.EntryCount,
		SuccessCount: c.SuccessCount,
		ByCategory:   c.ByCategory,
	}
}
