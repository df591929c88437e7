// Package daily derives per-day totals and the bounded entry digest sent to
// the review generator.
package daily

import (
	"iter"
	"slices"

	"github.com/kalambet/timeledger/internal/journal"
)

// DefaultDigestLimit bounds how many entries a digest carries.
const DefaultDigestLimit = 50

// Uncategorized is the bucket for entries without a category.
const Uncategorized = "uncategorized"

// Compute totals entries and plan into a fresh snapshot. A nil plan counts
// as no plan slots. Negative minutes count as 0.
func Compute(entries []journal.Entry, plan *journal.Plan) journal.Computed {
	c := journal.Computed{ByCategory: map[string]int{}}
	for _, e := range entries {
		m := max(e.Minutes, 0)
		c.TotalMinutes += m
		if e.Success {
			c.SuccessCount++
		}
		cat := string(e.Category)
		if cat == "" {
			cat = Uncategorized
		}
		c.ByCategory[cat] += m
	}
	c.EntryCount = len(entries)

	if plan != nil {
		c.PlanTotal = len(plan.Top3)
		for _, it := range plan.Top3 {
			if it.Done {
				c.PlanDone++
			}
		}
	}
	return c
}

// Digest yields at most limit entries, oldest first, projected onto the
// fields the generator sees. Entries without a creation time sort first.
// Each iteration sorts its own copy, so the sequence can be ranged over
// again and never observes later changes to the caller's order.
// A limit of 0 or less means DefaultDigestLimit.
func Digest(entries []journal.Entry, limit int) iter.Seq[journal.EntryDigest] {
	if limit <= 0 {
		limit = DefaultDigestLimit
	}
	src := slices.Clone(entries)
	return func(yield func(journal.EntryDigest) bool) {
		sorted := slices.Clone(src)
		slices.SortStableFunc(sorted, func(a, b journal.Entry) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})
		for i, e := range sorted {
			if i >= limit {
				return
			}
			if !yield(e.Digest()) {
				return
			}
		}
	}
}

// DigestList collects Digest into a slice, never nil.
func DigestList(entries []journal.Entry, limit int) []journal.EntryDigest {
	out := slices.Collect(Digest(entries, limit))
	if out == nil {
		out = []journal.EntryDigest{}
	}
	return out
}
