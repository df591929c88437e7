package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/timeledger/internal/daybook"
	"github.com/kalambet/timeledger/internal/journal"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// formatMinutes renders 135 as "2h15m".
func formatMinutes(m int) string {
	switch {
	case m < 60:
		return fmt.Sprintf("%dm", m)
	case m%60 == 0:
		return fmt.Sprintf("%dh", m/60)
	default:
		return fmt.Sprintf("%dh%02dm", m/60, m%60)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeEntries(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries.")
		return
	}
	for _, e := range entries {
		mark := colorize(colorGreen, "✓")
		if !e.Success {
			mark = colorize(colorRed, "✗")
		}
		fmt.Fprintf(w, "%s %s %6s  %-8s %-7s %s\n",
			colorize(colorCyan, shortID(e.ID)), mark, formatMinutes(e.Minutes), e.Category, e.Mood, e.Text)
	}
}

func writePlan(w io.Writer, p *journal.Plan) {
	if p == nil {
		fmt.Fprintln(w, "No plan.")
		return
	}
	for i, it := range journal.NormalizeTop3(p.Top3) {
		box := "[ ]"
		if it.Done {
			box = "[x]"
		}
		text := it.Text
		if text == "" {
			text = colorize(colorDim, "(empty)")
		}
		fmt.Fprintf(w, "%d. %s %s\n", i+1, box, text)
	}
	if p.Note != "" {
		fmt.Fprintf(w, "   %s\n", p.Note)
	}
}

func writeComputed(w io.Writer, c journal.Computed) {
	fmt.Fprintf(w, "%s tracked in %d entries, %d successful, plan %d/%d done\n",
		formatMinutes(c.TotalMinutes), c.EntryCount, c.SuccessCount, c.PlanDone, c.PlanTotal)
	cats := make([]string, 0, len(c.ByCategory))
	for k := range c.ByCategory {
		cats = append(cats, k)
	}
	sort.Slice(cats, func(i, j int) bool {
		if c.ByCategory[cats[i]] != c.ByCategory[cats[j]] {
			return c.ByCategory[cats[i]] > c.ByCategory[cats[j]]
		}
		return cats[i] < cats[j]
	})
	parts := make([]string, len(cats))
	for i, k := range cats {
		parts[i] = fmt.Sprintf("%s %s", k, formatMinutes(c.ByCategory[k]))
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(parts, ", "))
	}
}

// writeFeedback prints the runs of a day newest first; the active run in
// full, superseded runs as a one-line header.
func writeFeedback(w io.Writer, f journal.Feedback, limits int) {
	fmt.Fprintf(w, "runs: %d/%d\n", f.RunSeq, limits)
	if len(f.Runs) == 0 {
		fmt.Fprintln(w, "No feedback yet.")
		return
	}
	for i := len(f.Runs) - 1; i >= 0; i-- {
		r := f.Runs[i]
		header := fmt.Sprintf("#%d %s %s", r.Seq, shortID(r.RunID), r.CreatedAt.Local().Format("15:04"))
		if r.RunID != f.ActiveRunID {
			fmt.Fprintf(w, "\n%s\n", colorize(colorDim, header+" (superseded)"))
			continue
		}
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, header), r.DisplayText())
		if u := r.UserReaction; u != nil {
			if u.Comment != "" {
				fmt.Fprintf(w, "  comment: %s\n", u.Comment)
			}
			if len(u.Accepted) > 0 {
				fmt.Fprintf(w, "  accepted: %s\n", strings.Join(u.Accepted, "; "))
			}
			if len(u.Rejected) > 0 {
				fmt.Fprintf(w, "  rejected: %s\n", strings.Join(u.Rejected, "; "))
			}
		}
	}
}

func writeDay(w io.Writer, b daybook.Bundle) {
	fmt.Fprintln(w, colorize(colorBold, b.Date))
	fmt.Fprintln(w, colorize(colorBold, "\nPlan"))
	writePlan(w, b.Plan)
	fmt.Fprintln(w, colorize(colorBold, "\nEntries"))
	writeEntries(w, b.Entries)
	fmt.Fprintln(w)
	writeComputed(w, b.Computed)
	if b.Review != nil && b.Review.Reflection != "" {
		fmt.Fprintln(w, colorize(colorBold, "\nReflection"))
		fmt.Fprintln(w, b.Review.Reflection)
	}
	fmt.Fprintf(w, "\nfeedback runs left today: %d\n", b.Remaining)
}
