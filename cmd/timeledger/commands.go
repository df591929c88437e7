package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/timeledger/internal/config"
	"github.com/kalambet/timeledger/internal/daybook"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/profile"
	"github.com/kalambet/timeledger/internal/review"
)

// out is where command results go; tests swap it.
var out io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addDateFlag(cmd *cobra.Command) {
	cmd.Flags().String("date", "", "day key YYYY-MM-DD (default: today in the profile timezone)")
}

// resolveDate returns the --date flag, or asks the server for today.
func resolveDate(ctx context.Context, c *apiClient, cmd *cobra.Command) (string, error) {
	date, _ := cmd.Flags().GetString("date")
	if date != "" {
		if err := journal.CheckDate(date); err != nil {
			return "", err
		}
		return date, nil
	}
	var b daybook.Bundle
	if err := c.call(ctx, http.MethodGet, "/today", nil, &b); err != nil {
		return "", err
	}
	return b.Date, nil
}

func dayPath(date string, parts ...string) string {
	p := "/days/" + url.PathEscape(date)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// editText opens initial in $EDITOR and returns the saved text.
func editText(initial, pattern string) (string, error) {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	tmpFile, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(initial); err != nil {
		tmpFile.Close()
		return "", err
	}
	tmpFile.Close()

	editorCmd := exec.Command(editor, tmpPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return "", fmt.Errorf("editor exited with error: %w", err)
	}

	edited, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", err
	}
	return string(edited), nil
}

// --- today ---

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's plan, entries, reflection and totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showDay(cmd, client)
	},
}

func showDay(cmd *cobra.Command, client *apiClient) error {
	ctx := cmd.Context()
	path := "/today"
	if date, _ := cmd.Flags().GetString("date"); date != "" {
		path = dayPath(date)
	}
	var b daybook.Bundle
	if err := client.call(ctx, http.MethodGet, path, nil, &b); err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(b)
	}
	writeDay(out, b)
	return nil
}

func init() {
	addDateFlag(todayCmd)
	todayCmd.Flags().Bool("json", false, "print the raw day as JSON")
}

// --- entry ---

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Log and manage time entries",
}

var entryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Log a time entry",
	Long: `Log a time entry.

Examples:
  timeledger entry add "refactored the parser" --minutes 90 --category dev --mood good
  timeledger entry add "doomscrolling" --minutes 40 --category rest --failed`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := entryInputFromFlags(cmd)
		in.Text = strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return addEntry(cmd, client, in)
	},
}

func entryInputFromFlags(cmd *cobra.Command) journal.EntryInput {
	minutes, _ := cmd.Flags().GetInt("minutes")
	category, _ := cmd.Flags().GetString("category")
	mood, _ := cmd.Flags().GetString("mood")
	failed, _ := cmd.Flags().GetBool("failed")
	success := !failed
	return journal.EntryInput{
		Minutes:  minutes,
		Category: category,
		Mood:     mood,
		Success:  &success,
	}
}

func addEntry(cmd *cobra.Command, client *apiClient, in journal.EntryInput) error {
	ctx := cmd.Context()
	date, err := resolveDate(ctx, client, cmd)
	if err != nil {
		return err
	}
	var e journal.Entry
	if err := client.call(ctx, http.MethodPost, dayPath(date, "entries"), in, &e); err != nil {
		return err
	}
	printSuccess("Logged %s of %s on %s (%s)", formatMinutes(e.Minutes), e.Category, date, shortID(e.ID))
	return nil
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the entries of a day, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, _, err := listEntries(cmd, client)
		if err != nil {
			return err
		}
		writeEntries(out, entries)
		return nil
	},
}

func listEntries(cmd *cobra.Command, client *apiClient) ([]journal.Entry, string, error) {
	ctx := cmd.Context()
	date, err := resolveDate(ctx, client, cmd)
	if err != nil {
		return nil, "", err
	}
	var entries []journal.Entry
	if err := client.call(ctx, http.MethodGet, dayPath(date, "entries"), nil, &entries); err != nil {
		return nil, "", err
	}
	return entries, date, nil
}

// findEntry resolves a full id or an unambiguous prefix of one.
func findEntry(entries []journal.Entry, ref string) (journal.Entry, error) {
	var matches []journal.Entry
	for _, e := range entries {
		if e.ID == ref {
			return e, nil
		}
		if strings.HasPrefix(e.ID, ref) {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return journal.Entry{}, fmt.Errorf("no entry matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return journal.Entry{}, fmt.Errorf("%q matches %d entries", ref, len(matches))
	}
}

var entryEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return editEntry(cmd, client, args[0])
	},
}

func editEntry(cmd *cobra.Command, client *apiClient, ref string) error {
	entries, date, err := listEntries(cmd, client)
	if err != nil {
		return err
	}
	e, err := findEntry(entries, ref)
	if err != nil {
		return err
	}

	in := journal.EntryInput{
		Text:     e.Text,
		Minutes:  e.Minutes,
		Category: string(e.Category),
		Mood:     string(e.Mood),
		Success:  &e.Success,
	}
	flags := cmd.Flags()
	if flags.Changed("text") {
		in.Text, _ = flags.GetString("text")
	}
	if flags.Changed("minutes") {
		in.Minutes, _ = flags.GetInt("minutes")
	}
	if flags.Changed("category") {
		in.Category, _ = flags.GetString("category")
	}
	if flags.Changed("mood") {
		in.Mood, _ = flags.GetString("mood")
	}
	if flags.Changed("failed") {
		failed, _ := flags.GetBool("failed")
		success := !failed
		in.Success = &success
	}

	var updated journal.Entry
	if err := client.call(cmd.Context(), http.MethodPut, dayPath(date, "entries", e.ID), in, &updated); err != nil {
		return err
	}
	printSuccess("Updated %s", shortID(updated.ID))
	return nil
}

var entryRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete an entry",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, date, err := listEntries(cmd, client)
		if err != nil {
			return err
		}
		e, err := findEntry(entries, args[0])
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodDelete, dayPath(date, "entries", e.ID), nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s", shortID(e.ID))
		return nil
	},
}

func addEntryFlags(c *cobra.Command) {
	c.Flags().Int("minutes", 0, "duration in minutes (0-1440)")
	c.Flags().String("category", "", "dev, work, study, exercise, rest, family, faith, social or other")
	c.Flags().String("mood", "", "great, good, neutral, bad or awful")
	c.Flags().Bool("failed", false, "the block did not go as intended")
}

func init() {
	addEntryFlags(entryAddCmd)
	addEntryFlags(entryEditCmd)
	entryEditCmd.Flags().String("text", "", "new text")
	for _, c := range []*cobra.Command{entryAddCmd, entryListCmd, entryEditCmd, entryRmCmd} {
		addDateFlag(c)
	}
	entryCmd.AddCommand(entryAddCmd, entryListCmd, entryEditCmd, entryRmCmd)
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the day's top-3 goals",
}

var planSetCmd = &cobra.Command{
	Use:   "set <goal> [goal] [goal]",
	Short: "Set the top-3 goals; prefix a goal with [x] to mark it done",
	Args:  cobra.RangeArgs(1, journal.PlanSlots),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, _ := cmd.Flags().GetString("note")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return savePlan(cmd, client, parseGoals(args), note)
	},
}

func parseGoals(args []string) []journal.PlanItem {
	items := make([]journal.PlanItem, 0, len(args))
	for _, g := range args {
		g = strings.TrimSpace(g)
		done := false
		if rest, ok := strings.CutPrefix(g, "[x]"); ok {
			g, done = strings.TrimSpace(rest), true
		}
		items = append(items, journal.PlanItem{Text: g, Done: done})
	}
	return items
}

func savePlan(cmd *cobra.Command, client *apiClient, items []journal.PlanItem, note string) error {
	ctx := cmd.Context()
	date, err := resolveDate(ctx, client, cmd)
	if err != nil {
		return err
	}
	var p journal.Plan
	body := map[string]any{"top3": items, "note": note}
	if err := client.call(ctx, http.MethodPut, dayPath(date, "plan"), body, &p); err != nil {
		return err
	}
	writePlan(out, &p)
	return nil
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the plan of a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}
		var p *journal.Plan
		if err := client.call(ctx, http.MethodGet, dayPath(date, "plan"), nil, &p); err != nil {
			return err
		}
		writePlan(out, p)
		return nil
	},
}

var planDoneCmd = &cobra.Command{
	Use:   "done <slot>",
	Short: "Toggle a goal (1-3) between done and open",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var slot int
		if _, err := fmt.Sscanf(args[0], "%d", &slot); err != nil || slot < 1 || slot > journal.PlanSlots {
			return fmt.Errorf("slot must be 1-%d", journal.PlanSlots)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}
		var p *journal.Plan
		if err := client.call(ctx, http.MethodGet, dayPath(date, "plan"), nil, &p); err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("no plan for %s", date)
		}
		items := journal.NormalizeTop3(p.Top3)
		items[slot-1].Done = !items[slot-1].Done
		cmd.Flags().Set("date", date)
		return savePlan(cmd, client, items, p.Note)
	},
}

func init() {
	planSetCmd.Flags().String("note", "", "free-form plan note")
	for _, c := range []*cobra.Command{planSetCmd, planShowCmd, planDoneCmd} {
		addDateFlag(c)
	}
	planCmd.AddCommand(planSetCmd, planShowCmd, planDoneCmd)
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Write or show the day's reflection",
}

var reviewWriteCmd = &cobra.Command{
	Use:   "write [text]",
	Short: "Save the reflection; opens $EDITOR when no text is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		if text == "" {
			var current *journal.ReviewDoc
			if err := client.call(ctx, http.MethodGet, dayPath(date, "review"), nil, &current); err != nil {
				return err
			}
			initial := ""
			if current != nil {
				initial = current.Reflection
			}
			if text, err = editText(initial, "timeledger-review-*.md"); err != nil {
				return err
			}
		}
		return saveReflection(cmd, client, date, text)
	},
}

func saveReflection(cmd *cobra.Command, client *apiClient, date, text string) error {
	var doc journal.ReviewDoc
	if err := client.call(cmd.Context(), http.MethodPut, dayPath(date, "review"), map[string]string{"reflection": text}, &doc); err != nil {
		return err
	}
	printSuccess("Saved reflection for %s (%s tracked)", date, formatMinutes(doc.Computed.TotalMinutes))
	return nil
}

var reviewShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the reflection and summary snapshot of a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}
		var doc *journal.ReviewDoc
		if err := client.call(ctx, http.MethodGet, dayPath(date, "review"), nil, &doc); err != nil {
			return err
		}
		if doc == nil {
			fmt.Fprintln(out, "No review yet.")
			return nil
		}
		fmt.Fprintln(out, doc.Reflection)
		fmt.Fprintln(out)
		writeComputed(out, doc.Computed)
		return nil
	},
}

func init() {
	addDateFlag(reviewWriteCmd)
	addDateFlag(reviewShowCmd)
	reviewCmd.AddCommand(reviewWriteCmd, reviewShowCmd)
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Ask for and react to coach feedback",
}

var feedbackGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new feedback run for the day",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return generateFeedback(cmd, client)
	},
}

func generateFeedback(cmd *cobra.Command, client *apiClient) error {
	ctx := cmd.Context()
	date, err := resolveDate(ctx, client, cmd)
	if err != nil {
		return err
	}
	notes, _ := cmd.Flags().GetString("notes")
	reflection, _ := cmd.Flags().GetString("reflection")

	printStep("Asking the coach about %s...", date)
	var run journal.FeedbackRun
	req := daybook.FeedbackRequest{Reflection: reflection, UserNotes: notes}
	if err := client.call(ctx, http.MethodPost, dayPath(date, "feedback"), req, &run); err != nil {
		return err
	}

	var b daybook.Bundle
	if err := client.call(ctx, http.MethodGet, dayPath(date), nil, &b); err != nil {
		return err
	}
	fmt.Fprintf(out, "runs: %d/%d\n\n%s\n", run.Seq, b.Limits.MaxRunsPerDay, run.DisplayText())
	return nil
}

var feedbackShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the feedback runs of a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}
		var b daybook.Bundle
		if err := client.call(ctx, http.MethodGet, dayPath(date), nil, &b); err != nil {
			return err
		}
		var f journal.Feedback
		if b.Review != nil {
			f = b.Review.Feedback
		}
		writeFeedback(out, f, b.Limits.MaxRunsPerDay)
		return nil
	},
}

var feedbackReactCmd = &cobra.Command{
	Use:   "react",
	Short: "Record a reaction to the active feedback run",
	RunE: func(cmd *cobra.Command, args []string) error {
		comment, _ := cmd.Flags().GetString("comment")
		accepted, _ := cmd.Flags().GetStringArray("accept")
		rejected, _ := cmd.Flags().GetStringArray("reject")
		if comment == "" && len(accepted) == 0 && len(rejected) == 0 {
			return fmt.Errorf("one of --comment, --accept or --reject is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		date, err := resolveDate(ctx, client, cmd)
		if err != nil {
			return err
		}
		var run journal.FeedbackRun
		body := review.Reaction{Comment: comment, Accepted: accepted, Rejected: rejected}
		if err := client.call(ctx, http.MethodPost, dayPath(date, "feedback", "reaction"), body, &run); err != nil {
			return err
		}
		printSuccess("Reaction saved on run #%d", run.Seq)
		return nil
	},
}

func init() {
	feedbackGenerateCmd.Flags().String("notes", "", "extra context for the coach")
	feedbackGenerateCmd.Flags().String("reflection", "", "reflection to use instead of the saved one")
	feedbackReactCmd.Flags().String("comment", "", "comment on the feedback")
	feedbackReactCmd.Flags().StringArray("accept", nil, "suggestion accepted (repeatable)")
	feedbackReactCmd.Flags().StringArray("reject", nil, "suggestion rejected (repeatable)")
	for _, c := range []*cobra.Command{feedbackGenerateCmd, feedbackShowCmd, feedbackReactCmd} {
		addDateFlag(c)
	}
	feedbackCmd.AddCommand(feedbackGenerateCmd, feedbackShowCmd, feedbackReactCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p profile.Profile
		if err := client.call(cmd.Context(), http.MethodGet, "/profile", nil, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a profile field (email, displayName, photoURL, timezone)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return setProfileField(cmd.Context(), client, args[0], args[1])
	},
}

func setProfileField(ctx context.Context, client *apiClient, key, value string) error {
	var p profile.Profile
	if err := client.call(ctx, http.MethodPatch, "/profile", map[string]string{key: value}, &p); err != nil {
		return err
	}
	printSuccess("Set %s = %s", key, value)
	return nil
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the editable profile fields in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var p profile.Profile
		if err := client.call(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
			return err
		}
		data, err := json.MarshalIndent(map[string]string{
			profile.FieldEmail:       p.Email,
			profile.FieldDisplayName: p.DisplayName,
			profile.FieldPhotoURL:    p.PhotoURL,
			profile.FieldTimezone:    p.Timezone,
		}, "", "  ")
		if err != nil {
			return err
		}

		edited, err := editText(string(data), "timeledger-profile-*.json")
		if err != nil {
			return err
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(edited), &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if err := client.call(ctx, http.MethodPatch, "/profile", fields, &p); err != nil {
			return err
		}
		printSuccess("Profile updated")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd, profileSetCmd, profileEditCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key]",
	Short: "Store the generator API key in the secret store (reads stdin when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 1 {
			key = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			key = string(data)
		}
		if err := config.SetGeneratorKey(config.NewKeychain(), key); err != nil {
			return err
		}
		printSuccess("Generator key stored in %s", config.SecretHint())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetKeyCmd)
}
