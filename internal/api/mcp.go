package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/timeledger/internal/daybook"
	"github.com/kalambet/timeledger/internal/journal"
	"github.com/kalambet/timeledger/internal/review"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *daybook.Service
	UID     string
	Version string
}

// NewMCPServer creates an MCP server with the journal tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"timeledger",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("timeledger: personal daily journal of time entries, a top-3 plan, a reflection and coach feedback. Dates are YYYY-MM-DD; omit date for today."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("log_entry",
			mcp.WithDescription("Log a time entry for a day."),
			mcp.WithString("text", mcp.Description("What was done"), mcp.Required()),
			mcp.WithNumber("minutes", mcp.Description("Duration in minutes (0-1440)"), mcp.Required()),
			mcp.WithString("category", mcp.Description("dev, work, study, exercise, rest, family, faith, social or other")),
			mcp.WithString("mood", mcp.Description("great, good, neutral, bad or awful")),
			mcp.WithBoolean("success", mcp.Description("Whether the block went as intended (default true)")),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpLogEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("get_day",
			mcp.WithDescription("Return entries, plan, review, computed totals and remaining feedback runs of a day."),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpGetDay(deps),
	)

	s.AddTool(
		mcp.NewTool("save_plan",
			mcp.WithDescription("Set the top-3 goals of a day. Goals prefixed with [x] are marked done."),
			mcp.WithArray("top3", mcp.Description("Up to three goals"), mcp.Required()),
			mcp.WithString("note", mcp.Description("Free-form plan note")),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpSavePlan(deps),
	)

	s.AddTool(
		mcp.NewTool("save_reflection",
			mcp.WithDescription("Save the reflection of a day together with a fresh summary snapshot."),
			mcp.WithString("reflection", mcp.Description("Reflection text"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpSaveReflection(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_feedback",
			mcp.WithDescription("Ask the coach for feedback on a day. Limited runs per day."),
			mcp.WithString("reflection", mcp.Description("Reflection text; the saved one is used when omitted")),
			mcp.WithString("notes", mcp.Description("Extra context for the coach")),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpGenerateFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("react_to_feedback",
			mcp.WithDescription("Record a reaction to the active feedback run of a day."),
			mcp.WithString("comment", mcp.Description("Comment on the feedback")),
			mcp.WithArray("accepted", mcp.Description("Suggestions accepted")),
			mcp.WithArray("rejected", mcp.Description("Suggestions rejected")),
			mcp.WithString("date", mcp.Description("Day key, defaults to today")),
		),
		mcpReactToFeedback(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"User Profile",
			mcp.WithResourceDescription("Current user profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journal://today",
			"Today",
			mcp.WithResourceDescription("Entries, plan, review and totals of today as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceToday(deps),
	)

	return s
}

func mcpDate(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (string, error) {
	if d := strings.TrimSpace(req.GetString("date", "")); d != "" {
		return d, nil
	}
	return deps.Service.Today(ctx, deps.UID)
}

func mcpLogEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		success := req.GetBool("success", true)
		in := journal.EntryInput{
			Text:     text,
			Minutes:  req.GetInt("minutes", 0),
			Category: req.GetString("category", ""),
			Mood:     req.GetString("mood", ""),
			Success:  &success,
		}

		e, err := deps.Service.Entries.Add(ctx, deps.UID, date, in)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to log entry: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Logged %dm of %s on %s (%s)", e.Minutes, e.Category, date, e.ID)), nil
	}
}

func mcpGetDay(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		b, err := deps.Service.Day(ctx, deps.UID, date)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load day: %v", err)), nil
		}
		return mcpJSON(b)
	}
}

func mcpSavePlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goals := req.GetStringSlice("top3", nil)
		if goals == nil {
			return mcpError("top3 is required"), nil
		}
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		items := make([]journal.PlanItem, 0, len(goals))
		for _, g := range goals {
			done := false
			if rest, ok := strings.CutPrefix(strings.TrimSpace(g), "[x]"); ok {
				g, done = rest, true
			}
			items = append(items, journal.PlanItem{Text: strings.TrimSpace(g), Done: done})
		}

		p, err := deps.Service.Plans.Save(ctx, deps.UID, date, items, req.GetString("note", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save plan: %v", err)), nil
		}
		return mcpJSON(p)
	}
}

func mcpSaveReflection(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reflection, err := req.RequireString("reflection")
		if err != nil {
			return mcpError("reflection is required"), nil
		}
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		doc, err := deps.Service.SaveReview(ctx, deps.UID, date, reflection)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save reflection: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Saved reflection for %s (%dm tracked)", date, doc.Computed.TotalMinutes)), nil
	}
}

func mcpGenerateFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		run, err := deps.Service.GenerateFeedback(ctx, deps.UID, date, daybook.FeedbackRequest{
			Reflection: req.GetString("reflection", ""),
			UserNotes:  req.GetString("notes", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("feedback failed: %v", err)), nil
		}
		limit := deps.Service.Engine.Limits().MaxRunsPerDay
		return mcpText(fmt.Sprintf("Run %d/%d (%s)\n\n%s", run.Seq, limit, run.RunID, run.DisplayText())), nil
	}
}

func mcpReactToFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		date, err := mcpDate(ctx, deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		run, err := deps.Service.React(ctx, deps.UID, date, review.Reaction{
			Comment:  req.GetString("comment", ""),
			Accepted: req.GetStringSlice("accepted", nil),
			Rejected: req.GetStringSlice("rejected", nil),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save reaction: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Reaction saved on run %d (%s)", run.Seq, run.RunID)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Service.Profiles.GetProfile(ctx, deps.UID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		return jsonResource(req.Params.URI, p)
	}
}

func mcpResourceToday(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		date, err := deps.Service.Today(ctx, deps.UID)
		if err != nil {
			return nil, fmt.Errorf("resolving today: %w", err)
		}
		b, err := deps.Service.Day(ctx, deps.UID, date)
		if err != nil {
			return nil, fmt.Errorf("failed to load day: %w", err)
		}
		return jsonResource(req.Params.URI, b)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
