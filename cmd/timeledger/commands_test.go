package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/timeledger/internal/config"
	"github.com/kalambet/timeledger/internal/journal"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// last returns the last request that was not the /today lookup.
func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	for i := len(ts.requests) - 1; i >= 0; i-- {
		if ts.requests[i].Path != "/today" {
			return ts.requests[i]
		}
	}
	t.Fatal("no requests recorded")
	return recordedRequest{}
}

// captureOutput redirects command output and disables colors.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldColor := out, noColor
	out, noColor = &buf, true
	t.Cleanup(func() { out, noColor = oldOut, oldColor })
	return &buf
}

func newCmd(setup func(*cobra.Command)) *cobra.Command {
	c := &cobra.Command{}
	addDateFlag(c)
	if setup != nil {
		setup(c)
	}
	c.SetContext(context.Background())
	return c
}

var ctx = context.Background()

const todayJSON = `{"date":"2025-03-04","entries":[],"plan":null,"review":null,"computed":{"totalMinutes":0},"remaining":4,"limits":{"MaxRetainedRuns":3,"MaxRunsPerDay":4}}`

func TestEntryAdd_ResolvesToday(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /today":                   todayJSON,
		"POST /days/2025-03-04/entries": `{"id":"abcdef123456","text":"wrote docs","minutes":45,"category":"work","mood":"good","success":false}`,
	})

	cmd := newCmd(addEntryFlags)
	cmd.Flags().Set("minutes", "45")
	cmd.Flags().Set("category", "work")
	cmd.Flags().Set("failed", "true")
	in := entryInputFromFlags(cmd)
	in.Text = "wrote docs"

	if err := addEntry(cmd, ts.client(), in); err != nil {
		t.Fatalf("addEntry: %v", err)
	}

	if len(ts.requests) != 2 || ts.requests[0].Path != "/today" {
		t.Fatalf("requests = %+v", ts.requests)
	}
	r := ts.last(t)
	if r.Method != "POST" || r.Auth != "Bearer test-token" {
		t.Errorf("request = %+v", r)
	}
	var body journal.EntryInput
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Text != "wrote docs" || body.Minutes != 45 || body.Category != "work" {
		t.Errorf("body = %+v", body)
	}
	if body.Success == nil || *body.Success {
		t.Errorf("success = %v, want false", body.Success)
	}
}

func TestEntryAdd_ExplicitDate(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"POST /days/2024-12-31/entries": `{"id":"e1","minutes":10,"category":"other"}`,
	})

	cmd := newCmd(addEntryFlags)
	cmd.Flags().Set("date", "2024-12-31")
	if err := addEntry(cmd, ts.client(), journal.EntryInput{Text: "x"}); err != nil {
		t.Fatalf("addEntry: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected no /today lookup, got %+v", ts.requests)
	}

	cmd.Flags().Set("date", "31-12-2024")
	if err := addEntry(cmd, ts.client(), journal.EntryInput{Text: "x"}); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestEntryEdit_OnlyChangedFields(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /today":                          todayJSON,
		"GET /days/2025-03-04/entries":        `[{"id":"aaa111","text":"gym","minutes":60,"category":"exercise","mood":"great","success":true},{"id":"bbb222","text":"read","minutes":30,"category":"study","mood":"good","success":true}]`,
		"PUT /days/2025-03-04/entries/bbb222": `{"id":"bbb222","text":"read","minutes":50,"category":"study","mood":"good","success":true}`,
	})

	cmd := newCmd(func(c *cobra.Command) {
		addEntryFlags(c)
		c.Flags().String("text", "", "")
	})
	cmd.Flags().Set("minutes", "50")

	if err := editEntry(cmd, ts.client(), "bbb"); err != nil {
		t.Fatalf("editEntry: %v", err)
	}

	r := ts.last(t)
	if r.Method != "PUT" || r.Path != "/days/2025-03-04/entries/bbb222" {
		t.Fatalf("request = %+v", r)
	}
	var body journal.EntryInput
	json.Unmarshal([]byte(r.Body), &body)
	if body.Text != "read" || body.Minutes != 50 || body.Category != "study" || body.Mood != "good" {
		t.Errorf("body = %+v", body)
	}
	if body.Success == nil || !*body.Success {
		t.Errorf("success should be kept, got %v", body.Success)
	}
}

func TestFindEntry(t *testing.T) {
	entries := []journal.Entry{{ID: "abc123"}, {ID: "abd456"}, {ID: "xyz"}}

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{"abc123", "abc123", false},
		{"abc", "abc123", false},
		{"x", "xyz", false},
		{"ab", "", true},
		{"nope", "", true},
	}
	for _, tt := range tests {
		got, err := findEntry(entries, tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("findEntry(%q) err = %v, wantErr %v", tt.ref, err, tt.wantErr)
			continue
		}
		if got.ID != tt.want {
			t.Errorf("findEntry(%q) = %q, want %q", tt.ref, got.ID, tt.want)
		}
	}
}

func TestParseGoals(t *testing.T) {
	items := parseGoals([]string{"[x] ship release", "  gym ", "[x]read"})
	want := []journal.PlanItem{
		{Text: "ship release", Done: true},
		{Text: "gym"},
		{Text: "read", Done: true},
	}
	if len(items) != len(want) {
		t.Fatalf("items = %+v", items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("items[%d] = %+v, want %+v", i, items[i], want[i])
		}
	}
}

func TestSavePlan(t *testing.T) {
	buf := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"PUT /days/2025-03-04/plan": `{"top3":[{"text":"ship","done":true},{"text":"gym","done":false},{"text":"","done":false}],"note":"busy"}`,
	})

	cmd := newCmd(nil)
	cmd.Flags().Set("date", "2025-03-04")
	if err := savePlan(cmd, ts.client(), parseGoals([]string{"[x] ship", "gym"}), "busy"); err != nil {
		t.Fatalf("savePlan: %v", err)
	}

	var body struct {
		Top3 []journal.PlanItem `json:"top3"`
		Note string             `json:"note"`
	}
	json.Unmarshal([]byte(ts.last(t).Body), &body)
	if len(body.Top3) != 2 || !body.Top3[0].Done || body.Note != "busy" {
		t.Errorf("body = %+v", body)
	}

	got := buf.String()
	if !strings.Contains(got, "1. [x] ship") || !strings.Contains(got, "3. [ ] (empty)") {
		t.Errorf("output = %q", got)
	}
}

func TestGenerateFeedback_PrintsRunCount(t *testing.T) {
	buf := captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"GET /today":                     todayJSON,
		"POST /days/2025-03-04/feedback": `{"runId":"run-1","seq":2,"status":"created","outputText":"Sleep earlier."}`,
		"GET /days/2025-03-04":           todayJSON,
	})

	cmd := newCmd(func(c *cobra.Command) {
		c.Flags().String("notes", "", "")
		c.Flags().String("reflection", "", "")
	})
	cmd.Flags().Set("notes", "tired")

	if err := generateFeedback(cmd, ts.client()); err != nil {
		t.Fatalf("generateFeedback: %v", err)
	}

	if got := buf.String(); !strings.HasPrefix(got, "runs: 2/4") || !strings.Contains(got, "Sleep earlier.") {
		t.Errorf("output = %q", got)
	}
	var body map[string]string
	json.Unmarshal([]byte(ts.requests[1].Body), &body)
	if body["userNotes"] != "tired" {
		t.Errorf("body = %v", body)
	}
}

func TestGenerateFeedback_LimitError(t *testing.T) {
	captureOutput(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"daily feedback limit of 4 runs reached","type":"precondition_failed"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	cmd := newCmd(func(c *cobra.Command) {
		c.Flags().String("notes", "", "")
		c.Flags().String("reflection", "", "")
	})
	cmd.Flags().Set("date", "2025-03-04")

	err := generateFeedback(cmd, client)
	if err == nil || !strings.Contains(err.Error(), "limit of 4 runs") {
		t.Fatalf("err = %v, want server message", err)
	}
}

func TestWriteFeedback(t *testing.T) {
	captureOutput(t)
	created := time.Date(2025, 3, 4, 21, 0, 0, 0, time.UTC)
	f := journal.Feedback{
		ActiveRunID: "run-3",
		RunSeq:      3,
		Runs: []journal.FeedbackRun{
			{RunID: "run-2", Seq: 2, CreatedAt: created, Status: journal.RunSuperseded, OutputText: "old advice"},
			{RunID: "run-3", Seq: 3, CreatedAt: created, Status: journal.RunCreated, OutputText: "new advice",
				UserReaction: &journal.UserReaction{Comment: "fair", Accepted: []string{"walk"}}},
		},
	}

	var buf bytes.Buffer
	writeFeedback(&buf, f, 4)
	got := buf.String()

	for _, want := range []string{"runs: 3/4", "#2 run-2", "(superseded)", "new advice", "comment: fair", "accepted: walk"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "old advice") {
		t.Errorf("superseded run text should not be printed:\n%s", got)
	}
	if strings.Index(got, "#3") > strings.Index(got, "#2") {
		t.Errorf("runs should be newest first:\n%s", got)
	}
}

func TestWriteFeedback_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeFeedback(&buf, journal.Feedback{}, 4)
	if got := buf.String(); got != "runs: 0/4\nNo feedback yet.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{0: "0m", 45: "45m", 60: "1h", 135: "2h15m", 1440: "24h", 61: "1h01m"}
	for in, want := range tests {
		if got := formatMinutes(in); got != want {
			t.Errorf("formatMinutes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"envelope", `{"error":{"message":"unauthorized","type":"authentication_error"}}`, "401: unauthorized"},
		{"plain", `nope`, "401: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(401)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			client := &apiClient{baseURL: ts.URL, token: "bad-token", httpClient: ts.Client()}
			resp, err := client.get(ctx, "/profile")
			if err != nil {
				t.Fatalf("unexpected transport error: %v", err)
			}
			var result any
			err = decodeJSON(resp, &result)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSetProfileField(t *testing.T) {
	captureOutput(t)
	ts := newTestServer(t, map[string]string{
		"PATCH /profile": `{"uid":"local","timezone":"Europe/Berlin"}`,
	})

	if err := setProfileField(ctx, ts.client(), "timezone", "Europe/Berlin"); err != nil {
		t.Fatalf("setProfileField: %v", err)
	}
	if body := ts.last(t).Body; body != `{"timezone":"Europe/Berlin"}` {
		t.Errorf("body = %s", body)
	}
}

func TestRootCommand_UnknownSubcommand(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"entry", "add"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing entry text")
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Generator.APIKey = "sk-secret"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("secret leaked in %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG").String() != "DEBUG" || parseLevel("bogus").String() != "INFO" {
		t.Error("unexpected level mapping")
	}
}
