// Package generator turns a day snapshot into behavioral feedback text by
// calling a language model, either directly through an OpenAI-compatible
// API or through a remote feedback endpoint.
package generator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
)

// Generator produces feedback for one day. Implementations make a single
// attempt; callers see failures as *apperr.ExternalServiceError.
type Generator interface {
	Generate(ctx context.Context, req Request) (journal.RunOutput, error)
}

// Request is the day snapshot sent to a generator.
type Request struct {
	Date           string                 `json:"date"`
	Plan           *journal.PlanSnapshot  `json:"plan"`
	EntriesDigest  []journal.EntryDigest  `json:"entriesDigest"`
	ComputedDigest journal.ComputedDigest `json:"computedDigest"`
	Reflection     string                 `json:"reflection"`
	UserNotes      string                 `json:"userNotes"`
}

// Validate checks the fields a generator cannot do without.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Date) == "" {
		return apperr.Validation("date", "date required")
	}
	if strings.TrimSpace(r.Reflection) == "" {
		return apperr.Validation("reflection", "reflection required")
	}
	return nil
}

// Meta describes how a response was produced.
type Meta struct {
	Model string `json:"model"`
	Date  string `json:"date"`
}

// Response is the body of a feedback endpoint. Text is the current shape;
// Output is the older structured one.
type Response struct {
	Text   string                    `json:"text,omitempty"`
	Meta   *Meta                     `json:"meta,omitempty"`
	Output *journal.StructuredOutput `json:"output,omitempty"`
}

// ParseResponse reads a feedback endpoint body. Non-empty text wins; an
// object under "output" is read as the structured shape with blank items
// dropped; anything else yields an empty output.
func ParseResponse(body []byte) journal.RunOutput {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return journal.RunOutput{}
	}

	var text string
	if v, ok := raw["text"]; ok && json.Unmarshal(v, &text) == nil && strings.TrimSpace(text) != "" {
		return journal.RunOutput{Text: text}
	}

	v, ok := raw["output"]
	if !ok {
		return journal.RunOutput{}
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(v, &obj) != nil || obj == nil {
		return journal.RunOutput{}
	}

	out := &journal.StructuredOutput{
		Summary:                stringField(obj["summary"]),
		Gaps:                   listField(obj["gaps"]),
		Praise:                 listField(obj["praise"]),
		Improve:                listField(obj["improve"]),
		TomorrowTop3Suggestion: listField(obj["tomorrowTop3Suggestion"]),
	}
	if out.IsEmpty() {
		return journal.RunOutput{}
	}
	return journal.RunOutput{Text: out.Render(), Structured: out}
}

func stringField(v json.RawMessage) string {
	var s string
	if json.Unmarshal(v, &s) != nil {
		return ""
	}
	return s
}

func listField(v json.RawMessage) []string {
	var items []any
	out := []string{}
	if json.Unmarshal(v, &items) != nil {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
