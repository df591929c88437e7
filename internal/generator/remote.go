package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
)

const remoteService = "feedback endpoint"

// Remote posts the day snapshot to a feedback endpoint that runs the model
// itself and answers with {text, meta} or the older {output: {...}}.
type Remote struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewRemote creates a generator for the endpoint at url. A non-empty token
// is sent as a bearer credential.
func NewRemote(url, token string) *Remote {
	return &Remote{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SetTimeout bounds each request. Zero keeps the default.
func (r *Remote) SetTimeout(d time.Duration) {
	if d > 0 {
		r.httpClient.Timeout = d
	}
}

// Generate posts req and normalizes the answer.
func (r *Remote) Generate(ctx context.Context, req Request) (journal.RunOutput, error) {
	if r.url == "" {
		return journal.RunOutput{}, apperr.External(remoteService, nil, "endpoint URL is not configured")
	}
	if err := req.Validate(); err != nil {
		return journal.RunOutput{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return journal.RunOutput{}, fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return journal.RunOutput{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return journal.RunOutput{}, apperr.External(remoteService, err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return journal.RunOutput{}, apperr.External(remoteService, err, "reading response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return journal.RunOutput{}, apperr.External(remoteService, nil, "status %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	out := ParseResponse(respBody).Normalize()
	if out.IsEmpty() {
		return journal.RunOutput{}, apperr.External(remoteService, nil, "feedback api returned empty result")
	}
	return out, nil
}

// errorMessage extracts the message of a JSON error body, accepting both
// {"error": "msg"} and {"error": {"message": "msg"}}.
func errorMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}
