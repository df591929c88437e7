package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/apperr"
	"github.com/kalambet/timeledger/internal/journal"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaBaseURL     = "http://localhost:11434/v1"
	DefaultModel      = "gpt-4o-mini"

	defaultTimeout = 60 * time.Second
	serviceName    = "generator"
)

// ChatMessage is one message of an OpenAI-compatible chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Client talks to an OpenAI-compatible chat completions API: OpenAI,
// OpenRouter or a local Ollama under /v1.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	requireKey bool
	httpClient *http.Client
	referer    string
	title      string
	logger     *slog.Logger
}

// NewClient creates a client for the OpenAI API. An empty model selects
// DefaultModel.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      model,
		requireKey: true,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/kalambet/timeledger",
		title:   "timeledger",
		logger:  slog.Default(),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(apiKey, baseURL, model string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetTimeout bounds each request. Zero keeps the default.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// Model returns the model the client asks for.
func (c *Client) Model() string { return c.model }

// Generate asks the model for a review of the day in req.
func (c *Client) Generate(ctx context.Context, req Request) (journal.RunOutput, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return journal.RunOutput{}, err
	}
	return journal.RunOutput{Text: resp.Text}, nil
}

// Complete builds the prompt for req, calls the model once and returns the
// trimmed answer with its metadata.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if c.requireKey && c.apiKey == "" {
		return Response{}, apperr.External(serviceName, nil, "API key is missing; set generator.api_key")
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	chat := ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: BuildUserMessage(NewPromptInput(req))},
		},
	}

	start := time.Now()
	text, err := c.chat(ctx, chat)
	if err != nil {
		return Response{}, err
	}
	c.logger.Debug("generator responded", "model", c.model, "date", req.Date, "chars", len(text), "elapsed", time.Since(start))

	return Response{Text: text, Meta: &Meta{Model: c.model, Date: strings.TrimSpace(req.Date)}}, nil
}

func (c *Client) chat(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.External(serviceName, err, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.External(serviceName, err, "reading response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.External(serviceName, nil, "unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", apperr.External(serviceName, err, "decoding response")
	}
	if len(decoded.Choices) == 0 {
		return "", apperr.External(serviceName, nil, "empty model output")
	}
	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", apperr.External(serviceName, nil, "empty model output")
	}
	return text, nil
}

// ListModels returns the models the API offers. Used to check credentials.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External(serviceName, err, "requesting models")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.External(serviceName, nil, "unexpected status %d", resp.StatusCode)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, apperr.External(serviceName, err, "decoding models")
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
