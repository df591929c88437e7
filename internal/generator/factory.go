package generator

import (
	"fmt"
	"time"
)

// Providers accepted by New.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderRemote     = "remote"
)

// Settings selects and configures a generator.
type Settings struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the generator named by s.Provider. For the remote provider
// BaseURL is the full endpoint URL and APIKey its bearer token. A blank
// BaseURL selects the provider's public endpoint.
func New(s Settings) (Generator, error) {
	switch s.Provider {
	case "", ProviderOpenAI:
		c := NewClientWithBaseURL(s.APIKey, orDefault(s.BaseURL, DefaultBaseURL), s.Model)
		c.SetTimeout(s.Timeout)
		return c, nil
	case ProviderOpenRouter:
		c := NewClientWithBaseURL(s.APIKey, orDefault(s.BaseURL, OpenRouterBaseURL), s.Model)
		c.SetTimeout(s.Timeout)
		return c, nil
	case ProviderOllama:
		c := NewClientWithBaseURL(s.APIKey, orDefault(s.BaseURL, OllamaBaseURL), s.Model)
		c.requireKey = false
		c.SetTimeout(s.Timeout)
		return c, nil
	case ProviderRemote:
		r := NewRemote(s.BaseURL, s.APIKey)
		r.SetTimeout(s.Timeout)
		return r, nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q", s.Provider)
	}
}

func orDefault(v, def string) string {
	if v == "" || v == DefaultBaseURL {
		return def
	}
	return v
}
