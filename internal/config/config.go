package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/timeledger/internal/generator"
	"github.com/kalambet/timeledger/internal/journal"
)

// Secret store coordinates. The generator key and the local API token live
// under the same service.
const (
	keychainService   = "timeledger"
	generatorKeyEntry = "generator_api_key"
	apiTokenEntry     = "api_token"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Generator GeneratorConfig
	Feedback  FeedbackConfig
	User      UserConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir      string
	PollInterval string
}

type GeneratorConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  string
}

type FeedbackConfig struct {
	MaxRetainedRuns int
	MaxRunsPerDay   int
	DigestLimit     int
}

type UserConfig struct {
	ID       string
	Timezone string
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir:      defaultDataDir(),
			PollInterval: "2s",
		},
		Generator: GeneratorConfig{
			Provider: generator.ProviderOpenAI,
			BaseURL:  generator.DefaultBaseURL,
			Model:    generator.DefaultModel,
			Timeout:  "60s",
		},
		Feedback: FeedbackConfig{
			MaxRetainedRuns: 3,
			MaxRunsPerDay:   4,
			DigestLimit:     50,
		},
		User: UserConfig{
			ID:       "local",
			Timezone: journal.DefaultTimezone,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.timeledger.app) and
// secrets live in the macOS Keychain.
// Elsewhere the backend is a JSON file at
// $XDG_CONFIG_HOME/timeledger/config.json and secrets live in
// $XDG_DATA_HOME/timeledger/secrets.json.
//
// Environment variables (TIMELEDGER_*) override backend values on all
// platforms. A missing generator key is not an error here; feedback
// requests report it when they need it.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Generator.APIKey == "" && kc != nil {
		if key, err := kc.Get(keychainService, generatorKeyEntry); err == nil && key != "" {
			cfg.Generator.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if _, err := parsePositiveDuration(c.Storage.PollInterval); err != nil {
		problems = append(problems, fmt.Sprintf("storage.poll_interval: %v", err))
	}
	if _, err := parsePositiveDuration(c.Generator.Timeout); err != nil {
		problems = append(problems, fmt.Sprintf("generator.timeout: %v", err))
	}
	switch c.Generator.Provider {
	case generator.ProviderOpenAI, generator.ProviderOpenRouter, generator.ProviderOllama, generator.ProviderRemote:
	default:
		problems = append(problems, fmt.Sprintf("generator.provider %q is not one of openai, openrouter, ollama, remote", c.Generator.Provider))
	}
	if c.Feedback.MaxRetainedRuns <= 0 || c.Feedback.MaxRunsPerDay <= 0 || c.Feedback.DigestLimit <= 0 {
		problems = append(problems, "feedback limits must be positive")
	}
	if strings.TrimSpace(c.User.ID) == "" || strings.Contains(c.User.ID, "/") {
		problems = append(problems, fmt.Sprintf("user.id %q is not a valid id", c.User.ID))
	}
	if _, err := journal.LoadLocation(c.User.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("user.timezone: %v", err))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PollInterval is the parsed storage.poll_interval.
func (c Config) PollInterval() time.Duration {
	d, _ := parsePositiveDuration(c.Storage.PollInterval)
	return d
}

// GeneratorSettings turns the generator section into generator settings.
func (c Config) GeneratorSettings() generator.Settings {
	d, _ := parsePositiveDuration(c.Generator.Timeout)
	return generator.Settings{
		Provider: c.Generator.Provider,
		APIKey:   c.Generator.APIKey,
		BaseURL:  c.Generator.BaseURL,
		Model:    c.Generator.Model,
		Timeout:  d,
	}
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}
