package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }

func (m *mapBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// fakeKeychain is a test double for the Keychain interface.
type fakeKeychain struct {
	secrets map[string]string
	setErr  error
}

func newFakeKeychain() *fakeKeychain {
	return &fakeKeychain{secrets: map[string]string{}}
}

func (k *fakeKeychain) Get(service, account string) (string, error) {
	v, ok := k.secrets[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (k *fakeKeychain) Set(service, account, value string) error {
	if k.setErr != nil {
		return k.setErr
	}
	k.secrets[service+"/"+account] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapBackend(), newFakeKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval())
	}
	if cfg.Generator.Provider != "openai" || cfg.Generator.Model != "gpt-4o-mini" {
		t.Errorf("Generator = %+v", cfg.Generator)
	}
	if cfg.Generator.APIKey != "" {
		t.Errorf("Generator.APIKey = %q, want empty", cfg.Generator.APIKey)
	}
	if cfg.Feedback.MaxRetainedRuns != 3 || cfg.Feedback.MaxRunsPerDay != 4 || cfg.Feedback.DigestLimit != 50 {
		t.Errorf("Feedback = %+v", cfg.Feedback)
	}
	if cfg.User.ID != "local" || cfg.User.Timezone != "Asia/Seoul" {
		t.Errorf("User = %+v", cfg.User)
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if s := cfg.GeneratorSettings(); s.Timeout != time.Minute {
		t.Errorf("GeneratorSettings().Timeout = %v, want 1m", s.Timeout)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.ints["feedback.max_runs_per_day"] = 6
	b.strs["generator.provider"] = "ollama"
	b.strs["user.timezone"] = "Europe/Berlin"

	cfg, err := loadWith(b, newFakeKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 || cfg.Feedback.MaxRunsPerDay != 6 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Generator.Provider != "ollama" || cfg.User.Timezone != "Europe/Berlin" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.ints["server.port"] = 5000

	t.Setenv("TIMELEDGER_SERVER_PORT", "6000")
	t.Setenv("TIMELEDGER_GENERATOR_MODEL", "gpt-4o")
	t.Setenv("TIMELEDGER_FEEDBACK_DIGEST_LIMIT", "not-a-number")

	cfg, err := loadWith(b, newFakeKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Generator.Model != "gpt-4o" {
		t.Errorf("Generator.Model = %q", cfg.Generator.Model)
	}
	if cfg.Feedback.DigestLimit != 50 {
		t.Errorf("unparseable env var should keep default, got %d", cfg.Feedback.DigestLimit)
	}
}

func TestGeneratorKey(t *testing.T) {
	clearEnv(t)
	kc := newFakeKeychain()
	kc.secrets["timeledger/generator_api_key"] = "from-keychain"

	cfg, err := loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.APIKey != "from-keychain" {
		t.Errorf("APIKey = %q, want from-keychain", cfg.Generator.APIKey)
	}

	t.Setenv("TIMELEDGER_GENERATOR_API_KEY", "from-env")
	cfg, err = loadWith(newMapBackend(), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.APIKey != "from-env" {
		t.Errorf("APIKey = %q, env should win", cfg.Generator.APIKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"poll interval", func(c *Config) { c.Storage.PollInterval = "soon" }, "storage.poll_interval"},
		{"negative timeout", func(c *Config) { c.Generator.Timeout = "-1s" }, "generator.timeout"},
		{"provider", func(c *Config) { c.Generator.Provider = "gemini" }, "generator.provider"},
		{"limits", func(c *Config) { c.Feedback.MaxRunsPerDay = 0 }, "feedback limits"},
		{"user id", func(c *Config) { c.User.ID = "a/b" }, "user.id"},
		{"timezone", func(c *Config) { c.User.Timezone = "Mars/Olympus" }, "user.timezone"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad_InvalidBackendValue(t *testing.T) {
	clearEnv(t)
	b := newMapBackend()
	b.strs["user.timezone"] = "Nowhere/Special"

	if _, err := loadWith(b, newFakeKeychain()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKey(b, "user.timezone", "UTC"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b.strs["user.timezone"] != "UTC" {
		t.Errorf("user.timezone = %q", b.strs["user.timezone"])
	}

	for _, tc := range []struct{ key, value string }{
		{"server.port", "abc"},
		{"user.timezone", "Not/AZone"},
		{"generator.api_key", "secret"},
		{"no.such.key", "x"},
	} {
		if err := setKey(b, tc.key, tc.value); err == nil {
			t.Errorf("setKey(%q, %q) expected error", tc.key, tc.value)
		}
	}
	if _, ok := b.strs["generator.api_key"]; ok {
		t.Error("secret must not be written to the backend")
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Generator.APIKey = "sk-live"

	var found bool
	for _, k := range ShowAll(cfg) {
		if k.Key == "generator.api_key" {
			found = true
			if k.Value != "(set)" {
				t.Errorf("secret value = %q, want (set)", k.Value)
			}
		}
		if strings.Contains(k.Value, "sk-live") {
			t.Errorf("secret leaked in %s", k.Key)
		}
	}
	if !found {
		t.Error("generator.api_key not listed")
	}
	for _, k := range ValidKeys() {
		if k == "generator.api_key" {
			t.Error("ValidKeys must not list secrets")
		}
	}
}

func TestGetAPIToken(t *testing.T) {
	kc := newFakeKeychain()

	tok, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("token length = %d, want 64", len(tok))
	}
	again, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if again != tok {
		t.Fatal("token should be stable once stored")
	}

	failing := newFakeKeychain()
	failing.setErr = errors.New("locked")
	if _, err := GetAPIToken(failing); err == nil {
		t.Fatal("expected error when the token cannot be stored")
	}
}

func TestSetGeneratorKey(t *testing.T) {
	kc := newFakeKeychain()
	if err := SetGeneratorKey(kc, "  "); err == nil {
		t.Fatal("expected error for blank key")
	}
	if err := SetGeneratorKey(kc, " sk-1 "); err != nil {
		t.Fatalf("SetGeneratorKey: %v", err)
	}
	if kc.secrets["timeledger/generator_api_key"] != "sk-1" {
		t.Fatalf("secrets = %v", kc.secrets)
	}
}

func TestFileBackend(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "nested", "config.json"))

	if _, ok, err := b.GetString("log.level"); ok || err != nil {
		t.Fatalf("empty backend: ok=%v err=%v", ok, err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	if v, ok, err := b.GetString("log.level"); !ok || err != nil || v != "debug" {
		t.Fatalf("GetString = %q, %v, %v", v, ok, err)
	}
	if v, ok, err := b.GetInt("server.port"); !ok || err != nil || v != 4300 {
		t.Fatalf("GetInt = %d, %v, %v", v, ok, err)
	}
	if _, _, err := b.GetInt("log.level"); err == nil {
		t.Fatal("expected type error reading a string as int")
	}

	if err := b.Delete("log.level"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := b.GetString("log.level"); ok {
		t.Fatal("key should be gone after Delete")
	}

	clearEnv(t)
	cfg, err := loadWith(b, newFakeKeychain())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want 4300", cfg.Server.Port)
	}
}
