package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TIMELEDGER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TIMELEDGER_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.poll_interval", typ: kString, env: "TIMELEDGER_STORAGE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Storage.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PollInterval },
	},
	{
		key: "generator.provider", typ: kString, env: "TIMELEDGER_GENERATOR_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generator.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Provider },
	},
	{
		key: "generator.api_key", typ: kString, env: "TIMELEDGER_GENERATOR_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generator.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.APIKey },
	},
	{
		key: "generator.base_url", typ: kString, env: "TIMELEDGER_GENERATOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.BaseURL },
	},
	{
		key: "generator.model", typ: kString, env: "TIMELEDGER_GENERATOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Model },
	},
	{
		key: "generator.timeout", typ: kString, env: "TIMELEDGER_GENERATOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generator.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Timeout },
	},
	{
		key: "feedback.max_retained_runs", typ: kInt, env: "TIMELEDGER_FEEDBACK_MAX_RETAINED_RUNS",
		apply:   func(cfg *Config, v any) { cfg.Feedback.MaxRetainedRuns = v.(int) },
		extract: func(cfg Config) any { return cfg.Feedback.MaxRetainedRuns },
	},
	{
		key: "feedback.max_runs_per_day", typ: kInt, env: "TIMELEDGER_FEEDBACK_MAX_RUNS_PER_DAY",
		apply:   func(cfg *Config, v any) { cfg.Feedback.MaxRunsPerDay = v.(int) },
		extract: func(cfg Config) any { return cfg.Feedback.MaxRunsPerDay },
	},
	{
		key: "feedback.digest_limit", typ: kInt, env: "TIMELEDGER_FEEDBACK_DIGEST_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Feedback.DigestLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Feedback.DigestLimit },
	},
	{
		key: "user.id", typ: kString, env: "TIMELEDGER_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.User.ID = v.(string) },
		extract: func(cfg Config) any { return cfg.User.ID },
	},
	{
		key: "user.timezone", typ: kString, env: "TIMELEDGER_USER_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.User.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.User.Timezone },
	},
	{
		key: "log.level", typ: kString, env: "TIMELEDGER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "TIMELEDGER_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
