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
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account, for secrets only
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REQAI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.app_url", typ: kString, env: "REQAI_SERVER_APP_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.AppURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AppURL },
	},
	{
		key: "server.api_token", typ: kString, env: "REQAI_SERVER_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "REQAI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REQAI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "extraction.provider", typ: kString, env: "REQAI_EXTRACTION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.Provider },
	},
	{
		key: "extraction.command", typ: kString, env: "REQAI_EXTRACTION_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.Command },
	},
	{
		key: "extraction.output_file", typ: kString, env: "REQAI_EXTRACTION_OUTPUT_FILE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.OutputFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.OutputFile },
	},
	{
		key: "extraction.upload_dir", typ: kString, env: "REQAI_EXTRACTION_UPLOAD_DIR",
		apply:   func(cfg *Config, v any) { cfg.Extraction.UploadDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.UploadDir },
	},
	{
		key: "extraction.timeout", typ: kString, env: "REQAI_EXTRACTION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Extraction.Timeout },
	},
	{
		key: "llm.base_url", typ: kString, env: "REQAI_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "REQAI_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "REQAI_LLM_API_KEY",
		secret: true, account: "llm_api_key",
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.mode", typ: kString, env: "REQAI_LLM_MODE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Mode },
	},
	{
		key: "llm.timeout", typ: kString, env: "REQAI_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "conversation.window", typ: kInt, env: "REQAI_CONVERSATION_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Window = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.Window },
	},
	{
		key: "conversation.head", typ: kInt, env: "REQAI_CONVERSATION_HEAD",
		apply:   func(cfg *Config, v any) { cfg.Conversation.Head = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.Head },
	},
	{
		key: "conversation.max_chars", typ: kInt, env: "REQAI_CONVERSATION_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Conversation.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Conversation.MaxChars },
	},
	{
		key: "jira.client_id", typ: kString, env: "REQAI_JIRA_CLIENT_ID",
		apply:   func(cfg *Config, v any) { cfg.Jira.ClientID = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.ClientID },
	},
	{
		key: "jira.client_secret", typ: kString, env: "REQAI_JIRA_CLIENT_SECRET",
		secret: true, account: "jira_client_secret",
		apply:   func(cfg *Config, v any) { cfg.Jira.ClientSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.ClientSecret },
	},
	{
		key: "jira.redirect_uri", typ: kString, env: "REQAI_JIRA_REDIRECT_URI",
		apply:   func(cfg *Config, v any) { cfg.Jira.RedirectURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Jira.RedirectURI },
	},
	{
		key: "jira.secure_cookies", typ: kBool, env: "REQAI_JIRA_SECURE_COOKIES",
		apply:   func(cfg *Config, v any) { cfg.Jira.SecureCookies = v.(bool) },
		extract: func(cfg Config) any { return cfg.Jira.SecureCookies },
	},
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
