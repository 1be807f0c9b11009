package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Storage      StorageConfig
	Extraction   ExtractionConfig
	LLM          LLMConfig
	Conversation ConversationConfig
	Jira         JiraConfig
}

type ServerConfig struct {
	Port     int
	AppURL   string
	APIToken string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// ExtractionConfig controls how uploaded documents are turned into text.
// Provider is "process" (external command) or "native" (in-process readers).
type ExtractionConfig struct {
	Provider   string
	Command    string
	OutputFile string
	UploadDir  string
	Timeout    string
}

// LLMConfig points at an OpenAI-compatible chat-completion endpoint.
// Mode is "fallback" (canned local reply on failure) or "error".
type LLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Mode    string
	Timeout string
}

type ConversationConfig struct {
	Window   int
	Head     int
	MaxChars int
}

type JiraConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	SecureCookies bool
}

// Enabled reports whether enough OAuth settings exist to run the Jira flow.
func (j JiraConfig) Enabled() bool {
	return j.ClientID != "" && j.ClientSecret != ""
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:   3000,
			AppURL: "http://localhost:3000",
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Extraction: ExtractionConfig{
			Provider: "process",
			Command:  "backend/extract.sh",
			Timeout:  "2m",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.mistral.ai/v1",
			Model:   "mistral-small",
			Mode:    "fallback",
			Timeout: "60s",
		},
		Conversation: ConversationConfig{
			Window:   8,
			Head:     2,
			MaxChars: 1500,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.reqai.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/reqai/config.json
// and secrets come from environment variables or the secrets file.
//
// Environment variables (REQAI_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)
	resolvePaths(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applySecrets fills secret keys that are still empty from the platform
// secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.account == "" {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func resolvePaths(cfg *Config) {
	if cfg.Extraction.UploadDir == "" {
		cfg.Extraction.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}
	if cfg.Extraction.OutputFile == "" {
		cfg.Extraction.OutputFile = filepath.Join(cfg.Storage.DataDir, "provider_output.json")
	}
	if cfg.Jira.RedirectURI == "" {
		cfg.Jira.RedirectURI = strings.TrimRight(cfg.Server.AppURL, "/") + "/api/jira/callback"
	}
}

func validate(cfg Config) error {
	switch cfg.LLM.Mode {
	case "fallback", "error":
	default:
		return fmt.Errorf("invalid llm.mode %q: must be \"fallback\" or \"error\"", cfg.LLM.Mode)
	}
	switch cfg.Extraction.Provider {
	case "process", "native":
	default:
		return fmt.Errorf("invalid extraction.provider %q: must be \"process\" or \"native\"", cfg.Extraction.Provider)
	}
	if cfg.Conversation.Window <= 0 || cfg.Conversation.Head < 0 || cfg.Conversation.Head >= cfg.Conversation.Window {
		return fmt.Errorf("invalid conversation window: head=%d window=%d", cfg.Conversation.Head, cfg.Conversation.Window)
	}
	if cfg.Conversation.MaxChars <= 0 {
		return fmt.Errorf("invalid conversation.max_chars %d", cfg.Conversation.MaxChars)
	}
	if cfg.LLM.Mode == "error" && cfg.LLM.APIKey == "" {
		msg := "missing required config: LLM API key. " +
			"Set it via environment variable REQAI_LLM_API_KEY" +
			apiKeyHint()
		return fmt.Errorf("%s", msg)
	}
	return nil
}

const keychainService = "reqai"

// keychainReader reads secrets via the platform keychain helper.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
