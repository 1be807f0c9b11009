package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.values[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]any
}

func newMemBackend(data map[string]any) *memBackend {
	if data == nil {
		data = make(map[string]any)
	}
	return &memBackend{data: data}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, errors.New("not a string")
	}
	return s, true, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (b *memBackend) SetString(key, val string) error { b.data[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *memBackend) Delete(key string) error         { delete(b.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "mistral-small" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "mistral-small")
	}
	if cfg.LLM.Mode != "fallback" {
		t.Errorf("LLM.Mode = %q, want %q", cfg.LLM.Mode, "fallback")
	}
	if cfg.Conversation.Window != 8 || cfg.Conversation.Head != 2 || cfg.Conversation.MaxChars != 1500 {
		t.Errorf("Conversation = %+v, want window 8 head 2 max 1500", cfg.Conversation)
	}
	if cfg.Extraction.Provider != "process" {
		t.Errorf("Extraction.Provider = %q, want process", cfg.Extraction.Provider)
	}
	if want := filepath.Join(cfg.Storage.DataDir, "uploads"); cfg.Extraction.UploadDir != want {
		t.Errorf("Extraction.UploadDir = %q, want %q", cfg.Extraction.UploadDir, want)
	}
	if cfg.Jira.RedirectURI != "http://localhost:3000/api/jira/callback" {
		t.Errorf("Jira.RedirectURI = %q", cfg.Jira.RedirectURI)
	}
	if cfg.Jira.Enabled() {
		t.Error("Jira should be disabled without client credentials")
	}
}

// TestBackendValues verifies values are read from the platform backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{
		"server.port":         5000,
		"llm.model":           "mistral-large",
		"extraction.provider": "native",
		"jira.client_id":      "client-1",
		"jira.secure_cookies": "true",
		"conversation.window": 10,
	})

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "mistral-large" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Extraction.Provider != "native" {
		t.Errorf("Extraction.Provider = %q", cfg.Extraction.Provider)
	}
	if cfg.Jira.ClientID != "client-1" {
		t.Errorf("Jira.ClientID = %q", cfg.Jira.ClientID)
	}
	if !cfg.Jira.SecureCookies {
		t.Error("Jira.SecureCookies = false, want true")
	}
	if cfg.Conversation.Window != 10 {
		t.Errorf("Conversation.Window = %d, want 10", cfg.Conversation.Window)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQAI_LLM_MODEL", "env-model")
	t.Setenv("REQAI_SERVER_PORT", "7000")

	b := newMemBackend(map[string]any{"llm.model": "file-model"})
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Model != "env-model" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "env-model")
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}

// TestInvalidEnvIntKeepsDefault verifies a malformed integer does not clobber the default.
func TestInvalidEnvIntKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQAI_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(newMemBackend(nil), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
}

// TestSecretsIgnoredInBackend verifies secrets cannot come from the plain config backend.
func TestSecretsIgnoredInBackend(t *testing.T) {
	clearEnv(t)

	b := newMemBackend(map[string]any{"llm.api_key": "from-file"})
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestKeychainFallback verifies the secret store is consulted when no secret is in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	kc := mockKeychain{values: map[string]string{
		"llm_api_key":        "keychain-llm",
		"jira_client_secret": "keychain-jira",
	}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.APIKey != "keychain-llm" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "keychain-llm")
	}
	if cfg.Jira.ClientSecret != "keychain-jira" {
		t.Errorf("Jira.ClientSecret = %q, want %q", cfg.Jira.ClientSecret, "keychain-jira")
	}
}

// TestEnvSecretWinsOverKeychain verifies env secrets are not replaced by the secret store.
func TestEnvSecretWinsOverKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQAI_LLM_API_KEY", "env-key")

	kc := mockKeychain{values: map[string]string{"llm_api_key": "keychain-key"}}
	cfg, err := loadWith(newMemBackend(nil), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "env-key")
	}
}

// TestMissingKeyInErrorMode verifies a clear error when strict mode has no API key.
func TestMissingKeyInErrorMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQAI_LLM_MODE", "error")

	_, err := loadWith(newMemBackend(nil), mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "missing required config")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad mode", map[string]string{"REQAI_LLM_MODE": "sometimes"}},
		{"bad provider", map[string]string{"REQAI_EXTRACTION_PROVIDER": "magic"}},
		{"head not below window", map[string]string{"REQAI_CONVERSATION_WINDOW": "2", "REQAI_CONVERSATION_HEAD": "2"}},
		{"zero max chars", map[string]string{"REQAI_CONVERSATION_MAX_CHARS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadWith(newMemBackend(nil), mockKeychain{}); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "super-secret"

	for _, k := range ShowAll(cfg) {
		if k.Value == "super-secret" {
			t.Errorf("secret leaked via key %s", k.Key)
		}
		if k.Key == "llm.api_key" {
			t.Error("llm.api_key should not be listed")
		}
	}
}
