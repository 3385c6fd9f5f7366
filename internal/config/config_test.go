package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AI_PROVIDER", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderOpenAI || cfg.AI.OpenAI.Model != "gpt-4o" {
		t.Fatalf("unexpected provider defaults: %+v", cfg.AI)
	}
	if cfg.Chat.MaxDuration != 30*time.Second {
		t.Fatalf("expected 30s max duration, got %s", cfg.Chat.MaxDuration)
	}
	if cfg.Render.HighlightStyle != "github-dark" {
		t.Fatalf("unexpected highlight style %q", cfg.Render.HighlightStyle)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9090")
	t.Setenv("AI_PROVIDER", " Ark ")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "ep-123")
	t.Setenv("CHAT_MAX_DURATION", "45s")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.AI.Provider != ProviderArk {
		t.Fatalf("expected ark provider, got %q", cfg.AI.Provider)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("ark with api key and model should be enabled")
	}
	if cfg.Chat.MaxDuration != 45*time.Second {
		t.Fatalf("expected 45s, got %s", cfg.Chat.MaxDuration)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 {
		t.Fatalf("expected 2.5 rps, got %v", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "server:\n  addr: \"3000\"\nai:\n  system_prompt: be brief\nrender:\n  highlight_style: monokai\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.Server.Addr)
	}
	if cfg.AI.SystemPrompt != "be brief" || cfg.Render.HighlightStyle != "monokai" {
		t.Fatalf("file values not applied: %+v %+v", cfg.AI, cfg.Render)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "bogus")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"":           ":8080",
		"9000":       ":9000",
		":7000":      ":7000",
		"0.0.0.0:80": "0.0.0.0:80",
	}
	for in, want := range cases {
		got, err := normalizeAddr(in)
		if err != nil || got != want {
			t.Fatalf("normalizeAddr(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := normalizeAddr("80 80"); err == nil {
		t.Fatal("expected error for address with space")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	if (AIConfig{Provider: ProviderOpenAI, OpenAI: OpenAIConfig{Model: "gpt-4o"}}).Enabled() {
		t.Fatal("openai without key should be disabled")
	}
	if !(AIConfig{Provider: ProviderArk, Ark: ArkConfig{Model: "m", AccessKey: "a", SecretKey: "s"}}).Enabled() {
		t.Fatal("ark with access/secret key should be enabled")
	}
}
