package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "123:abc", RunMode: "polling"}}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode=%q", cfg.Telegram.RunMode)
	}
	if cfg.Chain.StateBackend != BackendSQL || cfg.Chain.ContentBackend != BackendSQL || !cfg.UsesSQL() {
		t.Fatalf("backends=%s/%s", cfg.Chain.StateBackend, cfg.Chain.ContentBackend)
	}
	if got := cfg.Chain.MaxContentsPerUser(); got != DefaultMaxCallbackContentsPerUser {
		t.Fatalf("max contents=%d", got)
	}

	mem := &Config{Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{StateBackend: "Memory"}}
	if err := Normalize(mem); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if mem.Chain.ContentBackend != BackendMemory || mem.UsesSQL() {
		t.Fatalf("memory state should pull contents into memory, got %s", mem.Chain.ContentBackend)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tooLow, zero := -2, 0
	cases := map[string]Config{
		"no token":        {},
		"bad run mode":    {Telegram: TelegramConfig{Token: "x", RunMode: "push"}},
		"webhook no url":  {Telegram: TelegramConfig{Token: "x", RunMode: RunModeWebhook}},
		"bad exclude":     {Telegram: TelegramConfig{Token: "x"}, RateLimit: RateLimitConfig{ExcludeUpdates: []string{"poll"}}},
		"cap below -1":    {Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{MaxCallbackContentsPerUser: &tooLow}},
		"cap zero":        {Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{MaxCallbackContentsPerUser: &zero}},
		"redis no addr":   {Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{StateBackend: BackendRedis}},
		"redis contents":  {Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{ContentBackend: BackendRedis}},
		"negative budget": {Telegram: TelegramConfig{Token: "x"}, Chain: ChainConfig{DispatchTimeoutMS: -1}},
	}
	for name, cfg := range cases {
		if err := Normalize(&cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOverlaysEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	raw := []byte(`telegram:
  token: file-token
  admin_id: 42
chain:
  state_backend: memory
  max_callback_contents_per_user: -1
rate_limit:
  exclude_updates: [" Callback "]
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BOT_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.AdminID != 42 {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Chain.MaxContentsPerUser() != -1 {
		t.Fatalf("max contents=%d", cfg.Chain.MaxContentsPerUser())
	}
	if cfg.RateLimit.ExcludeUpdates[0] != UpdateCallback {
		t.Fatalf("exclude=%v", cfg.RateLimit.ExcludeUpdates)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
