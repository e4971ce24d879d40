package main

import (
	"os"
	"path/filepath"
	"testing"

	coreconfig "github.com/m3rciful/chainbot/core/config"
	coredatabase "github.com/m3rciful/chainbot/core/database"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainbot.yaml")
	raw := `
telegram:
  token: "123:abc"
  run_mode: polling
chain:
  state_backend: sql
  max_callback_contents_per_user: 5
database:
  driver: sqlite
  path: /tmp/chainbot.db
metrics:
  listen: ":9090"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	carrier, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := carrier.(*AppConfig)
	core := carrier.CoreConfig()
	if core.Telegram.RunMode != coreconfig.RunModeLongpoll || core.Chain.MaxContentsPerUser() != 5 {
		t.Fatalf("core config not normalized: %+v", core)
	}
	if core.Chain.ContentBackend != coreconfig.BackendSQL || core.Metrics.Listen != ":9090" {
		t.Fatalf("chain=%+v metrics=%+v", core.Chain, core.Metrics)
	}
	if cfg.Database.DriverName() != coredatabase.DriverSQLite || cfg.Database.Path != "/tmp/chainbot.db" {
		t.Fatalf("database=%+v", cfg.Database)
	}
}

func TestLoadConfigRejectsMissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainbot.yaml")
	if err := os.WriteFile(path, []byte("chain:\n  state_backend: memory\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BOT_TOKEN", "")
	if _, err := loadConfig(path); err == nil {
		t.Fatalf("expected missing token error")
	}
}
