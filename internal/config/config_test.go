package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  dsn: postgres://localhost/ledger\n")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Env != "dev" {
		t.Errorf("env = %q, want dev", c.App.Env)
	}
	if c.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", c.HTTP.Addr)
	}
	if c.Storage.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", c.Storage.Driver)
	}
	if c.Alerts.ExpiryDays != 30 || c.Alerts.IntervalMin != 60 {
		t.Errorf("alert defaults = %d/%d", c.Alerts.ExpiryDays, c.Alerts.IntervalMin)
	}
}

func TestLoadReadsValues(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
http:
  addr: ":9090"
storage:
  driver: memory
alerts:
  enabled: true
  chat_id: 123456
  expiry_days: 14
`)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.App.Env != "prod" || c.HTTP.Addr != ":9090" || c.Storage.Driver != "memory" {
		t.Errorf("loaded = %+v", c)
	}
	if !c.Alerts.Enabled || c.Alerts.ChatID != 123456 || c.Alerts.ExpiryDays != 14 {
		t.Errorf("alerts = %+v", c.Alerts)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
