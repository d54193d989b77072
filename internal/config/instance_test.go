package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrInit_WritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	ins, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	cfg, err := ins.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.Bot.Type != "echo" || cfg.Server.Timeout != defaultServerTimeoutSec || cfg.Server.WSAttempts != defaultWSAttempts {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestSettingStore_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ins, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	store := ins.Settings()
	if _, ok := store.Get("server_address"); ok {
		t.Fatal("expected no cached server address")
	}
	if err := store.Set("server_address", "https://server.kahla.app"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, ok := store.Get("server_address"); !ok || got != "https://server.kahla.app" {
		t.Fatalf("Get after Set = %q, %v", got, ok)
	}

	// A fresh manager sees the persisted value.
	reloaded, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, ok := reloaded.Settings().Get("server_address"); !ok || got != "https://server.kahla.app" {
		t.Fatalf("reloaded setting = %q, %v", got, ok)
	}

	if err := reloaded.Settings().Delete("server_address"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := reloaded.Settings().Get("server_address"); ok {
		t.Fatal("setting still present after Delete")
	}
}

func TestInstanceManager_ApplyWithCAS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ins, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}

	hash, err := ins.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if err := ins.ApplyWithCAS("settings", map[string]string{"a": "1"}, hash); err != nil {
		t.Fatalf("ApplyWithCAS: %v", err)
	}
	err = ins.ApplyWithCAS("settings", map[string]string{"a": "2"}, hash)
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("stale ApplyWithCAS error = %v, want ErrConfigConflict", err)
	}
	if err := ins.ApplyWithCAS("server", &ServerConfig{Timeout: 9}, ""); err == nil {
		t.Fatal("ApplyWithCAS on a static section expected error")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), `a: "1"`) {
		t.Fatalf("applied setting not persisted:\n%s", raw)
	}

	backups, _ := filepath.Glob(path + ".[0-9]*")
	if len(backups) == 0 {
		t.Fatal("expected a backup of the previous config")
	}
}

func TestInstanceManager_ApplyWithCASDetectsOtherWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	running, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	shell, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("second LoadOrInit: %v", err)
	}

	if err := shell.Settings().Set("server_address", "https://staging.server.kahla.app"); err != nil {
		t.Fatalf("shell Set: %v", err)
	}

	hash, _ := running.Hash()
	err = running.ApplyWithCAS("settings", map[string]string{"other": "x"}, hash)
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("ApplyWithCAS over a foreign write error = %v, want ErrConfigConflict", err)
	}
}

func TestSettingStore_ConcurrentWritersKeepBothSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	running, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	shell, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("second LoadOrInit: %v", err)
	}

	if err := shell.Settings().Set("log_hint", "verbose"); err != nil {
		t.Fatalf("shell Set: %v", err)
	}
	// The running manager still holds the old snapshot; its write must
	// reload and keep the shell's setting.
	if err := running.Settings().Set("server_address", "https://server.kahla.app"); err != nil {
		t.Fatalf("running Set: %v", err)
	}

	fresh, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	store := fresh.Settings()
	if got, ok := store.Get("log_hint"); !ok || got != "verbose" {
		t.Fatalf("log_hint = %q, %v; lost by the second writer", got, ok)
	}
	if got, ok := store.Get("server_address"); !ok || got != "https://server.kahla.app" {
		t.Fatalf("server_address = %q, %v", got, ok)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{
		Logging:  LoggingConfig{Output: "FILE"},
		Settings: map[string]string{" server_address ": "x"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Logging.Output != "file" || cfg.Logging.File == "" {
		t.Fatalf("logging not normalised: %+v", cfg.Logging)
	}
	if _, ok := cfg.Settings["server_address"]; !ok {
		t.Fatalf("setting names not trimmed: %v", cfg.Settings)
	}

	bad := &Config{Logging: LoggingConfig{Output: "syslog"}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for unsupported output")
	}

	clash := &Config{Status: StatusConfig{Enabled: true, Bind: ":9000", MetricsBind: ":9000"}}
	if err := clash.Validate(); err == nil {
		t.Fatal("expected error for identical status binds")
	}
}
