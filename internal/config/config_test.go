package config

import (
	"path/filepath"
	"testing"
)

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig(t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Server.Port = 8765
	cfg.Database.Path = filepath.Join(dir, "custom.db")
	cfg.Notifications.Desktop = false

	if err := WriteConfig(dir, cfg); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	got, err := ReadConfig(dir)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if got.Server.Port != 8765 {
		t.Errorf("expected port 8765, got %d", got.Server.Port)
	}
	if got.Database.Path != cfg.Database.Path {
		t.Errorf("database path not round-tripped: %s", got.Database.Path)
	}
	if got.Notifications.Desktop {
		t.Error("desktop notifications should be off")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg := LoadOrDefault(t.TempDir())

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host, got %s", cfg.Server.Host)
	}
	if cfg.Inbox.MaxPollSeconds != 120 || cfg.Inbox.DefaultPollSeconds != 30 {
		t.Errorf("unexpected poll bounds: %+v", cfg.Inbox)
	}
}

func TestLoadOrDefaultFillsZeroValues(t *testing.T) {
	dir := t.TempDir()

	partial := &Config{Version: 1, Server: ServerConfig{Port: 9000}}
	if err := WriteConfig(dir, partial); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg := LoadOrDefault(dir)
	if cfg.Server.Port != 9000 {
		t.Errorf("explicit port must survive, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("zero host must fall back, got %q", cfg.Server.Host)
	}
	if cfg.Inbox.MaxPollSeconds != 120 {
		t.Errorf("zero poll bound must fall back, got %d", cfg.Inbox.MaxPollSeconds)
	}
}
