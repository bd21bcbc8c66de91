package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wstr.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigExample(t *testing.T) {
	cfg, err := loadConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MemoryLimitPages != 256 {
		t.Fatalf("unexpected memory limit: %d", cfg.MemoryLimitPages)
	}
	if cfg.GuestMaxPages != 64 {
		t.Fatalf("unexpected guest max pages: %d", cfg.GuestMaxPages)
	}
	if cfg.ScanLimit != 65536 {
		t.Fatalf("unexpected scan limit: %d", cfg.ScanLimit)
	}
	if cfg.HostModule != "foo" || !cfg.HostImport {
		t.Fatalf("unexpected host settings: %q %v", cfg.HostModule, cfg.HostImport)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level: %q", cfg.LogLevel)
	}
}

func TestLoadConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, "guest_max_pages = 2\n")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultConfig()
	if cfg.GuestMaxPages != 2 {
		t.Fatalf("unexpected guest max pages: %d", cfg.GuestMaxPages)
	}
	if cfg.HostModule != def.HostModule || cfg.HostImport != def.HostImport || cfg.LogLevel != def.LogLevel {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigExplicitFalse(t *testing.T) {
	path := writeConfig(t, "host_import = false\nhost_module = \"  \"\n")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HostImport {
		t.Fatal("expected host import disabled")
	}
	if cfg.HostModule != defaultConfig().HostModule {
		t.Fatalf("blank host module should keep the default, got %q", cfg.HostModule)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "memory_limit_pages = \n"},
		{"unknown key", "memory_pages = 4\n"},
		{"bad level", "log_level = \"loud\"\n"},
		{"wrong type", "host_import = \"yes\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigNewLogger(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	log, err := cfg.newLogger()
	if err != nil {
		t.Fatal(err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatal("expected debug level enabled")
	}
}
