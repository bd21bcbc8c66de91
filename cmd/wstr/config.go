package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-strings/runtime"
)

type config struct {
	Wasm             string
	MemoryLimitPages uint32
	GuestMaxPages    uint32
	ScanLimit        uint32
	HostModule       string
	HostImport       bool
	Interactive      bool
	LogLevel         string
}

type fileConfig struct {
	Wasm             string `toml:"wasm"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	GuestMaxPages    uint32 `toml:"guest_max_pages"`
	ScanLimit        uint32 `toml:"scan_limit"`
	HostModule       string `toml:"host_module"`
	HostImport       bool   `toml:"host_import"`
	Interactive      bool   `toml:"interactive"`
	LogLevel         string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		HostModule: runtime.DefaultHostModule,
		HostImport: true,
		LogLevel:   "warn",
	}
}

// loadConfig overlays the keys present in the TOML file at path onto the
// defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("wasm") {
		cfg.Wasm = strings.TrimSpace(raw.Wasm)
	}
	if meta.IsDefined("memory_limit_pages") {
		cfg.MemoryLimitPages = raw.MemoryLimitPages
	}
	if meta.IsDefined("guest_max_pages") {
		cfg.GuestMaxPages = raw.GuestMaxPages
	}
	if meta.IsDefined("scan_limit") {
		cfg.ScanLimit = raw.ScanLimit
	}
	if meta.IsDefined("host_module") {
		if v := strings.TrimSpace(raw.HostModule); v != "" {
			cfg.HostModule = v
		}
	}
	if meta.IsDefined("host_import") {
		cfg.HostImport = raw.HostImport
	}
	if meta.IsDefined("interactive") {
		cfg.Interactive = raw.Interactive
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if _, err := zap.ParseAtomicLevel(cfg.LogLevel); err != nil {
		return config{}, fmt.Errorf("parse log_level: %w", err)
	}
	return cfg, nil
}

func (c config) runtimeConfig() *runtime.Config {
	return &runtime.Config{
		MemoryLimitPages: c.MemoryLimitPages,
		HostModule:       c.HostModule,
		ScanLimit:        c.ScanLimit,
	}
}

func (c config) guestConfig() *runtime.GuestConfig {
	return &runtime.GuestConfig{
		MaxPages:   c.GuestMaxPages,
		HostImport: c.HostImport,
	}
}

// newLogger builds a console logger writing to stderr at the configured level.
func (c config) newLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = level
	zc.DisableStacktrace = true
	return zc.Build()
}
