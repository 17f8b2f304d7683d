package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("expected default address, got %s", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != defaultDatabasePath || cfg.CallLogPath != defaultCallLogPath || cfg.ContactsPath != defaultContactsPath {
		t.Fatalf("unexpected default paths %#v", cfg)
	}
	if !cfg.WatchRegistries {
		t.Fatalf("expected registry watching to be on by default")
	}
	if cfg.AuthEnabled() {
		t.Fatalf("expected auth to be disabled without a signing secret")
	}
	if cfg.TokenTTL() != 30*24*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SUPERDIALER_DATABASE_PATH", "/tmp/dialer.db")
	t.Setenv("SUPERDIALER_LOG_LEVEL", "DEBUG")
	t.Setenv("SUPERDIALER_REGISTRY_WATCH", "false")
	t.Setenv("SUPERDIALER_AUTH_SIGNING_SECRET", "0123456789abcdef0123")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/dialer.db" {
		t.Fatalf("expected env database path, got %s", cfg.DatabasePath)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %s", cfg.LogLevel)
	}
	if cfg.WatchRegistries {
		t.Fatalf("expected registry watching to be disabled")
	}
	if !cfg.AuthEnabled() {
		t.Fatalf("expected auth to be enabled")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "superdialer.yaml")
	body := strings.Join([]string{
		"http:",
		"  address: 0.0.0.0:9000",
		"  allowed_origins:",
		"    - http://localhost:3000",
		"registry:",
		"  call_log_path: /data/calls.db",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	configViper := NewViper()
	configViper.SetConfigFile(path)
	if err := configViper.ReadInConfig(); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:9000" || cfg.CallLogPath != "/data/calls.db" {
		t.Fatalf("unexpected file values %#v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value any
	}{
		{name: "blank database path", key: "database.path", value: "  "},
		{name: "blank call log path", key: "registry.call_log_path", value: ""},
		{name: "unknown log level", key: "log.level", value: "verbose"},
		{name: "short signing secret", key: "auth.signing_secret", value: "short"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error for %s", testCase.key)
			}
		})
	}
}

func TestLoadRequiresTokenSettingsWhenAuthEnabled(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "0123456789abcdef0123")
	configViper.Set("auth.token_ttl_minutes", 0)
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for zero token ttl")
	}

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "0123456789abcdef0123")
	configViper.Set("auth.audience", "")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for blank audience")
	}
}
