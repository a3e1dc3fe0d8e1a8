package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("expected postgres driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("expected 5s store timeout, got %s", cfg.StoreTimeout)
	}
	if cfg.Notifier != NotifierLog {
		t.Errorf("expected log notifier, got %q", cfg.Notifier)
	}
	if cfg.SMTP.Port != 587 {
		t.Errorf("expected SMTP port 587, got %d", cfg.SMTP.Port)
	}
	if cfg.Location().String() != "Europe/Bucharest" {
		t.Errorf("expected Europe/Bucharest location, got %v", cfg.Location())
	}
	if cfg.DispatchSchedule != "" {
		t.Errorf("expected dispatch schedule disabled by default, got %q", cfg.DispatchSchedule)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite3")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("NOTIFIER", "smtp")
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("DISPATCH_CONCURRENCY", "8")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite3" {
		t.Errorf("expected normalized sqlite3 driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.StoreTimeout)
	}
	if cfg.SMTP.Host != "mail.example.com" || cfg.SMTP.Port != 2525 {
		t.Errorf("unexpected SMTP config %+v", cfg.SMTP)
	}
	if cfg.DispatchConcurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.DispatchConcurrency)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "unknown driver", key: "DATABASE_DRIVER", value: "mysql", wantErr: "DATABASE_DRIVER"},
		{name: "unknown notifier", key: "NOTIFIER", value: "pigeon", wantErr: "NOTIFIER"},
		{name: "bad duration", key: "STORE_TIMEOUT", value: "soon", wantErr: "parse env:"},
		{name: "zero concurrency", key: "DISPATCH_CONCURRENCY", value: "0", wantErr: "DISPATCH_CONCURRENCY"},
		{name: "bad timezone", key: "TIMEZONE", value: "Mars/Olympus", wantErr: "TIMEZONE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
