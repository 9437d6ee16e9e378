package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
dispatchd:
  control:
    listen: "127.0.0.1:8089"
  dispatch:
    default_batch_size: 16
    max_batch_size: 500
    webhook_url: "https://example.com/webhook"
  persistence:
    dir: "/tmp/dispatchd-rounds"
  log:
    level: "debug"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Control.Listen != "127.0.0.1:8089" {
		t.Errorf("Control.Listen = %q", cfg.Control.Listen)
	}
	if cfg.Dispatch.DefaultBatchSize != 16 {
		t.Errorf("Dispatch.DefaultBatchSize = %d, want 16", cfg.Dispatch.DefaultBatchSize)
	}
	if cfg.Dispatch.WebhookURL != "https://example.com/webhook" {
		t.Errorf("Dispatch.WebhookURL = %q", cfg.Dispatch.WebhookURL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
dispatchd:
  persistence:
    dir: "/tmp/dispatchd-rounds"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dispatch.DefaultBatchSize != 8 {
		t.Errorf("Dispatch.DefaultBatchSize = %d, want 8", cfg.Dispatch.DefaultBatchSize)
	}
	if cfg.Dispatch.MaxBatchSize != 1000 {
		t.Errorf("Dispatch.MaxBatchSize = %d, want 1000", cfg.Dispatch.MaxBatchSize)
	}
	if cfg.Metrics.Listen != ":9090" {
		t.Errorf("Metrics.Listen = %q, want :9090", cfg.Metrics.Listen)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadRejectsNonHTTPSWebhook(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
dispatchd:
  persistence:
    dir: "/tmp/dispatchd-rounds"
  dispatch:
    webhook_url: "http://example.com/webhook"
`))
	if err == nil {
		t.Fatal("expected error for non-https webhook_url")
	}
	if !strings.Contains(err.Error(), "https://") {
		t.Errorf("error = %v, want mention of https://", err)
	}
}

func TestLoadRejectsBadBatchSizes(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
dispatchd:
  persistence:
    dir: "/tmp/dispatchd-rounds"
  dispatch:
    default_batch_size: 50
    max_batch_size: 10
`))
	if err == nil {
		t.Fatal("expected error: default_batch_size > max_batch_size")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISPATCHD_LOG_LEVEL", "debug")

	cfg, err := Load(writeTmpConfig(t, `
dispatchd:
  persistence:
    dir: "/tmp/dispatchd-rounds"
  log:
    level: "info"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
dispatchd:
  persistence:
    dir: "/tmp/dispatchd-rounds"
  log:
    level: "verbose"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}
