package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	body := `
http_addr: ":9090"
max_message_length: 500
websocket:
  allowed_origins: ["https://chat.example.com"]
  rate_limit:
    burst: 3
    interval: 1s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHAT_HTTP_ADDR", ":7070")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("env should win, got %q", cfg.HTTPAddr)
	}
	if cfg.MaxMessageLength != 500 {
		t.Errorf("max length = %d", cfg.MaxMessageLength)
	}
	if cfg.WebSocket.RateLimit.Interval != time.Second || cfg.WebSocket.RateLimit.Burst != 3 {
		t.Errorf("rate limit = %+v", cfg.WebSocket.RateLimit)
	}
	if cfg.WebSocket.SendQueue != Default().WebSocket.SendQueue {
		t.Errorf("unset fields keep defaults, got send queue %d", cfg.WebSocket.SendQueue)
	}
	if cfg.RedisURL == "" {
		t.Error("REDIS_URL not applied")
	}
}

func TestEnvParsing(t *testing.T) {
	env := map[string]string{
		"CHAT_ALLOWED_ORIGINS":     " https://a.example , ,https://b.example",
		"CHAT_RATE_LIMIT_INTERVAL": "50ms",
		"CHAT_LOG_DEV":             "true",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.WebSocket.AllowedOrigins) != 2 || cfg.WebSocket.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.WebSocket.AllowedOrigins)
	}
	if cfg.WebSocket.RateLimit.Interval != 50*time.Millisecond || !cfg.LogDevelopment {
		t.Errorf("cfg = %+v", cfg)
	}

	bad := Default()
	err = bad.applyEnv(func(k string) (string, bool) {
		if k == "CHAT_MAX_MESSAGE_LENGTH" {
			return "lots", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidateRejectsBadOrigin(t *testing.T) {
	cfg := Default()
	cfg.WebSocket.AllowedOrigins = []string{"localhost"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("origin without scheme should fail")
	}
}
