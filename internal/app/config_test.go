package app

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomchat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ROOMCHAT_DATA_DIR", t.TempDir())
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if !reflect.DeepEqual(*cfg, want) {
		t.Fatalf("defaults mismatch:\n got %+v\nwant %+v", *cfg, want)
	}
	if cfg.Relay.Path != "/live" || cfg.Chat.LogBound != 1000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("ROOMCHAT_DATA_DIR", t.TempDir())
	path := writeConfigFile(t, `
server:
  addr: ":9090"
  max_file_size: 2048
auth:
  token_ttl: 2h
relay:
  path: stream
  unified_send: true
logging:
  level: debug
`)
	t.Setenv("ROOMCHAT_SERVER__ADDR", ":9191")
	t.Setenv("ROOMCHAT_SERVER__CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("ROOMCHAT_CHAT__LOG_BOUND", "250")

	cfg, err := LoadConfig(path, map[string]any{"logging.format": "json"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9191" {
		t.Errorf("env should override file addr, got %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxFileSize != 2048 {
		t.Errorf("MaxFileSize = %d", cfg.Server.MaxFileSize)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Relay.Path != "/stream" || !cfg.Relay.UnifiedSend {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Chat.LogBound != 250 {
		t.Errorf("LogBound = %d", cfg.Chat.LogBound)
	}
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(cfg.Server.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Relay.SendBuffer != 256 {
		t.Errorf("unset keys should keep defaults, SendBuffer = %d", cfg.Relay.SendBuffer)
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	t.Setenv("ROOMCHAT_DATA_DIR", t.TempDir())
	t.Setenv(ConfigPathEnvVar, writeConfigFile(t, "client:\n  username: alice\n  room: lobby\n"))

	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Client.Username != "alice" || cfg.Client.Room != "lobby" {
		t.Fatalf("client = %+v", cfg.Client)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("ROOMCHAT_DATA_DIR", t.TempDir())
	cases := map[string]map[string]any{
		"short secret":  {"auth.token_secret": "too-short"},
		"bad level":     {"logging.level": "loud"},
		"zero log":      {"chat.log_bound": 0},
		"empty address": {"server.addr": ""},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig("", overrides); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestNormalizeJoinPath(t *testing.T) {
	cases := map[string]string{"": "/live", "ws": "/ws", "/live": "/live"}
	for in, want := range cases {
		if got := NormalizeJoinPath(in); got != want {
			t.Errorf("NormalizeJoinPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultDBPathHonoursDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROOMCHAT_DATA_DIR", dir)
	if got := DefaultDBPath(); got != filepath.Join(dir, "roomchat.db") {
		t.Fatalf("DefaultDBPath = %q", got)
	}
}
