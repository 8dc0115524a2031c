package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks environment overrides. Nested keys use a double
	// underscore: ROOMCHAT_SERVER__ADDR sets server.addr.
	EnvPrefix = "ROOMCHAT_"
	// ConfigPathEnvVar names an optional YAML config file.
	ConfigPathEnvVar = "ROOMCHAT_CONFIG"
)

// Config is the full runtime configuration of the server and client.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Chat    ChatConfig    `koanf:"chat"`
	Relay   RelayConfig   `koanf:"relay"`
	Logging LoggingConfig `koanf:"logging"`
	Client  ClientConfig  `koanf:"client"`
}

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	DBPath          string        `koanf:"db_path" validate:"required"`
	UploadDir       string        `koanf:"upload_dir" validate:"required"`
	MaxFileSize     int64         `koanf:"max_file_size" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type AuthConfig struct {
	// TokenSecret signs access tokens. When empty a random secret is
	// generated at startup and tokens do not survive a restart.
	TokenSecret  string        `koanf:"token_secret" validate:"omitempty,min=32"`
	TokenTTL     time.Duration `koanf:"token_ttl" validate:"gt=0"`
	RateRequests int           `koanf:"rate_requests" validate:"gt=0"`
	RateWindow   time.Duration `koanf:"rate_window" validate:"gt=0"`
	SessionSweep time.Duration `koanf:"session_sweep" validate:"gt=0"`
}

type ChatConfig struct {
	LogBound int `koanf:"log_bound" validate:"gt=0"`
}

type RelayConfig struct {
	Path string `koanf:"path" validate:"required"`
	// UnifiedSend makes live send_message append to the room log before it
	// is relayed.
	UnifiedSend bool    `koanf:"unified_send"`
	SendRate    float64 `koanf:"send_rate" validate:"gte=0"`
	SendBurst   int     `koanf:"send_burst" validate:"gte=0"`
	SendBuffer  int     `koanf:"send_buffer" validate:"gt=0"`
	RoomQueue   int     `koanf:"room_queue" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string `koanf:"server_url"`
	Username  string `koanf:"username"`
	Room      string `koanf:"room"`
}

// DefaultConfig returns the built-in defaults, the lowest configuration layer.
func DefaultConfig() Config {
	dbPath := DefaultDBPath()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			DBPath:          dbPath,
			UploadDir:       filepath.Join(filepath.Dir(dbPath), "uploads"),
			MaxFileSize:     10 * 1024 * 1024,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:     24 * time.Hour,
			RateRequests: 20,
			RateWindow:   time.Minute,
			SessionSweep: 10 * time.Minute,
		},
		Chat: ChatConfig{LogBound: 1000},
		Relay: RelayConfig{
			Path:       "/live",
			SendRate:   5,
			SendBurst:  10,
			SendBuffer: 256,
			RoomQueue:  1024,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Client:  ClientConfig{ServerURL: "http://localhost:8080"},
	}
}

// sliceKeys are accepted as comma-separated strings from the environment.
var sliceKeys = []string{"server.cors_origins"}

// LoadConfig layers defaults, an optional YAML file, ROOMCHAT_ environment
// variables and finally overrides (normally explicit command-line flags),
// then validates the result. path may be empty; ROOMCHAT_CONFIG is used then.
func LoadConfig(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSliceKeys(k); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Relay.Path = NormalizeJoinPath(cfg.Relay.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration's field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// envKey maps ROOMCHAT_RELAY__UNIFIED_SEND to relay.unified_send.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func splitSliceKeys(k *koanf.Koanf) error {
	for _, key := range sliceKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(key, parts); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("ROOMCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "roomchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomchat", "roomchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Roomchat", "roomchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Roomchat", "roomchat.db")
		}
		return filepath.Join(home, ".local", "share", "roomchat", "roomchat.db")
	}
	return filepath.Join(".", ".roomchat", "roomchat.db")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and
// falls back to /live when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/live"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
