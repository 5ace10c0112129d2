// Package config loads the daemon configuration: defaults first, then the
// YAML file, then COURIER_* environment overrides. The loaded config is
// immutable for the life of the process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	ChatDB  ChatDBConfig  `yaml:"chat_db"`
	Message MessageConfig `yaml:"message"`
	TTS     TTSConfig     `yaml:"tts"`
	AI      AIConfig      `yaml:"ai"`
	Routing RoutingConfig `yaml:"routing"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ChatDBConfig struct {
	Path         string        `yaml:"path"`
	HandleIDs    []int64       `yaml:"handle_ids"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type MessageConfig struct {
	Recipient string `yaml:"recipient"`
}

type TTSConfig struct {
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type AIConfig struct {
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type RoutingConfig struct {
	FallbackLabel string `yaml:"fallback_label"`
}

type NotifyConfig struct {
	SkipWhenAttached bool `yaml:"skip_when_attached"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:50051",
		},
		Store: StoreConfig{
			Path: "~/.courier/events.db",
		},
		ChatDB: ChatDBConfig{
			Path:         "~/Library/Messages/chat.db",
			PollInterval: 5 * time.Second,
		},
		TTS: TTSConfig{
			Command: "say",
		},
		AI: AIConfig{
			Model:   "claude-haiku-4-5-20251001",
			Timeout: 20 * time.Second,
		},
		Routing: RoutingConfig{
			FallbackLabel: "my-agent",
		},
		Notify: NotifyConfig{
			SkipWhenAttached: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath is the default config file location.
func DefaultPath() string {
	return expandTilde("~/.courier/config.yaml")
}

// Load builds the effective config: defaults, then the YAML file at path
// (missing file is fine), then environment overrides. Paths are
// tilde-expanded after all layers applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironment(cfg)

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.ChatDB.Path = expandTilde(cfg.ChatDB.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("COURIER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("COURIER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("COURIER_CHAT_DB_PATH"); v != "" {
		cfg.ChatDB.Path = v
	}
	if v := os.Getenv("COURIER_CHAT_HANDLE_IDS"); v != "" {
		if ids, err := parseHandleIDs(v); err == nil {
			cfg.ChatDB.HandleIDs = ids
		}
	}
	if v := os.Getenv("COURIER_MESSAGE_RECIPIENT"); v != "" {
		cfg.Message.Recipient = v
	}
	if v := os.Getenv("COURIER_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("COURIER_AI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AI.Timeout = d
		}
	}
	if v := os.Getenv("COURIER_ROUTING_FALLBACK_LABEL"); v != "" {
		cfg.Routing.FallbackLabel = v
	}
	if v := os.Getenv("COURIER_NOTIFY_SKIP_WHEN_ATTACHED"); v != "" {
		cfg.Notify.SkipWhenAttached = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("COURIER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports everything wrong with the config at once.
func (c *Config) Validate() error {
	var problems []string
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr must not be empty")
	}
	if c.Store.Path == "" {
		problems = append(problems, "store.path must not be empty")
	}
	if c.ChatDB.Path == "" {
		problems = append(problems, "chat_db.path must not be empty")
	}
	if c.ChatDB.PollInterval <= 0 {
		problems = append(problems, "chat_db.poll_interval must be positive")
	}
	if c.AI.Timeout <= 0 {
		problems = append(problems, "ai.timeout must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func parseHandleIDs(v string) ([]int64, error) {
	parts := strings.Split(v, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
