// Package config handles loading and validating the hearth configuration.
// Config is stored at ~/.hearth/hearth.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Config is the top-level hearth configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Notify NotifyConfig `yaml:"notify"`
	Record RecordConfig `yaml:"record"`
	Bridge BridgeConfig `yaml:"bridge"`
}

// ServerConfig points at the Home Assistant instance.
type ServerConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	UserAgent string `yaml:"userAgent"`
}

// NotifyConfig configures event forwarding.
type NotifyConfig struct {
	// Entities are glob patterns like "light.*" selecting which
	// state changes are forwarded. Empty disables forwarding.
	Entities []string       `yaml:"entities"`
	Telegram TelegramConfig `yaml:"telegram"`
	Feishu   FeishuConfig   `yaml:"feishu"`
}

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   int64  `yaml:"chatId"`
}

// FeishuConfig configures the Feishu/Lark notifier.
type FeishuConfig struct {
	AppID     string `yaml:"appId"`
	AppSecret string `yaml:"appSecret"`
	ReceiveID string `yaml:"receiveId"` // open_id or chat_id of the recipient
}

// RecordConfig configures the sqlite event recorder.
type RecordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"` // defaults to ~/.hearth/state
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxEvents  int    `yaml:"maxEvents"`
}

// BridgeConfig configures the local REST bridge.
type BridgeConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"` // "loopback" or "all"
	Mode string `yaml:"mode"` // "production" quiets gin
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UserAgent: "hearth",
		},
		Record: RecordConfig{
			Enabled:    true,
			MaxAgeDays: 30,
			MaxEvents:  100000,
		},
		Bridge: BridgeConfig{
			Port: 18123,
			Bind: "loopback",
		},
	}
}

// ConfigDir returns the hearth config directory (~/.hearth).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return filepath.Join(home, ".hearth")
}

// ConfigPath returns the path to the main config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "hearth.yaml")
}

// StateDir returns the directory for runtime state such as the recorder
// database.
func StateDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// Load reads and parses the config from disk. A missing file returns
// defaults; environment variables override file values either way.
func Load() (*Config, error) {
	cfg := Default()

	path := ConfigPath()
	if envPath := os.Getenv("HEARTH_CONFIG"); envPath != "" {
		path = envPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Token inside; keep it out of other users' reach.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides merges environment variables into configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEARTH_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("HEARTH_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("FEISHU_APP_ID"); v != "" {
		cfg.Notify.Feishu.AppID = v
	}
	if v := os.Getenv("FEISHU_APP_SECRET"); v != "" {
		cfg.Notify.Feishu.AppSecret = v
	}
}
