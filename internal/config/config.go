package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults for the chat sync core.
const (
	DefaultUpdateIntervalMs = 3000
	DefaultListenAddr       = "127.0.0.1:7410"
)

// Config represents the global ~/.barterd/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Daemon DaemonConfig `toml:"daemon"`
	Chat   ChatConfig   `toml:"chat"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	ListenAddr string `toml:"listen_addr"`
	BackendURL string `toml:"backend_url"`
	AuthToken  string `toml:"auth_token"`
	UserID     string `toml:"user_id"`
}

// ChatConfig holds the conversation sync options recognized by the core.
// EnableFileUploads gates whether sends may carry attachments.
// EnableEncryption is accepted for forward compatibility and does not
// change behavior yet.
type ChatConfig struct {
	EnableRealTime    bool `toml:"enable_real_time"`
	UpdateIntervalMs  int  `toml:"update_interval_ms"`
	EnableFileUploads bool `toml:"enable_file_uploads"`
	EnableEncryption  bool `toml:"enable_encryption"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Daemon: DaemonConfig{
			ListenAddr: DefaultListenAddr,
		},
		Chat: ChatConfig{
			EnableRealTime:   true,
			UpdateIntervalMs: DefaultUpdateIntervalMs,
		},
	}
}

// UpdateInterval returns the poll interval as a duration.
func (c *ChatConfig) UpdateInterval() time.Duration {
	ms := c.UpdateIntervalMs
	if ms <= 0 {
		ms = DefaultUpdateIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Load reads config from the given path. Returns an error if the file is
// missing; callers that tolerate a missing file should use LoadOrDefault.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
