package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the daemon. Loaded from YAML; a default file is written on
// first run so the deployment has something to edit.
type Config struct {
	WakePhrases []string `yaml:"wake_phrases"`
	Language    string   `yaml:"language"`

	QueueCapacity int `yaml:"queue_capacity"`

	WhisperModel string `yaml:"whisper_model"`
	ChatModel    string `yaml:"chat_model"`

	PluginDir string `yaml:"plugin_dir"`
	AuditLog  string `yaml:"audit_log"`

	ShellTimeout time.Duration `yaml:"shell_timeout"`
	CodeTimeout  time.Duration `yaml:"code_timeout"`
	InferTimeout time.Duration `yaml:"infer_timeout"`

	Health HealthConfig `yaml:"health"`
}

type HealthConfig struct {
	Interval   time.Duration `yaml:"interval"`
	CPUPercent float64       `yaml:"cpu_percent"`
	MemPercent float64       `yaml:"mem_percent"`
}

// Load reads path, creating it with defaults when missing.
func Load(path string) (Config, error) {
	if path == "" {
		path = filepath.Join(userHome(), ".ultron", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err := writeDefault(path, cfg); err != nil {
				return Config{}, err
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return hydrate(cfg), nil
}

// Default is the out-of-box configuration.
func Default() Config {
	home := userHome()
	return Config{
		WakePhrases:   []string{"ultron", "hey ultron"},
		Language:      "auto",
		QueueCapacity: 8,
		WhisperModel:  "third_party/whisper.cpp/models/ggml-medium.bin",
		ChatModel:     "gpt-5-nano",
		PluginDir:     filepath.Join(home, ".ultron", "plugins"),
		AuditLog:      filepath.Join(home, ".ultron", "activity.jsonl"),
		ShellTimeout:  5 * time.Second,
		CodeTimeout:   5 * time.Second,
		InferTimeout:  60 * time.Second,
		Health: HealthConfig{
			Interval:   30 * time.Second,
			CPUPercent: 90,
			MemPercent: 90,
		},
	}
}

func hydrate(cfg Config) Config {
	def := Default()
	if len(cfg.WakePhrases) == 0 {
		cfg.WakePhrases = def.WakePhrases
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = def.WhisperModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.PluginDir == "" {
		cfg.PluginDir = def.PluginDir
	}
	if cfg.AuditLog == "" {
		cfg.AuditLog = def.AuditLog
	}
	if cfg.ShellTimeout <= 0 {
		cfg.ShellTimeout = def.ShellTimeout
	}
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = def.CodeTimeout
	}
	if cfg.InferTimeout <= 0 {
		cfg.InferTimeout = def.InferTimeout
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = def.Health.Interval
	}
	if cfg.Health.CPUPercent <= 0 {
		cfg.Health.CPUPercent = def.Health.CPUPercent
	}
	if cfg.Health.MemPercent <= 0 {
		cfg.Health.MemPercent = def.Health.MemPercent
	}
	return cfg
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func userHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
