package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const FileName = "sos.yaml"

const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
	StoreFile   = "file"
)

var DefaultKeywords = []string{"help", "emergency", "108", "accident"}

type Config struct {
	DataDir    string           `yaml:"-"`
	Store      string           `yaml:"store"`
	API        APIConfig        `yaml:"api"`
	Channel    ChannelConfig    `yaml:"channel"`
	Session    SessionConfig    `yaml:"session"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Voice      VoiceConfig      `yaml:"voice"`
	Escalation EscalationConfig `yaml:"escalation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChannelConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

type SessionConfig struct {
	GraceDelay time.Duration `yaml:"grace_delay"`
}

type AnomalyConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	Threshold                   float64 `yaml:"threshold"`
	VerificationDurationSeconds float64 `yaml:"verification_duration_seconds"`
	HistorySize                 int     `yaml:"history_size"`
	WindowSize                  int     `yaml:"window_size"`
	// SamplesPath is a JSON-lines file of motion samples; "-" reads stdin.
	SamplesPath  string `yaml:"samples_path"`
	ScorerPlugin string `yaml:"scorer_plugin"`
	// ScorerSHA256 pins the plugin binary; empty skips the check.
	ScorerSHA256 string `yaml:"scorer_plugin_sha256"`
}

type VoiceConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Keywords        []string `yaml:"keywords"`
	CooldownSeconds float64  `yaml:"cooldown_seconds"`
	TranscriptsURL  string   `yaml:"transcripts_url"`
	TokensPath      string   `yaml:"tokens_path"`
}

type EscalationConfig struct {
	CountdownSeconds float64 `yaml:"countdown_seconds"`
	Latitude         float64 `yaml:"latitude"`
	Longitude        float64 `yaml:"longitude"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default(dataDir string) Config {
	return Config{
		DataDir: dataDir,
		Store:   StoreSQLite,
		API:     APIConfig{BaseURL: "http://127.0.0.1:8080", Timeout: 10 * time.Second},
		Channel: ChannelConfig{URL: "ws://127.0.0.1:8080/v1/sessions/stream", HandshakeTimeout: 10 * time.Second},
		Session: SessionConfig{GraceDelay: 2 * time.Second},
		Anomaly: AnomalyConfig{
			Enabled:                     true,
			Threshold:                   0.7,
			VerificationDurationSeconds: 5,
			HistorySize:                 50,
			WindowSize:                  25,
		},
		Voice: VoiceConfig{
			Enabled:         true,
			Keywords:        append([]string(nil), DefaultKeywords...),
			CooldownSeconds: 30,
		},
		Escalation: EscalationConfig{CountdownSeconds: 10},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// New returns the defaults for dataDir, overlaid with the YAML file in it
// (when present) and then with environment overrides.
func New(dataDir string) (Config, error) {
	if strings.TrimSpace(dataDir) == "" {
		return Config{}, fmt.Errorf("data dir is required")
	}
	cfg := Default(dataDir)
	raw, err := os.ReadFile(cfg.Path())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	if err := applyEnv(&cfg, filepath.Join(dataDir, ".env")); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Path() string {
	return filepath.Join(c.DataDir, FileName)
}

func (c Config) DBPath() string {
	switch c.Store {
	case StoreBolt:
		return filepath.Join(c.DataDir, "sos.bolt")
	case StoreFile:
		return filepath.Join(c.DataDir, "active-session.json")
	default:
		return filepath.Join(c.DataDir, "sos.db")
	}
}

func (c Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(c.Path(), raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreBolt, StoreFile:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Anomaly.Threshold <= 0 || c.Anomaly.Threshold > 1 {
		return fmt.Errorf("anomaly threshold must be in (0,1], got %v", c.Anomaly.Threshold)
	}
	if c.Anomaly.VerificationDurationSeconds <= 0 {
		return fmt.Errorf("anomaly verification duration must be positive")
	}
	if c.Anomaly.HistorySize <= 0 || c.Anomaly.WindowSize <= 0 {
		return fmt.Errorf("anomaly history and window sizes must be positive")
	}
	if c.Voice.CooldownSeconds < 0 {
		return fmt.Errorf("voice cooldown must not be negative")
	}
	if c.Escalation.CountdownSeconds < 0 {
		return fmt.Errorf("escalation countdown must not be negative")
	}
	if c.Session.GraceDelay < 0 {
		return fmt.Errorf("session grace delay must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	if v := os.Getenv("SOS_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("SOS_CHANNEL_URL"); v != "" {
		cfg.Channel.URL = v
	}
	if v := os.Getenv("SOS_TRANSCRIPTS_URL"); v != "" {
		cfg.Voice.TranscriptsURL = v
	}
	if v := os.Getenv("SOS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
