// Package config loads the companion's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ambient-labs/aria/internal/nudge"
	"github.com/ambient-labs/aria/internal/reminder"
)

// Config represents the application configuration.
type Config struct {
	// Live API
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	Voice  string `yaml:"voice"`

	// Persona
	Persona PersonaConfig `yaml:"persona"`

	// Audio capture / playback
	Audio AudioConfig `yaml:"audio"`

	// Video capture
	Video VideoConfig `yaml:"video"`

	// Proactive engagement
	Nudge nudge.Config `yaml:"nudge"`

	// Recurring routines (cron schedules)
	Routines []reminder.Routine `yaml:"routines"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Tool confirmation policy: tool name -> requires confirmation.
	// Tools absent from the map require confirmation.
	ToolPermissions map[string]bool `yaml:"tool_permissions"`

	// Observability
	Observability ObservabilityConfig `yaml:"observability"`

	// ReplayTurns is how much recent history a reconnect replays.
	ReplayTurns int `yaml:"replay_turns"`
}

// PersonaConfig shapes who the companion is.
type PersonaConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	StartMessage string `yaml:"start_message"`
	// UserBirthday is "MM-DD".
	UserBirthday string `yaml:"user_birthday"`
	// SpecialDates maps "MM-DD" to a display name.
	SpecialDates map[string]string `yaml:"special_dates"`
}

// AudioConfig tunes capture and voice activity detection.
type AudioConfig struct {
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
	// VADThreshold is the RMS amplitude above which the user counts as
	// speaking.
	VADThreshold int `yaml:"vad_threshold"`
	// SilenceMs is how long below threshold ends a speech segment.
	SilenceMs int `yaml:"silence_ms"`
	// PlaybackDisabled mutes local audio playback (headless runs).
	PlaybackDisabled bool `yaml:"playback_disabled"`
}

// VideoConfig tunes optional camera/screen capture.
type VideoConfig struct {
	// Mode is "off", "camera" or "screen".
	Mode string `yaml:"mode"`
	// FPS caps outgoing frames per second.
	FPS    float64 `yaml:"fps"`
	Device string  `yaml:"device"`
}

// StorageConfig selects where conversation state lives.
type StorageConfig struct {
	// Dir is the base directory for local JSON state (default ~/.aria).
	Dir string `yaml:"dir"`
	// ChatBackend is "file" or "redis".
	ChatBackend string      `yaml:"chat_backend"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the redis chat backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	// MetricsPort serves /metrics and /health when > 0.
	MetricsPort int `yaml:"metrics_port"`
	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults, so first runs work with just GEMINI_API_KEY set.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash-live-001"
	}
	if cfg.Voice == "" {
		cfg.Voice = "Aoede"
	}
	if cfg.Persona.Name == "" {
		cfg.Persona.Name = "Aria"
	}
	if cfg.Audio.VADThreshold == 0 {
		cfg.Audio.VADThreshold = 800
	}
	if cfg.Audio.SilenceMs == 0 {
		cfg.Audio.SilenceMs = 1200
	}
	if cfg.Video.Mode == "" {
		cfg.Video.Mode = "off"
	}
	if cfg.Video.FPS == 0 {
		cfg.Video.FPS = 1
	}
	if cfg.Storage.ChatBackend == "" {
		cfg.Storage.ChatBackend = "file"
	}
	if cfg.Storage.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		cfg.Storage.Dir = filepath.Join(home, ".aria")
	}
	if cfg.Observability.TraceExporter == "" {
		cfg.Observability.TraceExporter = "none"
	}
	if cfg.ReplayTurns == 0 {
		cfg.ReplayTurns = 10
	}
	cfg.Nudge = cfg.Nudge.Normalize()

	// Load the API key from the environment if not in config
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	return &cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (or set GEMINI_API_KEY)")
	}
	switch c.Storage.ChatBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown chat_backend: %s", c.Storage.ChatBackend)
	}
	if c.Storage.ChatBackend == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("redis chat_backend needs storage.redis.addr")
	}
	switch c.Video.Mode {
	case "off", "camera", "screen":
	default:
		return fmt.Errorf("unknown video mode: %s", c.Video.Mode)
	}
	return nil
}
