package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/doctrans/pkg/file"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings is the subset of configuration adjustable while the
// service runs, persisted to a JSON file across restarts.
type RuntimeSettings struct {
	OCRModel      string `json:"ocr_model"`
	ClaudeModel   string `json:"claude_model"`
	GeminiModel   string `json:"gemini_model"`
	DefaultEngine string `json:"default_engine"`
	SweepCron     string `json:"sweep_cron"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.OCRModel) == "" {
		return fmt.Errorf("ocr_model is required")
	}
	if strings.TrimSpace(s.ClaudeModel) == "" {
		return fmt.Errorf("claude_model is required")
	}
	if strings.TrimSpace(s.GeminiModel) == "" {
		return fmt.Errorf("gemini_model is required")
	}
	switch s.DefaultEngine {
	case "claude", "gemini":
	default:
		return fmt.Errorf("default_engine must be claude or gemini, got %q", s.DefaultEngine)
	}
	if strings.TrimSpace(s.SweepCron) == "" {
		return fmt.Errorf("sweep_cron is required")
	}
	if _, err := cron.ParseStandard(s.SweepCron); err != nil {
		return fmt.Errorf("invalid sweep_cron: %w", err)
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		OCRModel:      c.Extraction.Engine.Model,
		ClaudeModel:   c.Translation.Claude.Model,
		GeminiModel:   c.Translation.Gemini.Model,
		DefaultEngine: c.Translation.DefaultEngine,
		SweepCron:     c.Dispatch.SweepCron,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.OCRModel) != "" {
			c.Extraction.Engine.Model = settings.OCRModel
		}
		if strings.TrimSpace(settings.ClaudeModel) != "" {
			c.Translation.Claude.Model = settings.ClaudeModel
		}
		if strings.TrimSpace(settings.GeminiModel) != "" {
			c.Translation.Gemini.Model = settings.GeminiModel
		}
		if settings.DefaultEngine == "claude" || settings.DefaultEngine == "gemini" {
			c.Translation.DefaultEngine = settings.DefaultEngine
		}
		if strings.TrimSpace(settings.SweepCron) != "" {
			c.Dispatch.SweepCron = settings.SweepCron
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	return file.WriteAtomic(path, content, 0o600)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
