package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samaelod/pcapreplay/types"
)

// Settings are the application defaults layered under command line flags.
type Settings struct {
	LogLines       int    `yaml:"log_lines"`
	LogsDir        string `yaml:"logs_dir"`
	RecentDir      string `yaml:"recent_dir"`
	LogLevel       string `yaml:"log_level"`
	PumpIntervalMs int    `yaml:"pump_interval_ms"`

	Rotation    string `yaml:"rotation"`
	SkipRule    string `yaml:"skip_rule"`
	Restart     bool   `yaml:"restart"`
	MaxRestarts int    `yaml:"max_restarts"`
	TunnelUDP   bool   `yaml:"tunnel_udp"`
}

var (
	defaultSettings *Settings
	defaultErr      error
	once            sync.Once
)

func Default() *Settings {
	return &Settings{
		LogLines:       1000,
		LogsDir:        "logs",
		RecentDir:      "recent",
		LogLevel:       "info",
		PumpIntervalMs: 50,
		Rotation:       "round-robin",
		SkipRule:       "empty",
	}
}

// SearchPaths lists where Load looks when no path is given.
func SearchPaths() []string {
	return []string{
		"pcapreplay.yaml",
		".pcapreplay.yaml",
		filepath.Join(os.Getenv("HOME"), ".config", "pcapreplay", "config.yaml"),
	}
}

func Load(path string) (*Settings, error) {
	s := Default()

	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}

		if path == "" {
			return s, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for any zero values
	d := Default()
	if s.LogLines <= 0 {
		s.LogLines = d.LogLines
	}
	if s.LogsDir == "" {
		s.LogsDir = d.LogsDir
	}
	if s.RecentDir == "" {
		s.RecentDir = d.RecentDir
	}
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.PumpIntervalMs <= 0 {
		s.PumpIntervalMs = d.PumpIntervalMs
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadDefault loads the settings once and caches them
func LoadDefault() (*Settings, error) {
	once.Do(func() {
		defaultSettings, defaultErr = Load("")
	})
	if defaultErr != nil {
		return Default(), defaultErr
	}
	return defaultSettings, nil
}

func (s *Settings) Validate() error {
	if _, err := types.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	if _, err := types.ParseRotation(s.Rotation); err != nil {
		return err
	}
	if _, err := types.ParseSkipRule(s.SkipRule); err != nil {
		return err
	}
	if s.MaxRestarts < 0 {
		return fmt.Errorf("%w: max_restarts must not be negative", types.ErrConfig)
	}
	return nil
}

func (s *Settings) Level() types.Level {
	l, err := types.ParseLevel(s.LogLevel)
	if err != nil {
		return types.LevelInfo
	}
	return l
}

func (s *Settings) PumpInterval() time.Duration {
	return time.Duration(s.PumpIntervalMs) * time.Millisecond
}

// Apply copies the replay policies into cfg.
func (s *Settings) Apply(cfg *types.ReplayConfig) error {
	rot, err := types.ParseRotation(s.Rotation)
	if err != nil {
		return err
	}
	skip, err := types.ParseSkipRule(s.SkipRule)
	if err != nil {
		return err
	}
	cfg.Rotation = rot
	cfg.SkipRule = skip
	cfg.Restart = s.Restart
	cfg.MaxRestarts = s.MaxRestarts
	cfg.TunnelUDP = s.TunnelUDP
	return nil
}

// LogFile returns the log path for a run started at t.
func (s *Settings) LogFile(t time.Time) string {
	return filepath.Join(s.LogsDir, "pcapreplay-"+t.Format("20060102-150405")+".log")
}
