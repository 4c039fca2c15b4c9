package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/sergev/bci/board"
	"github.com/sergev/bci/script"
	"github.com/sergev/bci/store"
)

//go:embed bci.toml
var defaultConfigData []byte

// Defaults for optional settings
const (
	DefaultRoot     = "~/eegdata"
	DefaultKind     = "training"
	DefaultNoise    = 0.1
	DefaultTickMS   = 50
	DefaultChunkMS  = 500
	DefaultQueue    = 64
	DefaultRate     = 250
	defaultIndexDB  = "index.db"
	disabledSetting = "none"
)

// Config represents the entire configuration file.
// The same layout is accepted in TOML and YAML.
type Config struct {
	Default  string             `toml:"default" yaml:"default"`
	Storage  Storage            `toml:"storage" yaml:"storage"`
	Sessions map[string]Session `toml:"sessions" yaml:"sessions"`
}

// Storage tells where datasets are saved
type Storage struct {
	Root   string  `toml:"root" yaml:"root"`
	Format string  `toml:"format" yaml:"format"`
	Index  string  `toml:"index" yaml:"index"` // SQLite run index; "none" disables it
	Remote *Remote `toml:"remote" yaml:"remote"`
}

// Remote is an optional S3 compatible object store for uploads
type Remote struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Prefix    string `toml:"prefix" yaml:"prefix"`
	UseSSL    bool   `toml:"use_ssl" yaml:"use_ssl"`
}

// Session represents a named data collection setup
type Session struct {
	Board   Board   `toml:"board" yaml:"board"`
	Kind    string  `toml:"kind" yaml:"kind"`
	Blocks  int     `toml:"blocks" yaml:"blocks"`
	TickMS  int     `toml:"tick_ms" yaml:"tick_ms"`
	ChunkMS int     `toml:"chunk_ms" yaml:"chunk_ms"`
	Queue   int     `toml:"queue" yaml:"queue"`
	Phases  []Phase `toml:"phase" yaml:"phases"`
}

// Board selects and parameterizes the acquisition board
type Board struct {
	Type         string   `toml:"type" yaml:"type"`
	Port         string   `toml:"port" yaml:"port"`
	SamplingRate float64  `toml:"sampling_rate" yaml:"sampling_rate"`
	Channels     int      `toml:"channels" yaml:"channels"`
	VendorID     uint16   `toml:"vendor_id" yaml:"vendor_id"`
	ProductID    uint16   `toml:"product_id" yaml:"product_id"`
	Noise        *float64 `toml:"noise" yaml:"noise"`
	Seed         int64    `toml:"seed" yaml:"seed"`
	Realtime     *bool    `toml:"realtime" yaml:"realtime"`
}

// Phase is one step of the cue script
type Phase struct {
	Name       string `toml:"name" yaml:"name"`
	DurationMS int    `toml:"duration_ms" yaml:"duration_ms"`
	Record     bool   `toml:"record" yaml:"record"`
	Label      string `toml:"label" yaml:"label"`
	Color      string `toml:"color" yaml:"color"`
}

// Path determines the config file path based on the operating system
func Path() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "bci")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}
	return filepath.Join(configDir, ".bci"), nil
}

// Initialize loads the configuration file from its default location.
// If the file doesn't exist, it is created from the embedded default.
func Initialize() (*Config, string, error) {
	path, err := Path()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		configDir := filepath.Dir(path)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
			return nil, "", fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}
	conf, err := Load(path)
	return conf, path, err
}

// Load parses and validates a configuration file.
// Files named *.yaml or *.yml are YAML, anything else is TOML.
func Load(path string) (*Config, error) {
	var conf Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config at %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &conf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config at %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &conf); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config at %s: %w", path, err)
	}
	return &conf, nil
}

// Default returns the embedded default configuration
func Default() (*Config, error) {
	var conf Config
	if _, err := toml.Decode(string(defaultConfigData), &conf); err != nil {
		return nil, fmt.Errorf("failed to parse default config: %w", err)
	}
	return &conf, conf.Validate()
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if len(c.Sessions) == 0 {
		return errors.New("no sessions defined in config")
	}
	if c.Default == "" {
		if len(c.Sessions) > 1 {
			return errors.New("`default` key is missing or empty in config")
		}
	} else if _, ok := c.Sessions[c.Default]; !ok {
		return fmt.Errorf("default session %q not found in sessions", c.Default)
	}
	for name, s := range c.Sessions {
		if err := s.Validate(name); err != nil {
			return err
		}
	}
	if _, err := store.ParseFormat(c.Storage.Format); err != nil {
		return err
	}
	if r := c.Storage.Remote; r != nil && r.Endpoint != "" {
		if r.AccessKey == "" || r.SecretKey == "" {
			return errors.New("remote storage needs access_key and secret_key")
		}
	}
	return nil
}

// Session returns the named session, or the default one for an empty name
func (c *Config) Session(name string) (*Session, string, error) {
	if name == "" {
		name = c.Default
	}
	if name == "" && len(c.Sessions) == 1 {
		for only := range c.Sessions {
			name = only
		}
	}
	s, ok := c.Sessions[name]
	if !ok {
		return nil, "", fmt.Errorf("session %q not found in config", name)
	}
	return &s, name, nil
}

// Validate checks the session settings
func (s *Session) Validate(name string) error {
	if s.Board.Type == "" {
		return fmt.Errorf("session %q has no board type", name)
	}
	if s.Board.SamplingRate < 0 {
		return fmt.Errorf("session %q has invalid sampling_rate: %v (must be positive)", name, s.Board.SamplingRate)
	}
	if s.Board.Channels < 0 {
		return fmt.Errorf("session %q has invalid channels: %d (must be positive)", name, s.Board.Channels)
	}
	if s.Board.Noise != nil && *s.Board.Noise < 0 {
		return fmt.Errorf("session %q has invalid noise: %v (must not be negative)", name, *s.Board.Noise)
	}
	if s.Blocks < 0 || s.Blocks > script.MaxBlocks {
		return fmt.Errorf("session %q has invalid blocks: %d (must be 1 to %d)", name, s.Blocks, script.MaxBlocks)
	}
	if s.TickMS < 0 {
		return fmt.Errorf("session %q has invalid tick_ms: %d (must be positive)", name, s.TickMS)
	}
	if s.ChunkMS < 0 {
		return fmt.Errorf("session %q has invalid chunk_ms: %d (must be positive)", name, s.ChunkMS)
	}
	if s.Queue < 0 {
		return fmt.Errorf("session %q has invalid queue: %d (must be positive)", name, s.Queue)
	}
	if _, err := s.Script(); err != nil {
		return fmt.Errorf("session %q: %w", name, err)
	}
	return nil
}

// Script returns the phases of the session, or the default
// SWITCH/REST script when none are listed
func (s *Session) Script() (script.Script, error) {
	if len(s.Phases) == 0 {
		return script.Default(), nil
	}
	result := make(script.Script, 0, len(s.Phases))
	for i, p := range s.Phases {
		if p.DurationMS <= 0 {
			return nil, fmt.Errorf("phase %d (%s) has invalid duration_ms: %d (must be positive)", i, p.Name, p.DurationMS)
		}
		d := time.Duration(p.DurationMS) * time.Millisecond
		if !p.Record {
			if p.Label != "" {
				return nil, fmt.Errorf("phase %d (%s) has a label but does not record", i, p.Name)
			}
			result = append(result, script.Cue(p.Name, d, p.Color))
			continue
		}
		label, err := script.ParseLabel(p.Label)
		if err != nil {
			return nil, fmt.Errorf("phase %d (%s): %w", i, p.Name, err)
		}
		result = append(result, script.Recording(p.Name, d, label, p.Color))
	}
	return result, result.Validate()
}

// BlockCount returns the configured number of blocks, or the default
func (s *Session) BlockCount() int {
	if s.Blocks == 0 {
		return script.DefaultBlocks
	}
	return s.Blocks
}

// RunKind returns the run kind, "training" by default
func (s *Session) RunKind() string {
	if s.Kind == "" {
		return DefaultKind
	}
	return s.Kind
}

// TickInterval returns the phase timer resolution
func (s *Session) TickInterval() time.Duration {
	if s.TickMS == 0 {
		return DefaultTickMS * time.Millisecond
	}
	return time.Duration(s.TickMS) * time.Millisecond
}

// ChunkSamples returns the number of samples per board read at given rate
func (s *Session) ChunkSamples(rate float64) int {
	ms := s.ChunkMS
	if ms == 0 {
		ms = DefaultChunkMS
	}
	n := int(rate * float64(ms) / 1000)
	if n < 1 {
		n = 1
	}
	return n
}

// QueueSize returns the number of chunks buffered between board and accumulator
func (s *Session) QueueSize() int {
	if s.Queue == 0 {
		return DefaultQueue
	}
	return s.Queue
}

// BoardConfig converts the board settings
func (s *Session) BoardConfig() board.Config {
	b := s.Board
	cfg := board.Config{
		Type:         b.Type,
		Port:         b.Port,
		SamplingRate: b.SamplingRate,
		Channels:     b.Channels,
		VendorID:     b.VendorID,
		ProductID:    b.ProductID,
		Noise:        DefaultNoise,
		Seed:         b.Seed,
		Realtime:     true,
	}
	if b.Noise != nil {
		cfg.Noise = *b.Noise
	}
	if b.Realtime != nil {
		cfg.Realtime = *b.Realtime
	}
	return cfg
}

// RootDir returns the dataset directory with "~" expanded
func (st *Storage) RootDir() (string, error) {
	root := st.Root
	if root == "" {
		root = DefaultRoot
	}
	return expandHome(root)
}

// IndexPath returns the run index database, or "" when disabled
func (st *Storage) IndexPath() (string, error) {
	switch st.Index {
	case disabledSetting:
		return "", nil
	case "":
		root, err := st.RootDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(root, defaultIndexDB), nil
	default:
		return expandHome(st.Index)
	}
}

// RemoteConfig returns the object store settings, or false when
// uploads are not configured
func (st *Storage) RemoteConfig() (store.RemoteConfig, bool) {
	r := st.Remote
	if r == nil || r.Endpoint == "" {
		return store.RemoteConfig{}, false
	}
	return store.RemoteConfig{
		Endpoint:  r.Endpoint,
		AccessKey: r.AccessKey,
		SecretKey: r.SecretKey,
		Bucket:    r.Bucket,
		Prefix:    r.Prefix,
		UseSSL:    r.UseSSL,
	}, true
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
