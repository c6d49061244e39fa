package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for chronicler.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway"`
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

type GatewayConfig struct {
	Token string `json:"token" yaml:"token"`
}

// ArchiveConfig controls the version store, the attachment vault, and the
// per-guild capture switches.
type ArchiveConfig struct {
	DBPath   string `json:"dbPath" yaml:"dbPath"`
	MediaDir string `json:"mediaDir" yaml:"mediaDir"`

	// MaxAttachmentBytes caps a single attachment download. 0 disables
	// the cap.
	MaxAttachmentBytes int64 `json:"maxAttachmentBytes" yaml:"maxAttachmentBytes"`

	// HistoryEnabled and BackfillEnabled are the defaults for guilds
	// without an entry below.
	HistoryEnabled  bool `json:"historyEnabled" yaml:"historyEnabled"`
	BackfillEnabled bool `json:"backfillEnabled" yaml:"backfillEnabled"`

	// BackfillQueueSize bounds the room queue of the backfill worker.
	BackfillQueueSize int `json:"backfillQueueSize" yaml:"backfillQueueSize"`

	// Guilds holds per-guild overrides, keyed by guild ID. JSON object
	// keys are strings, so snowflakes stay strings here.
	Guilds map[string]GuildConfig `json:"guilds,omitempty" yaml:"guilds,omitempty"`
}

// GuildConfig overrides the archive switches for one guild and configures
// its audit-log routes.
type GuildConfig struct {
	HistoryEnabled  *bool `json:"historyEnabled,omitempty" yaml:"historyEnabled,omitempty"`
	BackfillEnabled *bool `json:"backfillEnabled,omitempty" yaml:"backfillEnabled,omitempty"`

	// Rooms holds per-room overrides, keyed by room ID. A room setting
	// wins over the guild setting.
	Rooms map[string]RoomConfig `json:"rooms,omitempty" yaml:"rooms,omitempty"`

	// LogRooms routes audit notices, keyed by the room ID notices are
	// posted to.
	LogRooms map[string]LogRoomConfig `json:"logRooms,omitempty" yaml:"logRooms,omitempty"`
}

type RoomConfig struct {
	HistoryEnabled  *bool `json:"historyEnabled,omitempty" yaml:"historyEnabled,omitempty"`
	BackfillEnabled *bool `json:"backfillEnabled,omitempty" yaml:"backfillEnabled,omitempty"`
}

// LogRoomConfig selects which notices a log room receives.
type LogRoomConfig struct {
	MessageDelete bool `json:"messageDelete" yaml:"messageDelete"`
	MessageEdit   bool `json:"messageEdit" yaml:"messageEdit"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.chronicler).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chronicler"
	}
	return filepath.Join(home, ".chronicler")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file, expands ${VAR} references, applies it over
// Defaults and validates the result. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Archive.DBPath = ExpandPath(cfg.Archive.DBPath)
	cfg.Archive.MediaDir = ExpandPath(cfg.Archive.MediaDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Archive.DBPath == "" {
		errs = append(errs, "archive.dbPath must be set")
	}
	if cfg.Archive.MediaDir == "" {
		errs = append(errs, "archive.mediaDir must be set")
	}
	if cfg.Archive.MaxAttachmentBytes < 0 {
		errs = append(errs, "archive.maxAttachmentBytes must be >= 0")
	}
	if cfg.Archive.BackfillQueueSize < 1 {
		errs = append(errs, "archive.backfillQueueSize must be >= 1")
	}

	for gid, guild := range cfg.Archive.Guilds {
		if _, err := strconv.ParseInt(gid, 10, 64); err != nil {
			errs = append(errs, fmt.Sprintf("archive.guilds: key %q is not a guild ID", gid))
		}
		for rid := range guild.Rooms {
			if _, err := strconv.ParseInt(rid, 10, 64); err != nil {
				errs = append(errs, fmt.Sprintf("archive.guilds.%s.rooms: key %q is not a room ID", gid, rid))
			}
		}
		for rid := range guild.LogRooms {
			if _, err := strconv.ParseInt(rid, 10, 64); err != nil {
				errs = append(errs, fmt.Sprintf("archive.guilds.%s.logRooms: key %q is not a room ID", gid, rid))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
