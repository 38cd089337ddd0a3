package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/disklru/pkg/fs"
)

// ConfigFileName is the default config file name.
const ConfigFileName = ".dlc.json"

// Config holds the cache parameters for one directory.
//
// The config file is JWCC (JSON with comments and trailing commas), so a
// hand-maintained file can carry notes.
type Config struct {
	Dir        string `json:"dir"`
	AppVersion int    `json:"app_version"`
	ValueCount int    `json:"value_count"`
	MaxSize    int64  `json:"max_size"`
}

// Config errors.
var (
	errConfigNotFound = errors.New("config file not found")
	errConfigInvalid  = errors.New("invalid config file")
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:        "cache",
		AppVersion: 1,
		ValueCount: 1,
		MaxSize:    10 << 20,
	}
}

// LoadConfig reads and validates a config file.
// Returns errConfigNotFound if the file doesn't exist.
func LoadConfig(fsys fs.FS, path string) (Config, error) {
	raw, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errConfigNotFound
		}

		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", errConfigInvalid, err)
	}

	cfg := DefaultConfig()

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", errConfigInvalid, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// SaveConfig writes the config file atomically.
func SaveConfig(fsys fs.FS, path string, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	raw = append(raw, '\n')

	if err := fsys.WriteFileAtomic(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

func (c Config) validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: dir must not be empty", errConfigInvalid)
	}

	if c.ValueCount <= 0 {
		return fmt.Errorf("%w: value_count must be positive", errConfigInvalid)
	}

	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max_size must be positive", errConfigInvalid)
	}

	return nil
}
