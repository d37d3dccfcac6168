// Package config loads the optional runtime configuration file for a plugin
// process. The file is probed at <app-root>/local/searchplug.yaml then
// <app-root>/default/searchplug.yaml, mirroring the host's local-overrides-
// default convention; a missing file simply yields defaults. The loaded
// bytes are content-hashed so an invocation's logs always identify the exact
// configuration it ran with.
package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file probed under local/ and default/.
const FileName = "searchplug.yaml"

// DefaultMaxResultRows is the flush threshold used when neither the host
// nor the configuration supplies one.
const DefaultMaxResultRows = 50000

// Config is the runtime configuration for one plugin process.
type Config struct {
	Logging Logging `yaml:"logging"`
	Limits  Limits  `yaml:"limits"`
}

// Logging controls the process logger. Level is one of debug, info, warn,
// error.
type Logging struct {
	Level string `yaml:"level"`
}

// Limits bounds resource use of the output writer.
type Limits struct {
	// MaxResultRows is the default row-count flush threshold. The host's
	// negotiated value, when present, wins over this.
	MaxResultRows int `yaml:"maxresultrows"`
}

// Result is a loaded configuration plus its provenance.
type Result struct {
	Config   *Config
	Path     string // empty when no file was found
	Checksum string // BLAKE3 hex of the file bytes, empty when no file
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: Logging{Level: "info"},
		Limits:  Limits{MaxResultRows: DefaultMaxResultRows},
	}
}

// Load probes for and reads the configuration file under appRoot. A missing
// file is not an error; a present-but-invalid file is.
func Load(appRoot string) (*Result, error) {
	path, found := discover(appRoot)
	if !found {
		return &Result{Config: Default()}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	sum := blake3.Sum256(data)
	return &Result{
		Config:   cfg,
		Path:     path,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// discover returns the first existing candidate path, local before default.
func discover(appRoot string) (string, bool) {
	for _, dir := range []string{"local", "default"} {
		candidate := filepath.Join(appRoot, dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unrecognized logging level %q", cfg.Logging.Level)
	}
	if cfg.Limits.MaxResultRows <= 0 {
		return fmt.Errorf("limits.maxresultrows must be positive, got %d", cfg.Limits.MaxResultRows)
	}
	return nil
}
