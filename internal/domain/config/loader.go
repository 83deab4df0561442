package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Loader loads configuration from a filesystem.
type Loader struct {
	fs vfs.FileSystem
}

// NewLoader creates a Loader reading from fs.
func NewLoader(fs vfs.FileSystem) *Loader {
	return &Loader{fs: fs}
}

// Load reads the file at path, applies defaults and validates the result.
// YAML and TOML are selected by extension.
func (l *Loader) Load(path string) (*Config, error) {
	cfg, err := l.Read(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses the file at path without defaults or validation.
func (l *Loader) Read(path string) (*Config, error) {
	data, err := vfs.ReadFile(l.fs, path)
	if err != nil {
		if errors.Is(err, vfs.ErrNotExist) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, err
	}
	return Parse(path, data)
}

// Parse decodes data according to the extension of path.
func Parse(path string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, NewConfigParseError(path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, NewConfigParseError(path, err)
		}
	default:
		return nil, NewConfigFormatError(path)
	}
	return &cfg, nil
}
