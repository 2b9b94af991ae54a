package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// candidateNames lists the config filenames Find searches for, in priority
// order, within a data directory.
var candidateNames = []string{"config.json", "config.yaml", "config.yml", "config.toml"}

// Find returns the first existing config file in dir, or "" if none exist.
func Find(dir string) string {
	for _, name := range candidateNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load reads and decodes the config file at path, inferring the wire format
// from its extension (.json, .yaml/.yml, .toml — JSON otherwise), then
// applies per-driver defaults and validation.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &AppConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing yaml %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing toml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing json %s: %w", path, err)
		}
	}

	if err := RejectUnknownKeys(data, path); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadFromDataDir locates and loads the config file within dir (as returned
// by DataPath), returning an error if none is found.
func LoadFromDataDir(dir string) (*AppConfig, error) {
	path := Find(dir)
	if path == "" {
		return nil, fmt.Errorf("config: no config file found in %s", dir)
	}
	return Load(path)
}

// Save writes cfg to path, inferring the wire format from its extension the
// same way Load does, creating parent directories as needed.
func Save(cfg *AppConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
