package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// RejectUnknownKeys re-decodes data in strict mode, surfacing an error for
// any key that doesn't correspond to a field on AppConfig or its nested
// driver structs. This mirrors the operator-config contract every driver
// schema carries: a typo'd key should fail fast, not be silently dropped.
func RejectUnknownKeys(data []byte, path string) error {
	var probe AppConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&probe); err != nil {
			return fmt.Errorf("config: unknown key in %s: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&probe); err != nil {
			return fmt.Errorf("config: unknown key in %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&probe); err != nil {
			return fmt.Errorf("config: unknown key in %s: %w", path, err)
		}
	}
	return nil
}
