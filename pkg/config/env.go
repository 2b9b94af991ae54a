package config

import "github.com/caarlos0/env/v11"

// envVars holds process-level overrides decoded by caarlos0/env.
type envVars struct {
	DataPath string `env:"BRIDGE_DATA_PATH" envDefault:"data"`
}

// DataPath returns the directory the loader searches for a config file,
// honoring the BRIDGE_DATA_PATH environment variable override.
func DataPath() string {
	var v envVars
	if err := env.Parse(&v); err != nil {
		return "data"
	}
	return v.DataPath
}
