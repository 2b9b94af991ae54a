package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataPathDefault(t *testing.T) {
	assert.Equal(t, "data", DataPath())
}

func TestDataPathOverride(t *testing.T) {
	t.Setenv("BRIDGE_DATA_PATH", "/srv/bridge-data")
	assert.Equal(t, "/srv/bridge-data", DataPath())
}
