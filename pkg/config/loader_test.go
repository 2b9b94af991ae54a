package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validJSON = `{
  "discord": {"main": {"send_method": "webhook", "webhook_url": "https://discord.example/hooks/ABCDEFGHIJKLMNOP"}},
  "telegram": {"tg": {"bot_token": "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ"}}
}`

func TestLoadValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(validJSON), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Discord, "main")
	assert.Equal(t, "webhook", cfg.Discord["main"].SendMethod)
	require.Contains(t, cfg.Telegram, "tg")
}

func TestLoadRejectsUnknownDriverField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	bad := `{"discord": {"main": {"send_method": "webhook", "webhook_url": "https://x.example/hooks/ABCDEFGHIJKLMNOP", "nonexistent_field": true}}}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	bad := `{"telegram": {"main": {}}}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFindPrefersJSONThenYAMLThenTOML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	assert.Equal(t, filepath.Join(dir, "config.json"), Find(dir))
}

func TestFindReturnsEmptyWhenNoneExist(t *testing.T) {
	assert.Equal(t, "", Find(t.TempDir()))
}

func TestRoundTripJSONYAMLJSONPreservesValues(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(validJSON), 0o644))

	cfg1, err := Load(jsonPath)
	require.NoError(t, err)

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(cfg1, yamlPath))

	cfg2, err := Load(yamlPath)
	require.NoError(t, err)

	jsonPath2 := filepath.Join(dir, "config2.json")
	require.NoError(t, Save(cfg2, jsonPath2))

	cfg3, err := Load(jsonPath2)
	require.NoError(t, err)

	assert.Equal(t, cfg1.Discord["main"].WebhookURL, cfg3.Discord["main"].WebhookURL)
	assert.Equal(t, cfg1.Telegram["tg"].BotToken, cfg3.Telegram["tg"].BotToken)
}
