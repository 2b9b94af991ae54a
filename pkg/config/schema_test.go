package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixRequiresPasswordOrAccessToken(t *testing.T) {
	c := &MatrixConfig{Homeserver: "https://matrix.example", UserID: "@bot:example"}
	c.defaults()
	assert.Error(t, c.validate())

	c.Password = "hunter2"
	assert.NoError(t, c.validate())
}

func TestDiscordWebhookMethodRequiresURL(t *testing.T) {
	c := &DiscordConfig{SendMethod: "webhook"}
	c.defaults()
	assert.Error(t, c.validate())

	c.WebhookURL = "https://discord.example/hooks/x"
	assert.NoError(t, c.validate())
}

func TestNapCatDefaults(t *testing.T) {
	c := &NapCatConfig{}
	c.defaults()
	assert.Equal(t, "ws://127.0.0.1:3001", c.WSURL)
	assert.Equal(t, int64(10<<20), c.MaxFileSize)
	assert.Equal(t, "stream", c.FileSendMode)
	assert.NoError(t, c.validate())
}

func TestNapCatRejectsInvalidFileSendMode(t *testing.T) {
	c := &NapCatConfig{FileSendMode: "carrier-pigeon"}
	assert.Error(t, c.validate())
}

func TestWebhookConfigValidatesMethod(t *testing.T) {
	c := &WebhookConfig{URL: "https://example.com/hook", Method: "DELETE"}
	assert.Error(t, c.validate())
	c.Method = "POST"
	assert.NoError(t, c.validate())
}

func TestApplyDefaultsAndValidateReportsDriverAndInstance(t *testing.T) {
	cfg := &AppConfig{
		Telegram: map[string]*TelegramConfig{"main": {}},
	}
	err := cfg.applyDefaultsAndValidate()
	assert.ErrorContains(t, err, "telegram.main")
}
