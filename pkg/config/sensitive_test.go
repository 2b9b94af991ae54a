package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSensitiveValuesFindsKnownMarkers(t *testing.T) {
	cfg := &AppConfig{
		Discord:  map[string]*DiscordConfig{"main": {WebhookURL: "https://discord.example/hooks/ABCDEFGHIJKLMNOP"}},
		Telegram: map[string]*TelegramConfig{"main": {BotToken: "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ"}},
	}
	values := ExtractSensitiveValues(cfg)

	assert.Contains(t, values, "https://discord.example/hooks/ABCDEFGHIJKLMNOP")
	assert.Contains(t, values, "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}

func TestExtractSensitiveValuesIgnoresNonSensitiveFields(t *testing.T) {
	cfg := &AppConfig{
		Feishu: map[string]*FeishuConfig{"main": {AppID: "cli_abcdefgh", AppSecret: "supersecretvalue1234"}},
	}
	values := ExtractSensitiveValues(cfg)

	assert.NotContains(t, values, "cli_abcdefgh")
	assert.Contains(t, values, "supersecretvalue1234")
}

func TestExtractSensitiveValuesDeduplicates(t *testing.T) {
	cfg := &AppConfig{
		Discord: map[string]*DiscordConfig{
			"a": {WebhookURL: "https://discord.example/hooks/DUPLICATEVALUE1"},
			"b": {WebhookURL: "https://discord.example/hooks/DUPLICATEVALUE1"},
		},
	}
	values := ExtractSensitiveValues(cfg)

	count := 0
	for _, v := range values {
		if v == "https://discord.example/hooks/DUPLICATEVALUE1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractSensitiveValuesSkipsNil(t *testing.T) {
	cfg := &AppConfig{}
	assert.Empty(t, ExtractSensitiveValues(cfg))
}
