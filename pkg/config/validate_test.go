package config

import "testing"

import "github.com/stretchr/testify/assert"

func TestRejectUnknownKeysAcceptsValidJSON(t *testing.T) {
	data := []byte(`{"telegram": {"main": {"bot_token": "x"}}}`)
	assert.NoError(t, RejectUnknownKeys(data, "config.json"))
}

func TestRejectUnknownKeysRejectsTypo(t *testing.T) {
	data := []byte(`{"telegram": {"main": {"bot_toekn": "x"}}}`)
	assert.Error(t, RejectUnknownKeys(data, "config.json"))
}

func TestRejectUnknownKeysYAML(t *testing.T) {
	data := []byte("telegram:\n  main:\n    bot_token: x\n")
	assert.NoError(t, RejectUnknownKeys(data, "config.yaml"))

	bad := []byte("telegram:\n  main:\n    bot_toekn: x\n")
	assert.Error(t, RejectUnknownKeys(bad, "config.yaml"))
}
