package feishu

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func ptr(s string) *string { return &s }

func TestSendFailsWithoutChatID(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.FeishuConfig{AppID: "a", AppSecret: "s"}}
	_, err := d.send(nil, bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "", stringValue(nil))
	assert.Equal(t, "x", stringValue(ptr("x")))
}
