package telegram

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestToInt64(t *testing.T) {
	cases := []struct {
		in   any
		want int64
	}{
		{int64(42), 42},
		{int(7), 7},
		{float64(99), 99},
		{"123", 123},
	}
	for _, c := range cases {
		got, err := toInt64(c.in)
		assert.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestToInt64RejectsUnsupportedType(t *testing.T) {
	_, err := toInt64(struct{}{})
	assert.Error(t, err)
}

func TestSendFailsWithoutBot(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.TelegramConfig{BotToken: "x"}}
	_, err := d.send(context.Background(), bridge.Channel{"chat_id": float64(1)}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendFailsWithoutChatID(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.TelegramConfig{BotToken: "x"}, bot: &telego.Bot{}}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}
