package mattermost

import (
	"context"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/stretchr/testify/assert"

	"github.com/flowbridge/bridge/pkg/bridge"
)

func TestSendFailsWithoutChannelID(t *testing.T) {
	d := &Driver{instanceID: "main", client: model.NewAPIv4Client("http://x")}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendFailsWhenNotStarted(t *testing.T) {
	d := &Driver{instanceID: "main"}
	_, err := d.send(context.Background(), bridge.Channel{"channel_id": "c1"}, "hi", nil, nil)
	assert.Error(t, err)
}
