package dingtalk

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestSendFailsWithoutConversationID(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.DingTalkConfig{}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestAccessTokenForReturnsCachedTokenWithoutNetworkCall(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.DingTalkConfig{AppKey: "k", AppSecret: "s"}, http: http.DefaultClient}
	d.accessToken = "tok-1"
	d.tokenExpireAt = time.Now().Add(time.Hour)

	token, err := d.accessTokenFor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestAccessTokenForTreatsNearExpiryAsStale(t *testing.T) {
	d := &Driver{cfg: &config.DingTalkConfig{}}
	d.accessToken = "tok-1"
	d.tokenExpireAt = time.Now().Add(30 * time.Second)
	assert.False(t, time.Now().Before(d.tokenExpireAt.Add(-60*time.Second)))
}
