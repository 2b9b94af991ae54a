package vocechat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestSendFailsWithoutTarget(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.VoceChatConfig{ServerURL: "http://x", BotKey: "k"}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendPostsToGroupEndpoint(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		_, _ = w.Write([]byte("42"))
	}))
	defer srv.Close()

	d := &Driver{instanceID: "main", cfg: &config.VoceChatConfig{ServerURL: srv.URL, BotKey: "k1"}, http: srv.Client()}
	id, err := d.send(context.Background(), bridge.Channel{"gid": "7"}, "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "/api/bot/send/group/7", gotPath)
	assert.Equal(t, "k1", gotKey)
}

func TestDispatchIgnoresNonNormalDetail(t *testing.T) {
	router := bridge.NewRouter([]bridge.Rule{{
		Type: bridge.RuleForward,
		From: map[string]bridge.Channel{"main": {}},
		To:   map[string]bridge.Channel{"sink": {"id": "1"}},
		Msg:  bridge.MsgConfig{},
	}}, nil)
	sent := 0
	router.RegisterSender("sink", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		sent++
		return "", nil
	})
	d := &Driver{instanceID: "main", router: router}
	d.dispatch(context.Background(), []byte(`{"detail":{"type":"system"}}`))
	assert.Equal(t, 0, sent)
}
