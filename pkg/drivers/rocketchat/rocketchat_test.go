package rocketchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestSendFailsWithoutRoomID(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.RocketChatConfig{ServerURL: "http://x"}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendPostsChatMessage(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Auth-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"success":true,"message":{"_id":"m1"}}`))
	}))
	defer srv.Close()

	d := &Driver{instanceID: "main", cfg: &config.RocketChatConfig{ServerURL: srv.URL, AuthToken: "tok", UserID: "u1"}, http: srv.Client()}
	id, err := d.send(context.Background(), bridge.Channel{"room_id": "r1"}, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.Equal(t, "r1", captured["roomId"])
}

func TestOnMessageIgnoresOwnUser(t *testing.T) {
	router := bridge.NewRouter([]bridge.Rule{{
		Type: bridge.RuleForward,
		From: map[string]bridge.Channel{"main": {"room_id": "r1"}},
		To:   map[string]bridge.Channel{"sink": {"id": "1"}},
		Msg:  bridge.MsgConfig{},
	}}, nil)
	sent := 0
	router.RegisterSender("sink", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		sent++
		return "", nil
	})
	d := &Driver{instanceID: "main", cfg: &config.RocketChatConfig{UserID: "bot"}, router: router}
	rm := &roomMessage{RID: "r1", Msg: "hi"}
	rm.U.ID = "bot"
	d.onMessage(context.Background(), rm)
	assert.Equal(t, 0, sent)
}
