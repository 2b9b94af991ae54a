package kook

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

func TestSendFailsWithoutTargetID(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.KookConfig{Token: "t"}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendPostsMessageCreate(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"code":0,"data":{"msg_id":"abc"}}`))
	}))
	defer srv.Close()

	prevURL := messageURL
	messageURL = srv.URL
	defer func() { messageURL = prevURL }()

	d := &Driver{instanceID: "main", cfg: &config.KookConfig{Token: "t"}, http: srv.Client()}
	id, err := d.send(context.Background(), bridge.Channel{"target_id": "c1"}, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "c1", captured["target_id"])
}

func TestDispatchIgnoresNonMessageFrames(t *testing.T) {
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
	raw, _ := json.Marshal(map[string]any{"s": 3})
	d.dispatch(raw)
	assert.Equal(t, 0, sent)
}
