package napcat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestOnMessageBuildsGroupChannel(t *testing.T) {
	router := bridge.NewRouter([]bridge.Rule{{
		Type: bridge.RuleForward,
		From: map[string]bridge.Channel{"main": {"group_id": "123"}},
		To:   map[string]bridge.Channel{"sink": {"id": "1"}},
		Msg:  bridge.MsgConfig{},
	}}, nil)
	var received string
	router.RegisterSender("sink", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		received = text
		return "", nil
	})
	d := &Driver{instanceID: "main", router: router, pending: map[string]chan onebotResponse{}}

	var ev onebotEvent
	require.NoError(t, json.Unmarshal([]byte(`{
		"post_type": "message",
		"message_type": "group",
		"group_id": 123,
		"user_id": 456,
		"message_id": 789,
		"raw_message": "hello",
		"sender": {"nickname": "alice", "card": ""},
		"message": [{"type": "text", "data": {"text": "hello"}}]
	}`), &ev))

	d.onMessage(context.Background(), &ev)
	assert.Equal(t, "hello", received)
	assert.Equal(t, "group", ev.MessageType)
	assert.Equal(t, int64(123), ev.GroupID)
}

func TestAttachmentSegmentPrefersURL(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.NapCatConfig{FileSendMode: "stream"}}
	seg, ok := d.attachmentSegment(context.Background(), &bridge.Attachment{Type: bridge.AttachmentImage, URL: "https://x/y.png"}, 1<<20)
	require.True(t, ok)
	assert.Equal(t, "image", seg["type"])
}

func TestDispatchRoutesEchoToPendingCall(t *testing.T) {
	d := &Driver{instanceID: "main", pending: map[string]chan onebotResponse{}}
	ch := make(chan onebotResponse, 1)
	d.pending["1"] = ch

	raw, _ := json.Marshal(map[string]any{"echo": "1", "status": "ok", "retcode": 0, "data": map[string]any{"message_id": 5}})
	d.dispatch(context.Background(), raw)

	select {
	case resp := <-ch:
		assert.Equal(t, "ok", resp.Status)
	default:
		t.Fatal("expected response on pending channel")
	}
}
