package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSend struct {
	channel     Channel
	rendered    string
	attachments []Attachment
	extra       map[string]any
}

type recorder struct {
	mu   sync.Mutex
	sent []recordedSend
}

func (r *recorder) sender() SendFunc {
	return func(_ context.Context, ch Channel, rendered string, attachments []Attachment, extra map[string]any) (string, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.sent = append(r.sent, recordedSend{channel: ch, rendered: rendered, attachments: attachments, extra: extra})
		return "", nil
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestForwardRuleDispatches(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"disc1": {"channel_id": "100"}},
		To:   map[string]Channel{"tg1": {"chat_id": int64(200)}},
		Msg:  MsgConfig{"msg_format": "[{platform}] {from}: {msg}"},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("tg1", rec.sender())

	msg := &NormalizedMessage{
		Platform:   "discord",
		InstanceID: "disc1",
		Channel:    Channel{"channel_id": "100"},
		User:       "alice",
		Text:       "hello",
	}
	router.OnMessage(context.Background(), msg)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "[discord] alice: hello", rec.sent[0].rendered)
	assert.Equal(t, Channel{"chat_id": int64(200)}, rec.sent[0].channel)
}

func TestEchoSuppression(t *testing.T) {
	rule := Rule{
		Type: RuleConnect,
		Channels: map[string]ChannelWithMsg{
			"disc1": {Address: Channel{"channel_id": "100"}},
			"tg1":    {Address: Channel{"chat_id": "200"}},
		},
		Msg: MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	discRec, tgRec := &recorder{}, &recorder{}
	router.RegisterSender("disc1", discRec.sender())
	router.RegisterSender("tg1", tgRec.sender())

	msg := &NormalizedMessage{
		Platform:   "discord",
		InstanceID: "disc1",
		Channel:    Channel{"channel_id": "100"},
		Text:       "hi",
	}
	router.OnMessage(context.Background(), msg)

	assert.Equal(t, 0, discRec.count(), "source instance+channel must never receive its own message back")
	assert.Equal(t, 1, tgRec.count())
}

func TestConnectRuleMergesLocalMsgOverGlobal(t *testing.T) {
	rule := Rule{
		Type: RuleConnect,
		Channels: map[string]ChannelWithMsg{
			"a": {Address: Channel{"id": "1"}},
			"b": {
				Address: Channel{"id": "2"},
				Msg:     MsgConfig{"msg_format": "B says: {msg}"},
			},
			"c": {Address: Channel{"id": "9"}},
		},
		Msg: MsgConfig{"msg_format": "default: {msg}"},
	}
	router := NewRouter([]Rule{rule}, nil)
	recA, recB := &recorder{}, &recorder{}
	router.RegisterSender("a", recA.sender())
	router.RegisterSender("b", recB.sender())

	msg := &NormalizedMessage{InstanceID: "c", Channel: Channel{"id": "9"}, Text: "payload"}
	router.OnMessage(context.Background(), msg)

	require.Equal(t, 1, recA.count())
	require.Equal(t, 1, recB.count())
	assert.Equal(t, "default: payload", recA.sent[0].rendered)
	assert.Equal(t, "B says: payload", recB.sent[0].rendered)
}

func TestDisjointRulesOrderIndependent(t *testing.T) {
	r1 := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	r2 := Rule{
		Type: RuleForward,
		From: map[string]Channel{"b": {"id": "2"}},
		To:   map[string]Channel{"y": {"id": "20"}},
		Msg:  MsgConfig{},
	}

	for _, order := range [][]Rule{{r1, r2}, {r2, r1}} {
		router := NewRouter(order, nil)
		recX, recY := &recorder{}, &recorder{}
		router.RegisterSender("x", recX.sender())
		router.RegisterSender("y", recY.sender())

		router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m1"})
		router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "b", Channel: Channel{"id": "2"}, Text: "m2"})

		assert.Equal(t, 1, recX.count())
		assert.Equal(t, 1, recY.count())
	}
}

func TestUnknownPlaceholderFallsBackToRawText(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{"msg_format": "{nonsense} {msg}"},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	msg := &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "raw text"}
	router.OnMessage(context.Background(), msg)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "raw text", rec.sent[0].rendered)
}

func TestSensitiveValueGuardBlocksSend(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	blockAll := func(rendered string) (bool, string) { return true, "secret-token-value" }
	router := NewRouter([]Rule{rule}, blockAll)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "leak secret-token-value"})

	assert.Equal(t, 0, rec.count(), "guard must block delivery, not merely redact it")
}

func TestMissingSenderLogsAndContinues(t *testing.T) {
	rule := Rule{
		Type: RuleConnect,
		Channels: map[string]ChannelWithMsg{
			"missing": {Address: Channel{"id": "1"}},
			"present": {Address: Channel{"id": "2"}},
			"other":   {Address: Channel{"id": "9"}},
		},
		Msg: MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("present", rec.sender())

	require.NotPanics(t, func() {
		router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "other", Channel: Channel{"id": "9"}, Text: "x"})
	})
	assert.Equal(t, 1, rec.count())
}

func TestChannelAddressMatchingIsStringwise(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"chat_id": 123}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"chat_id": "123"}, Text: "m"})
	assert.Equal(t, 1, rec.count(), "numeric and string channel-address values must compare equal")
}

func TestUnregisterSenderStopsDispatch(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())
	router.UnregisterSender("x")

	router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m"})
	assert.Equal(t, 0, rec.count())
}

func TestUnknownExtraKeysPassThrough(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{"custom_foo": "v", "retries": 3},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m"})

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "v", rec.sent[0].extra["custom_foo"])
	assert.Equal(t, 3, rec.sent[0].extra["retries"])
}

func TestBridgeIDIsAssignedAndExposedToSenders(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	msg := &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m"}
	router.OnMessage(context.Background(), msg)

	require.Equal(t, 1, rec.count())
	require.NotEmpty(t, msg.BridgeID)
	assert.Equal(t, msg.BridgeID, rec.sent[0].extra["_bridge_id"])
}

func TestReplyParentSurfacesAsReplyToBridgeID(t *testing.T) {
	rule := Rule{
		Type: RuleForward,
		From: map[string]Channel{"a": {"id": "1"}},
		To:   map[string]Channel{"x": {"id": "10"}},
		Msg:  MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	rec := &recorder{}
	router.RegisterSender("x", rec.sender())

	msg := &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m", ReplyParent: "prior-bridge-id"}
	router.OnMessage(context.Background(), msg)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "prior-bridge-id", rec.sent[0].extra["_reply_to_bridge_id"])
}

func TestAttachmentsSharedByReferenceAcrossTargets(t *testing.T) {
	rule := Rule{
		Type: RuleConnect,
		Channels: map[string]ChannelWithMsg{
			"a": {Address: Channel{"id": "1"}},
			"b": {Address: Channel{"id": "2"}},
			"c": {Address: Channel{"id": "3"}},
		},
		Msg: MsgConfig{},
	}
	router := NewRouter([]Rule{rule}, nil)
	recB, recC := &recorder{}, &recorder{}
	router.RegisterSender("b", recB.sender())
	router.RegisterSender("c", recC.sender())

	atts := []Attachment{{Type: AttachmentImage, URL: "https://example.com/x.png"}}
	router.OnMessage(context.Background(), &NormalizedMessage{InstanceID: "a", Channel: Channel{"id": "1"}, Text: "m", Attachments: atts})

	require.Equal(t, 1, recB.count())
	require.Equal(t, 1, recC.count())
	assert.Same(t, &atts[0], &recB.sent[0].attachments[0])
	assert.Same(t, &atts[0], &recC.sent[0].attachments[0])
}
