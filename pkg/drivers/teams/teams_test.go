package teams

import (
	"bytes"
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

func TestSendFailsWithoutWebhookURL(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.TeamsConfig{}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestSendPostsWebhookPayload(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &Driver{instanceID: "main", cfg: &config.TeamsConfig{WebhookURL: srv.URL}, http: srv.Client()}
	_, err := d.send(context.Background(), bridge.Channel{}, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", captured["text"])
}

func TestHandleActivityRoutesMessage(t *testing.T) {
	router := bridge.NewRouter([]bridge.Rule{{
		Type: bridge.RuleForward,
		From: map[string]bridge.Channel{"main": {"conversation_id": "c1"}},
		To:   map[string]bridge.Channel{"sink": {"id": "1"}},
		Msg:  bridge.MsgConfig{},
	}}, nil)
	var capturedText string
	router.RegisterSender("sink", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		capturedText = text
		return "", nil
	})
	d := &Driver{instanceID: "main", cfg: &config.TeamsConfig{ListenPath: "/teams"}, router: router}

	body := `{"type":"message","text":"hi","from":{"id":"u1","name":"Bob"},"conversation":{"id":"c1"},"id":"a1"}`
	req := httptest.NewRequest(http.MethodPost, "/teams", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	d.handleActivity(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", capturedText)
}
