package signal

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

func TestSendFailsWithoutRecipient(t *testing.T) {
	d := &Driver{instanceID: "main", cfg: &config.SignalConfig{APIURL: "http://x", Number: "+1"}, http: http.DefaultClient}
	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestPollOnceRoutesTextMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"envelope":{"source":"+123","sourceName":"Bob","timestamp":111,"dataMessage":{"message":"hey"}}}]`))
	}))
	defer srv.Close()

	router := bridge.NewRouter([]bridge.Rule{{
		Type: bridge.RuleForward,
		From: map[string]bridge.Channel{"main": {"source": "+123"}},
		To:   map[string]bridge.Channel{"sink": {"id": "1"}},
		Msg:  bridge.MsgConfig{},
	}}, nil)
	var capturedText string
	router.RegisterSender("sink", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		capturedText = text
		return "", nil
	})

	d := &Driver{instanceID: "main", cfg: &config.SignalConfig{APIURL: srv.URL, Number: "+1"}, router: router, http: srv.Client()}
	require.NoError(t, d.pollOnce(context.Background()))
	assert.Equal(t, "hey", capturedText)
}

func TestSendBuildsGroupRecipient(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"timestamp":222}`))
	}))
	defer srv.Close()

	d := &Driver{instanceID: "main", cfg: &config.SignalConfig{APIURL: srv.URL, Number: "+1"}, http: srv.Client()}
	id, err := d.send(context.Background(), bridge.Channel{"group_id": "g1"}, "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "222", id)
	recips := captured["recipients"].([]any)
	require.Len(t, recips, 1)
	assert.Equal(t, "group.g1", recips[0])
}
