package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
)

func TestSendPostsJSONPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := &Driver{
		instanceID: "main",
		cfg:        &config.WebhookConfig{URL: srv.URL, Method: "POST", Headers: map[string]string{}},
		client:     srv.Client(),
	}

	_, err := d.send(context.Background(), bridge.Channel{"room": "1"}, "hello", []bridge.Attachment{
		{Type: bridge.AttachmentImage, URL: "https://x/y.png", Name: "y.png", Size: 10},
	}, map[string]any{"custom_foo": "v"})

	require.NoError(t, err)
	assert.Equal(t, "hello", received["text"])
	assert.Equal(t, "v", received["custom_foo"])
	atts := received["attachments"].([]any)
	require.Len(t, atts, 1)
	assert.Equal(t, "y.png", atts[0].(map[string]any)["name"])
}

func TestSendReportsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &Driver{
		instanceID: "main",
		cfg:        &config.WebhookConfig{URL: srv.URL, Method: "POST"},
		client:     srv.Client(),
	}

	_, err := d.send(context.Background(), bridge.Channel{}, "hi", nil, nil)
	assert.Error(t, err)
}

func TestStartRegistersSenderAndBlocksUntilCancel(t *testing.T) {
	router := bridge.NewRouter(nil, nil)
	d := &Driver{
		instanceID: "main",
		cfg:        &config.WebhookConfig{URL: "http://example.invalid", Method: "POST"},
		router:     router,
		client:     http.DefaultClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
