// Package webhook implements a send-only generic outbound webhook driver:
// every routed message is POSTed (or PUT/PATCHed) as a JSON payload to a
// configured URL. It has no receive side.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

func init() {
	driver.Register("webhook",
		func() any { return &config.WebhookConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.WebhookConfig)
			if !ok {
				return nil, fmt.Errorf("webhook: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, client: &http.Client{Timeout: 30 * time.Second}}, nil
		},
	)
}

// Driver is one configured outbound webhook target.
type Driver struct {
	instanceID string
	cfg        *config.WebhookConfig
	client     *http.Client
	router     *bridge.Router
}

// Start registers the sender, then blocks until ctx is canceled and returns
// nil — there is no receive loop for a send-only driver.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)
	logger.InfoCF("drivers.webhook", "send-only driver ready", map[string]any{
		"instance_id": d.instanceID, "url": d.cfg.URL,
	})
	<-ctx.Done()
	return nil
}

// attachmentPayload mirrors the wire shape sent for each attachment: type,
// url, name, size — never the raw bytes.
type attachmentPayload struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	atts := make([]attachmentPayload, 0, len(attachments))
	for _, a := range attachments {
		atts = append(atts, attachmentPayload{Type: string(a.Type), URL: a.URL, Name: a.Name, Size: a.Size})
	}

	payload := map[string]any{
		"text":        text,
		"channel":     map[string]any(channel),
		"attachments": atts,
	}
	for k, v := range extra {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("webhook: encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, d.cfg.Method, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("webhook: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return "", nil
	default:
		return "", fmt.Errorf("webhook [%s]: send failed HTTP %d", d.instanceID, resp.StatusCode)
	}
}
