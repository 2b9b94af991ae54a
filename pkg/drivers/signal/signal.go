// Package signal implements the Signal driver against a signal-cli REST
// API (https://github.com/bbernhard/signal-cli-rest-api): receive via
// short-polling the /v1/receive endpoint, send via /v2/send.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
)

func init() {
	driver.Register("signal",
		func() any { return &config.SignalConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.SignalConfig)
			if !ok {
				return nil, fmt.Errorf("signal: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 40 * time.Second}}, nil
		},
	)
}

// pollInterval is how long the receive loop waits after each /v1/receive
// call, whether it succeeded or failed, before calling again.
const pollInterval = 2 * time.Second

// Driver is one configured signal-cli REST API account instance.
type Driver struct {
	instanceID string
	cfg        *config.SignalConfig
	router     *bridge.Router
	http       *http.Client
}

// envelope is the subset of a signal-cli receive envelope the bridge uses.
type envelope struct {
	Envelope struct {
		Source       string `json:"source"`
		SourceName   string `json:"sourceName"`
		Timestamp    int64  `json:"timestamp"`
		DataMessage  *struct {
			Message           string `json:"message"`
			GroupInfo         *struct {
				GroupID string `json:"groupId"`
			} `json:"groupInfo"`
			Attachments []struct {
				ID          string `json:"id"`
				ContentType string `json:"contentType"`
				Filename    string `json:"filename"`
				Size        int64  `json:"size"`
			} `json:"attachments"`
		} `json:"dataMessage"`
	} `json:"envelope"`
}

// Start polls the signal-cli receive endpoint until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)
	logger.InfoCF("drivers.signal", "polling started", map[string]any{"instance_id": d.instanceID, "api_url": d.cfg.APIURL})

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.pollOnce(ctx); err != nil {
			logger.WarnCF("drivers.signal", "poll failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pollInterval):
		}
	}
}

func (d *Driver) pollOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1/receive/%s", strings.TrimRight(d.cfg.APIURL, "/"), d.cfg.Number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("receive HTTP %d: %s", resp.StatusCode, body)
	}

	var envelopes []envelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return err
	}
	for _, e := range envelopes {
		d.onEnvelope(ctx, &e)
	}
	return nil
}

func (d *Driver) onEnvelope(ctx context.Context, e *envelope) {
	dm := e.Envelope.DataMessage
	if dm == nil {
		return
	}

	channel := bridge.Channel{"source": e.Envelope.Source}
	if dm.GroupInfo != nil && dm.GroupInfo.GroupID != "" {
		channel = bridge.Channel{"group_id": dm.GroupInfo.GroupID}
	}

	var attachments []bridge.Attachment
	for _, a := range dm.Attachments {
		attachments = append(attachments, bridge.Attachment{
			Type: media.MimeToAttType(a.ContentType),
			URL:  fmt.Sprintf("%s/v1/attachments/%s", strings.TrimRight(d.cfg.APIURL, "/"), a.ID),
			Name: a.Filename,
			Size: a.Size,
		})
	}

	if strings.TrimSpace(dm.Message) == "" && len(attachments) == 0 {
		return
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:    "signal",
		InstanceID:  d.instanceID,
		Channel:     channel,
		User:        e.Envelope.SourceName,
		UserID:      e.Envelope.Source,
		Text:        dm.Message,
		Attachments: attachments,
		MessageID:   fmt.Sprintf("%d", e.Envelope.Timestamp),
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	recipients := []string{}
	groupID := ""
	if gid := channel.Get("group_id"); gid != "" {
		groupID = gid
	} else if source := channel.Get("source"); source != "" {
		recipients = append(recipients, source)
	} else {
		return "", fmt.Errorf("signal [%s]: target channel has no group_id or source", d.instanceID)
	}

	for _, att := range attachments {
		if att.Empty() {
			continue
		}
		label := att.Name
		if label == "" {
			label = att.URL
		}
		text += fmt.Sprintf("\n[%s: %s]", strings.Title(string(att.Type)), label)
	}

	payload := map[string]any{
		"message":    text,
		"number":     d.cfg.Number,
		"recipients": recipients,
	}
	if groupID != "" {
		payload["recipients"] = []string{"group." + groupID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(d.cfg.APIURL, "/") + "/v2/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signal [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("signal [%s]: send failed HTTP %d: %s", d.instanceID, resp.StatusCode, respBody)
	}

	var out struct {
		Timestamp int64 `json:"timestamp"`
	}
	_ = json.Unmarshal(respBody, &out)
	return fmt.Sprintf("%d", out.Timestamp), nil
}
