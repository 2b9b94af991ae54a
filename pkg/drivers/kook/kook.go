// Package kook implements the KOOK (Kaiheila) driver: receive via the
// bot gateway WebSocket, send via the REST message-create API.
package kook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

const gatewayURL = "https://www.kookapp.cn/api/v3/gateway/index?compress=0"

// messageURL is the REST message-create endpoint; overridable in tests.
var messageURL = "https://www.kookapp.cn/api/v3/message/create"

func init() {
	driver.Register("kook",
		func() any { return &config.KookConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.KookConfig)
			if !ok {
				return nil, fmt.Errorf("kook: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 15 * time.Second}}, nil
		},
	)
}

// Driver is one configured KOOK bot instance.
type Driver struct {
	instanceID string
	cfg        *config.KookConfig
	router     *bridge.Router
	http       *http.Client
}

// gatewayFrame is the KOOK signaling envelope: s=0 data frames carry events.
type gatewayFrame struct {
	S int             `json:"s"`
	D json.RawMessage `json:"d"`
}

type eventData struct {
	ChannelType string          `json:"channel_type"`
	Type        int             `json:"type"`
	TargetID    string          `json:"target_id"`
	AuthorID    string          `json:"author_id"`
	Content     string          `json:"content"`
	MsgID       string          `json:"msg_id"`
	Extra       json.RawMessage `json:"extra"`
}

// Start fetches the gateway URL and runs the WebSocket receive loop,
// reconnecting with backoff on drop until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runOnce(ctx); err != nil {
			logger.WarnCF("drivers.kook", "connection lost, retrying", map[string]any{
				"instance_id": d.instanceID, "error": err.Error(), "backoff": backoff.String(),
			})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (d *Driver) runOnce(ctx context.Context) error {
	wsURL, err := d.fetchGatewayURL(ctx)
	if err != nil {
		return fmt.Errorf("gateway url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.InfoCF("drivers.kook", "connected", map[string]any{"instance_id": d.instanceID})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		d.dispatch(raw)
	}
}

func (d *Driver) fetchGatewayURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.Token)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Data.URL == "" {
		return "", fmt.Errorf("empty gateway url in response")
	}
	return out.Data.URL, nil
}

func (d *Driver) dispatch(raw []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.S != 0 {
		return
	}
	var ev eventData
	if err := json.Unmarshal(frame.D, &ev); err != nil {
		return
	}
	if ev.Type != 1 { // 1 = text message
		return
	}
	if strings.TrimSpace(ev.Content) == "" {
		return
	}

	d.router.OnMessage(context.Background(), &bridge.NormalizedMessage{
		Platform:   "kook",
		InstanceID: d.instanceID,
		Channel:    bridge.Channel{"target_id": ev.TargetID, "channel_type": ev.ChannelType},
		UserID:     ev.AuthorID,
		Text:       ev.Content,
		MessageID:  ev.MsgID,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	targetID := channel.Get("target_id")
	if targetID == "" {
		return "", fmt.Errorf("kook [%s]: target channel has no target_id", d.instanceID)
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

	body, err := json.Marshal(map[string]any{"type": 9, "target_id": targetID, "content": text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("kook [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int `json:"code"`
		Data struct {
			MsgID string `json:"msg_id"`
		} `json:"data"`
	}
	respBody, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", fmt.Errorf("kook [%s]: send failed, code %d: %s", d.instanceID, out.Code, respBody)
	}
	return out.Data.MsgID, nil
}
