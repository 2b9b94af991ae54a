// Package vocechat implements the VoceChat driver: receive via the bot's
// WebSocket event stream, send via the REST bot send-message API.
package vocechat

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

func init() {
	driver.Register("vocechat",
		func() any { return &config.VoceChatConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.VoceChatConfig)
			if !ok {
				return nil, fmt.Errorf("vocechat: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 15 * time.Second}}, nil
		},
	)
}

// Driver is one configured VoceChat bot instance.
type Driver struct {
	instanceID string
	cfg        *config.VoceChatConfig
	router     *bridge.Router
	http       *http.Client
}

// wsEvent is the subset of a VoceChat bot WebSocket event the bridge reads.
type wsEvent struct {
	Target struct {
		Type string `json:"type"`
		UID  int64  `json:"uid"`
		GID  int64  `json:"gid"`
	} `json:"target"`
	Detail struct {
		Type      string `json:"type"`
		Content   string `json:"content"`
		ContentType string `json:"content_type"`
	} `json:"detail"`
	FromUID int64 `json:"from_uid"`
	Mid     int64 `json:"mid"`
}

// Start opens the bot WebSocket stream and reconnects with backoff on drop
// until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runOnce(ctx); err != nil {
			logger.WarnCF("drivers.vocechat", "connection lost, retrying", map[string]any{
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
	wsURL := strings.Replace(strings.TrimRight(d.cfg.ServerURL, "/"), "http", "ws", 1) + "/api/bot/ws/" + d.cfg.BotKey
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.InfoCF("drivers.vocechat", "connected", map[string]any{"instance_id": d.instanceID})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		d.dispatch(ctx, raw)
	}
}

func (d *Driver) dispatch(ctx context.Context, raw []byte) {
	var ev wsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	if ev.Detail.Type != "normal" || strings.TrimSpace(ev.Detail.Content) == "" {
		return
	}

	channel := bridge.Channel{}
	if ev.Target.Type == "group" {
		channel["gid"] = ev.Target.GID
	} else {
		channel["uid"] = ev.Target.UID
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:   "vocechat",
		InstanceID: d.instanceID,
		Channel:    channel,
		UserID:     fmt.Sprintf("%d", ev.FromUID),
		Text:       ev.Detail.Content,
		MessageID:  fmt.Sprintf("%d", ev.Mid),
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
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

	var path string
	if gid := channel.Get("gid"); gid != "" {
		path = "/api/bot/send/group/" + gid
	} else if uid := channel.Get("uid"); uid != "" {
		path = "/api/bot/send/user/" + uid
	} else {
		return "", fmt.Errorf("vocechat [%s]: target channel has no gid or uid", d.instanceID)
	}

	url := strings.TrimRight(d.cfg.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(text)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("x-api-key", d.cfg.BotKey)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vocechat [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("vocechat [%s]: send failed HTTP %d: %s", d.instanceID, resp.StatusCode, body)
	}
	return strings.TrimSpace(string(body)), nil
}
