// Package rocketchat implements the Rocket.Chat driver: receive via the
// realtime API WebSocket (DDP subscription to room messages), send via the
// REST chat.postMessage endpoint.
package rocketchat

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
	driver.Register("rocketchat",
		func() any { return &config.RocketChatConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.RocketChatConfig)
			if !ok {
				return nil, fmt.Errorf("rocketchat: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 20 * time.Second}}, nil
		},
	)
}

// Driver is one configured Rocket.Chat bot instance.
type Driver struct {
	instanceID string
	cfg        *config.RocketChatConfig
	router     *bridge.Router
	http       *http.Client
}

// ddpMessage is the minimal shape of a stream-room-messages change event.
type ddpMessage struct {
	Msg    string `json:"msg"`
	Fields struct {
		Args []json.RawMessage `json:"args"`
	} `json:"fields"`
}

type roomMessage struct {
	RID  string `json:"rid"`
	Msg  string `json:"msg"`
	ID   string `json:"_id"`
	U    struct {
		ID       string `json:"_id"`
		Username string `json:"username"`
	} `json:"u"`
	Attachments []struct {
		Title     string `json:"title"`
		TitleLink string `json:"title_link"`
		ImageURL  string `json:"image_url"`
	} `json:"attachments"`
}

// Start opens the realtime WebSocket, subscribes to the bot user's room
// stream, and reconnects with backoff on drop until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runOnce(ctx); err != nil {
			logger.WarnCF("drivers.rocketchat", "connection lost, retrying", map[string]any{
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
	wsURL := strings.Replace(strings.TrimRight(d.cfg.ServerURL, "/"), "http", "ws", 1) + "/websocket"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := d.handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	logger.InfoCF("drivers.rocketchat", "connected", map[string]any{"instance_id": d.instanceID})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		d.dispatch(ctx, raw)
	}
}

func (d *Driver) handshake(conn *websocket.Conn) error {
	connectMsg, _ := json.Marshal(map[string]any{"msg": "connect", "version": "1", "support": []string{"1"}})
	if err := conn.WriteMessage(websocket.TextMessage, connectMsg); err != nil {
		return err
	}
	loginMsg, _ := json.Marshal(map[string]any{
		"msg": "method", "method": "login", "id": "login-1",
		"params": []any{map[string]any{"resume": d.cfg.AuthToken}},
	})
	if err := conn.WriteMessage(websocket.TextMessage, loginMsg); err != nil {
		return err
	}
	subMsg, _ := json.Marshal(map[string]any{
		"msg": "sub", "id": "sub-1", "name": "stream-notify-user",
		"params": []any{d.cfg.UserID + "/message", false},
	})
	return conn.WriteMessage(websocket.TextMessage, subMsg)
}

func (d *Driver) dispatch(ctx context.Context, raw []byte) {
	var frame struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if frame.Msg == "ping" {
		return
	}

	var changed ddpMessage
	if err := json.Unmarshal(raw, &changed); err != nil || changed.Msg != "changed" {
		return
	}
	for _, arg := range changed.Fields.Args {
		var rm roomMessage
		if err := json.Unmarshal(arg, &rm); err != nil {
			continue
		}
		if rm.RID != "" {
			d.onMessage(ctx, &rm)
		}
	}
}

func (d *Driver) onMessage(ctx context.Context, rm *roomMessage) {
	if rm.U.ID == d.cfg.UserID {
		return
	}

	var attachments []bridge.Attachment
	for _, a := range rm.Attachments {
		if a.ImageURL == "" {
			continue
		}
		attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentImage, URL: a.ImageURL, Name: a.Title})
	}
	if strings.TrimSpace(rm.Msg) == "" && len(attachments) == 0 {
		return
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:    "rocketchat",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"room_id": rm.RID},
		User:        rm.U.Username,
		UserID:      rm.U.ID,
		Text:        rm.Msg,
		Attachments: attachments,
		MessageID:   rm.ID,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	roomID := channel.Get("room_id")
	if roomID == "" {
		return "", fmt.Errorf("rocketchat [%s]: target channel has no room_id", d.instanceID)
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

	body, err := json.Marshal(map[string]any{"roomId": roomID, "text": text})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(d.cfg.ServerURL, "/") + "/api/v1/chat.postMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", d.cfg.AuthToken)
	req.Header.Set("X-User-Id", d.cfg.UserID)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("rocketchat [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var out struct {
		Success bool `json:"success"`
		Message struct {
			ID string `json:"_id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("rocketchat [%s]: send failed: %s", d.instanceID, respBody)
	}
	return out.Message.ID, nil
}
