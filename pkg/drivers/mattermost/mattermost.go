// Package mattermost implements the Mattermost driver via
// github.com/mattermost/mattermost/server/public/model: receive through
// the bot's realtime WebSocket client, send through the REST Client4.
package mattermost

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

func init() {
	driver.Register("mattermost",
		func() any { return &config.MattermostConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.MattermostConfig)
			if !ok {
				return nil, fmt.Errorf("mattermost: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router}, nil
		},
	)
}

// Driver is one configured Mattermost bot account instance.
type Driver struct {
	instanceID string
	cfg        *config.MattermostConfig
	router     *bridge.Router
	client     *model.Client4
	botUserID  string
}

// Start authenticates the bot, registers the sender, and runs the realtime
// WebSocket event loop, reconnecting with backoff on drop until ctx is
// canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.client = model.NewAPIv4Client(d.cfg.ServerURL)
	d.client.SetToken(d.cfg.BotToken)

	me, _, err := d.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("mattermost [%s]: authenticating: %w", d.instanceID, err)
	}
	d.botUserID = me.Id
	d.router.RegisterSender(d.instanceID, d.send)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runOnce(ctx); err != nil {
			logger.WarnCF("drivers.mattermost", "realtime connection lost, retrying", map[string]any{
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
	wsURL := strings.Replace(strings.TrimRight(d.cfg.ServerURL, "/"), "http", "ws", 1)
	ws, err := model.NewWebSocketClient4(wsURL, d.client.AuthToken)
	if err != nil {
		return fmt.Errorf("connecting websocket: %w", err)
	}
	defer ws.Close()

	ws.Listen()
	defer ws.Close()

	logger.InfoCF("drivers.mattermost", "connected", map[string]any{"instance_id": d.instanceID})
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ws.EventChannel:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			if ev.EventType() == model.WebsocketEventPosted {
				d.onPosted(ctx, ev)
			}
		}
	}
}

func (d *Driver) onPosted(ctx context.Context, ev *model.WebSocketEvent) {
	postJSON, ok := ev.GetData()["post"].(string)
	if !ok {
		return
	}
	post := model.PostFromJson(strings.NewReader(postJSON))
	if post == nil || post.UserId == d.botUserID {
		return
	}
	if strings.TrimSpace(post.Message) == "" && len(post.FileIds) == 0 {
		return
	}

	userName, _ := ev.GetData()["sender_name"].(string)

	var attachments []bridge.Attachment
	for _, fileID := range post.FileIds {
		attachments = append(attachments, bridge.Attachment{
			Type: bridge.AttachmentFile,
			URL:  fmt.Sprintf("%s/api/v4/files/%s", strings.TrimRight(d.cfg.ServerURL, "/"), fileID),
		})
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:    "mattermost",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"channel_id": post.ChannelId},
		User:        strings.TrimPrefix(userName, "@"),
		UserID:      post.UserId,
		Text:        post.Message,
		Attachments: attachments,
		MessageID:   post.Id,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if d.client == nil {
		return "", fmt.Errorf("mattermost [%s]: driver not started", d.instanceID)
	}
	channelID := channel.Get("channel_id")
	if channelID == "" {
		return "", fmt.Errorf("mattermost [%s]: target channel has no channel_id", d.instanceID)
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

	post := &model.Post{ChannelId: channelID, Message: text}
	created, _, err := d.client.CreatePost(ctx, post)
	if err != nil {
		return "", fmt.Errorf("mattermost [%s]: send failed: %w", d.instanceID, err)
	}
	return created.Id, nil
}
