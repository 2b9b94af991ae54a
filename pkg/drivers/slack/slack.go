// Package slack implements the Slack driver. Receive is Socket Mode (when
// app_token is set); send is either the bot Web API (chat.postMessage +
// files upload) or an Incoming Webhook, per send_method.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
)

func init() {
	driver.Register("slack",
		func() any { return &config.SlackConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.SlackConfig)
			if !ok {
				return nil, fmt.Errorf("slack: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, userCache: map[string]userInfo{}}, nil
		},
	)
}

type userInfo struct {
	name   string
	avatar string
}

// Driver is one configured Slack workspace instance.
type Driver struct {
	instanceID string
	cfg        *config.SlackConfig
	router     *bridge.Router

	api *slack.Client
	sm  *socketmode.Client

	mu        sync.Mutex
	userCache map[string]userInfo
}

// Start registers the sender, then — if app_token is configured — runs
// Socket Mode receive until ctx is canceled. Without app_token the driver
// is send-only.
func (d *Driver) Start(ctx context.Context) error {
	if d.cfg.BotToken != "" {
		d.api = slack.New(d.cfg.BotToken, slack.OptionAppLevelToken(d.cfg.AppToken))
	}
	d.router.RegisterSender(d.instanceID, d.send)

	if d.cfg.AppToken == "" {
		logger.InfoCF("drivers.slack", "running in send-only mode (no app_token)", map[string]any{"instance_id": d.instanceID})
		<-ctx.Done()
		return nil
	}
	if d.api == nil {
		return fmt.Errorf("slack [%s]: app_token requires bot_token", d.instanceID)
	}

	d.sm = socketmode.New(d.api)
	go d.receiveLoop(ctx)

	logger.InfoCF("drivers.slack", "socket mode connecting", map[string]any{"instance_id": d.instanceID})
	errCh := make(chan error, 1)
	go func() { errCh <- d.sm.RunContext(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Driver) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.sm.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			d.sm.Ack(*evt.Request)
			eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			d.onMessage(ctx, inner)
		}
	}
}

func (d *Driver) onMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" {
		return
	}
	if ev.Channel == "" || ev.User == "" {
		return
	}

	displayName, avatar := d.userInfo(ev.User)

	var attachments []bridge.Attachment
	for _, f := range ev.Files {
		url := f.URLPrivateDownload
		if url == "" {
			url = f.URLPrivate
		}
		if url == "" {
			continue
		}
		attachments = append(attachments, bridge.Attachment{
			Type: media.MimeToAttType(f.Mimetype),
			URL:  url,
			Name: f.Name,
			Size: int64(f.Size),
		})
	}

	if strings.TrimSpace(ev.Text) == "" && len(attachments) == 0 {
		return
	}

	msg := &bridge.NormalizedMessage{
		Platform:    "slack",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"channel_id": ev.Channel},
		User:        displayName,
		UserID:      ev.User,
		UserAvatar:  avatar,
		Text:        ev.Text,
		Attachments: attachments,
		MessageID:   ev.TimeStamp,
	}
	d.router.OnMessage(ctx, msg)
}

func (d *Driver) userInfo(userID string) (string, string) {
	d.mu.Lock()
	if u, ok := d.userCache[userID]; ok {
		d.mu.Unlock()
		return u.name, u.avatar
	}
	d.mu.Unlock()

	if d.api == nil {
		return userID, ""
	}
	u, err := d.api.GetUserInfo(userID)
	name, avatar := userID, ""
	if err == nil && u != nil {
		if u.Profile.DisplayName != "" {
			name = u.Profile.DisplayName
		} else if u.RealName != "" {
			name = u.RealName
		} else if u.Name != "" {
			name = u.Name
		}
		if u.Profile.Image192 != "" {
			avatar = u.Profile.Image192
		} else {
			avatar = u.Profile.Image72
		}
	}

	d.mu.Lock()
	d.userCache[userID] = userInfo{name: name, avatar: avatar}
	d.mu.Unlock()
	return name, avatar
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if rich, ok := extra["rich_header"].(map[string]any); ok {
		title, _ := rich["title"].(string)
		content, _ := rich["content"].(string)
		prefix := "[" + title
		if content != "" {
			prefix += " · " + content
		}
		prefix += "]"
		if text != "" {
			text = prefix + "\n" + text
		} else {
			text = prefix
		}
	}

	title, _ := extra["webhook_title"].(string)
	avatar, _ := extra["webhook_avatar"].(string)

	if d.cfg.SendMethod == "webhook" {
		needsBot := d.api != nil && (len(attachments) > 0 || title != "" || avatar != "")
		if needsBot {
			return d.sendViaBot(channel, text, attachments, title, avatar)
		}
		return "", d.sendViaWebhook(ctx, text, attachments)
	}
	return d.sendViaBot(channel, text, attachments, title, avatar)
}

func (d *Driver) sendViaBot(channel bridge.Channel, text string, attachments []bridge.Attachment, title, avatar string) (string, error) {
	channelID := channel.Get("channel_id")
	if channelID == "" {
		return "", fmt.Errorf("slack [%s]: target channel has no channel_id", d.instanceID)
	}
	if d.api == nil {
		return "", fmt.Errorf("slack [%s]: bot_token not configured", d.instanceID)
	}

	opts := func(msgText string) []slack.MsgOption {
		o := []slack.MsgOption{slack.MsgOptionText(msgText, false)}
		if title != "" {
			o = append(o, slack.MsgOptionUsername(title))
		}
		if avatar != "" {
			o = append(o, slack.MsgOptionIconURL(avatar))
		}
		return o
	}

	var lastTS string
	if text != "" {
		_, ts, err := d.api.PostMessage(channelID, opts(text)...)
		if err != nil {
			logger.ErrorCF("drivers.slack", "chat.postMessage failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
		}
		lastTS = ts
	}

	maxSize := d.cfg.MaxFileSize
	hasIdentity := title != "" || avatar != ""
	for i := range attachments {
		att := &attachments[i]
		if att.Empty() {
			continue
		}
		data, mimeType := media.FetchAttachment(context.Background(), att, maxSize)
		if data == nil {
			label := att.Name
			if label == "" {
				label = att.URL
			}
			_, _, _ = d.api.PostMessage(channelID, opts(fmt.Sprintf("[%s: %s]", strings.Title(string(att.Type)), label))...)
			continue
		}
		fname := media.FilenameFor(att.Name, mimeType)
		if hasIdentity {
			up, err := d.api.UploadFileV2(slack.UploadFileV2Parameters{Filename: fname, FileSize: len(data), Reader: bytes.NewReader(data)})
			if err != nil {
				logger.ErrorCF("drivers.slack", "file upload failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
				continue
			}
			if up != nil && up.Permalink != "" {
				_, _, _ = d.api.PostMessage(channelID, opts(up.Permalink)...)
			}
		} else {
			_, err := d.api.UploadFileV2(slack.UploadFileV2Parameters{Channel: channelID, Filename: fname, FileSize: len(data), Reader: bytes.NewReader(data)})
			if err != nil {
				logger.ErrorCF("drivers.slack", "file upload failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
			}
		}
	}
	return lastTS, nil
}

func (d *Driver) sendViaWebhook(ctx context.Context, text string, attachments []bridge.Attachment) error {
	if d.cfg.IncomingWebhookURL == "" {
		return fmt.Errorf("slack [%s]: send_method=webhook requires incoming_webhook_url", d.instanceID)
	}
	full := text
	for _, att := range attachments {
		label := att.Name
		if label == "" {
			label = att.URL
		}
		full += fmt.Sprintf("\n[%s: %s]", strings.Title(string(att.Type)), label)
	}
	if strings.TrimSpace(full) == "" {
		return nil
	}
	return slack.PostWebhookContext(ctx, d.cfg.IncomingWebhookURL, &slack.WebhookMessage{Text: full})
}
