// Package telegram implements the Telegram driver: long-polling receive and
// bot-API send via mymmrac/telego.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/store"
)

func init() {
	driver.Register("telegram",
		func() any { return &config.TelegramConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.TelegramConfig)
			if !ok {
				return nil, fmt.Errorf("telegram: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router}, nil
		},
	)
}

// Driver is one configured Telegram bot instance.
type Driver struct {
	instanceID string
	cfg        *config.TelegramConfig
	router     *bridge.Router
	bot        *telego.Bot
	store      *store.MessageDB
}

// SetStore enables reply threading: sent message IDs are recorded against
// their bridge id, and incoming replies are resolved back to it.
func (d *Driver) SetStore(db *store.MessageDB) {
	d.store = db
}

// Start opens a long-polling session and blocks on the update loop until
// ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	if d.cfg.BotToken == "" {
		logger.WarnCF("drivers.telegram", "no bot_token configured, skipping", map[string]any{"instance_id": d.instanceID})
		d.router.RegisterSender(d.instanceID, d.send)
		<-ctx.Done()
		return nil
	}

	bot, err := telego.NewBot(d.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram [%s]: creating bot: %w", d.instanceID, err)
	}
	d.bot = bot
	d.router.RegisterSender(d.instanceID, d.send)

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram [%s]: starting long polling: %w", d.instanceID, err)
	}

	logger.InfoCF("drivers.telegram", "polling started", map[string]any{"instance_id": d.instanceID})
	for update := range updates {
		if update.Message != nil {
			d.onMessage(ctx, update.Message)
		}
	}
	return nil
}

func (d *Driver) onMessage(ctx context.Context, msg *telego.Message) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var userID, userName string
	if msg.From != nil {
		userID = fmt.Sprintf("%d", msg.From.ID)
		userName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if userName == "" {
			userName = msg.From.Username
		}
		if userName == "" {
			userName = userID
		}
	}

	var attachments []bridge.Attachment
	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		if url, ok := d.fileURL(ctx, largest.FileID); ok {
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentImage, URL: url, Name: "photo.jpg", Size: int64(largest.FileSize)})
		}
	case msg.Video != nil:
		if url, ok := d.fileURL(ctx, msg.Video.FileID); ok {
			name := msg.Video.FileName
			if name == "" {
				name = "video.mp4"
			}
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVideo, URL: url, Name: name, Size: int64(msg.Video.FileSize)})
		}
	case msg.Voice != nil:
		if url, ok := d.fileURL(ctx, msg.Voice.FileID); ok {
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVoice, URL: url, Name: "voice.ogg", Size: int64(msg.Voice.FileSize)})
		}
	case msg.Audio != nil:
		if url, ok := d.fileURL(ctx, msg.Audio.FileID); ok {
			name := msg.Audio.FileName
			if name == "" {
				name = "audio.mp3"
			}
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVoice, URL: url, Name: name, Size: int64(msg.Audio.FileSize)})
		}
	case msg.Animation != nil:
		if url, ok := d.fileURL(ctx, msg.Animation.FileID); ok {
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVideo, URL: url, Name: "animation.gif", Size: int64(msg.Animation.FileSize)})
		}
	case msg.Document != nil:
		if url, ok := d.fileURL(ctx, msg.Document.FileID); ok {
			name := msg.Document.FileName
			if name == "" {
				name = "file"
			}
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentFile, URL: url, Name: name, Size: int64(msg.Document.FileSize)})
		}
	}

	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return
	}

	var replyParent string
	if msg.ReplyToMessage != nil && d.store != nil {
		localID := fmt.Sprintf("%d", msg.ReplyToMessage.MessageID)
		if bridgeID, ok := d.store.BridgeIDFor(d.instanceID, localID); ok {
			replyParent = bridgeID
		}
	}

	normalized := &bridge.NormalizedMessage{
		Platform:    "telegram",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"chat_id": msg.Chat.ID},
		User:        userName,
		UserID:      userID,
		Text:        text,
		Attachments: attachments,
		MessageID:   fmt.Sprintf("%d", msg.MessageID),
		ReplyParent: replyParent,
	}
	d.router.OnMessage(ctx, normalized)
}

// fileURL resolves a Telegram file_id to its temporary download URL.
func (d *Driver) fileURL(ctx context.Context, fileID string) (string, bool) {
	file, err := d.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		logger.WarnCF("drivers.telegram", "resolving file url failed", map[string]any{
			"instance_id": d.instanceID, "error": err.Error(),
		})
		return "", false
	}
	return d.bot.FileDownloadURL(file.FilePath), true
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if d.bot == nil {
		return "", fmt.Errorf("telegram [%s]: bot not initialized", d.instanceID)
	}
	chatIDRaw, ok := channel["chat_id"]
	if !ok {
		return "", fmt.Errorf("telegram [%s]: target channel has no chat_id", d.instanceID)
	}
	chatID, err := toInt64(chatIDRaw)
	if err != nil {
		return "", fmt.Errorf("telegram [%s]: invalid chat_id: %w", d.instanceID, err)
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

	sent, err := d.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return "", fmt.Errorf("telegram [%s]: send failed: %w", d.instanceID, err)
	}
	sentID := fmt.Sprintf("%d", sent.MessageID)
	if d.store != nil {
		if bridgeID, ok := extra["_bridge_id"].(string); ok {
			d.store.SaveMapping(bridgeID, d.instanceID, channel.Get("chat_id"), sentID)
		}
	}
	return sentID, nil
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		var out int64
		_, err := fmt.Sscanf(t, "%d", &out)
		return out, err
	default:
		return 0, fmt.Errorf("unsupported chat_id type %T", v)
	}
}
