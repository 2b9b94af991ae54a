// Package discord implements the Discord driver: receive via the bot
// gateway, send via either an incoming webhook or the bot itself.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
	"github.com/flowbridge/bridge/pkg/store"
)

func init() {
	driver.Register("discord",
		func() any { return &config.DiscordConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.DiscordConfig)
			if !ok {
				return nil, fmt.Errorf("discord: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router}, nil
		},
	)
}

// Driver is one configured Discord instance.
type Driver struct {
	instanceID string
	cfg        *config.DiscordConfig
	router     *bridge.Router
	session    *discordgo.Session
	store      *store.MessageDB
}

// SetStore enables reply threading: sent message IDs are recorded against
// their bridge id, and incoming replies are resolved back to it.
func (d *Driver) SetStore(db *store.MessageDB) {
	d.store = db
}

// Start registers the sender immediately (webhook sends need no gateway
// connection) then, if a bot token is configured, opens the gateway and
// blocks on its receive loop until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	if d.cfg.BotToken == "" {
		logger.WarnCF("drivers.discord", "no bot_token configured, receive disabled", map[string]any{
			"instance_id": d.instanceID,
		})
		<-ctx.Done()
		return nil
	}

	session, err := discordgo.New("Bot " + d.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("discord [%s]: creating session: %w", d.instanceID, err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord [%s]: opening gateway: %w", d.instanceID, err)
	}
	d.session = session
	defer session.Close()

	logger.InfoCF("drivers.discord", "connected", map[string]any{"instance_id": d.instanceID})
	<-ctx.Done()
	return nil
}

func (d *Driver) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author != nil && m.Author.Bot {
		return
	}

	var attachments []bridge.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, bridge.Attachment{
			Type: media.MimeToAttType(a.ContentType),
			URL:  a.URL,
			Name: a.Filename,
			Size: int64(a.Size),
		})
	}
	if strings.TrimSpace(m.Content) == "" && len(attachments) == 0 {
		return
	}

	avatar := ""
	if m.Author != nil {
		avatar = m.Author.AvatarURL("")
	}

	var replyParent string
	if m.MessageReference != nil && d.store != nil {
		if bridgeID, ok := d.store.BridgeIDFor(d.instanceID, m.MessageReference.MessageID); ok {
			replyParent = bridgeID
		}
	}

	msg := &bridge.NormalizedMessage{
		Platform:    "discord",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"server_id": m.GuildID, "channel_id": m.ChannelID},
		User:        displayName(m),
		UserID:      m.Author.ID,
		UserAvatar:  avatar,
		Text:        m.Content,
		Attachments: attachments,
		MessageID:   m.ID,
		ReplyParent: replyParent,
	}
	d.router.OnMessage(context.Background(), msg)
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author != nil {
		return m.Author.Username
	}
	return ""
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	var (
		messageID string
		err       error
	)
	if d.cfg.SendMethod == "bot" || d.cfg.WebhookURL == "" {
		messageID, err = d.sendViaBot(ctx, channel, text)
	} else {
		messageID, err = d.sendViaWebhook(ctx, text, attachments, extra)
	}
	if err == nil && messageID != "" && d.store != nil {
		if bridgeID, ok := extra["_bridge_id"].(string); ok {
			d.store.SaveMapping(bridgeID, d.instanceID, channel.Get("channel_id"), messageID)
		}
	}
	return messageID, err
}

func (d *Driver) sendViaBot(ctx context.Context, channel bridge.Channel, text string) (string, error) {
	if d.session == nil {
		return "", fmt.Errorf("discord [%s]: no bot session available for send", d.instanceID)
	}
	channelID := channel.Get("channel_id")
	if channelID == "" {
		return "", fmt.Errorf("discord [%s]: target channel has no channel_id", d.instanceID)
	}
	msg, err := d.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", fmt.Errorf("discord [%s]: bot send failed: %w", d.instanceID, err)
	}
	return msg.ID, nil
}

func (d *Driver) sendViaWebhook(ctx context.Context, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	maxSize := d.cfg.MaxFileSize
	if maxSize == 0 {
		maxSize = 8 << 20
	}

	params := &discordgo.WebhookParams{Content: text}
	if title, ok := extra["webhook_title"].(string); ok && title != "" {
		params.Username = title
	}
	if avatar, ok := extra["webhook_avatar"].(string); ok && avatar != "" {
		params.AvatarURL = avatar
	}

	for i := range attachments {
		att := &attachments[i]
		if att.Empty() {
			continue
		}
		data, mimeType := media.FetchAttachment(ctx, att, maxSize)
		if data == nil {
			label := att.Name
			if label == "" {
				label = att.URL
			}
			params.Content += fmt.Sprintf("\n[%s: %s]", strings.Title(string(att.Type)), label)
			continue
		}
		params.Files = append(params.Files, &discordgo.File{
			Name:        media.FilenameFor(att.Name, mimeType),
			ContentType: mimeType,
			Reader:      bytes.NewReader(data),
		})
	}

	webhookID, token, err := splitWebhookURL(d.cfg.WebhookURL)
	if err != nil {
		return "", fmt.Errorf("discord [%s]: %w", d.instanceID, err)
	}

	session, err := discordgo.New("")
	if err != nil {
		return "", fmt.Errorf("discord [%s]: creating webhook client: %w", d.instanceID, err)
	}
	msg, err := session.WebhookExecute(webhookID, token, true, params)
	if err != nil {
		return "", fmt.Errorf("discord [%s]: webhook send failed: %w", d.instanceID, err)
	}
	if msg != nil {
		return msg.ID, nil
	}
	return "", nil
}

// splitWebhookURL extracts the webhook ID and token from a standard
// https://discord.com/api/webhooks/<id>/<token> URL.
func splitWebhookURL(url string) (id, token string, err error) {
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed webhook url %q", url)
	}
	token = parts[len(parts)-1]
	id = parts[len(parts)-2]
	if _, convErr := strconv.ParseUint(id, 10, 64); convErr != nil {
		return "", "", fmt.Errorf("malformed webhook url %q", url)
	}
	return id, token, nil
}
