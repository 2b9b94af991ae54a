// Package matrix implements the Matrix driver via maunium.net/go/mautrix:
// receive through the client-server sync loop, send via the message-send API.
package matrix

import (
	"context"
	"fmt"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
)

func init() {
	driver.Register("matrix",
		func() any { return &config.MatrixConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.MatrixConfig)
			if !ok {
				return nil, fmt.Errorf("matrix: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router}, nil
		},
	)
}

// Driver is one configured Matrix account instance.
type Driver struct {
	instanceID string
	cfg        *config.MatrixConfig
	router     *bridge.Router
	client     *mautrix.Client
}

// Start logs in (or adopts an access token), runs the sync loop until ctx
// is canceled, and registers the sender only once the client is ready.
func (d *Driver) Start(ctx context.Context) error {
	homeserver := strings.TrimRight(d.cfg.Homeserver, "/")
	client, err := mautrix.NewClient(homeserver, id.UserID(d.cfg.UserID), d.cfg.AccessToken)
	if err != nil {
		return fmt.Errorf("matrix [%s]: creating client: %w", d.instanceID, err)
	}
	d.client = client

	if d.cfg.AccessToken == "" {
		_, err := client.Login(ctx, &mautrix.ReqLogin{
			Type:             mautrix.AuthTypePassword,
			Identifier:       mautrix.UserIdentifier{Type: mautrix.IdentifierTypeUser, User: d.cfg.UserID},
			Password:         d.cfg.Password,
			StoreCredentials: true,
		})
		if err != nil {
			return fmt.Errorf("matrix [%s]: login failed: %w", d.instanceID, err)
		}
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		syncer = mautrix.NewDefaultSyncer()
		client.Syncer = syncer
	}
	syncer.OnEventType(event.EventMessage, d.onMessage)

	d.router.RegisterSender(d.instanceID, d.send)
	logger.InfoCF("drivers.matrix", "sync starting", map[string]any{"instance_id": d.instanceID})

	errCh := make(chan error, 1)
	go func() { errCh <- client.SyncWithContext(ctx) }()

	select {
	case <-ctx.Done():
		client.StopSync()
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Driver) onMessage(ctx context.Context, ev *event.Event) {
	if ev.Sender == id.UserID(d.cfg.UserID) {
		return
	}
	content, ok := ev.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	displayName, avatar := d.profile(ctx, ev.Sender)

	if content.MsgType == event.MsgText || content.MsgType == event.MsgEmote {
		if strings.TrimSpace(content.Body) == "" {
			return
		}
		d.router.OnMessage(ctx, &bridge.NormalizedMessage{
			Platform:   "matrix",
			InstanceID: d.instanceID,
			Channel:    bridge.Channel{"room_id": string(ev.RoomID)},
			User:       displayName,
			UserID:     string(ev.Sender),
			UserAvatar: avatar,
			Text:       content.Body,
			MessageID:  string(ev.ID),
		})
		return
	}

	attType := attTypeFor(content.MsgType)
	if attType == "" {
		return
	}

	maxSize := d.cfg.MaxFileSize
	if content.Info != nil && int64(content.Info.Size) > maxSize {
		return
	}

	var data []byte
	url := ""
	if content.URL != "" {
		raw, err := d.client.DownloadBytes(ctx, content.URL)
		if err != nil {
			logger.WarnCF("drivers.matrix", "media download failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
			url = d.mxcToHTTP(string(content.URL))
		} else if int64(len(raw)) <= maxSize {
			data = raw
		} else {
			return
		}
	}

	name := content.FileName
	if name == "" {
		name = content.Body
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:   "matrix",
		InstanceID: d.instanceID,
		Channel:    bridge.Channel{"room_id": string(ev.RoomID)},
		User:       displayName,
		UserID:     string(ev.Sender),
		UserAvatar: avatar,
		Attachments: []bridge.Attachment{
			{Type: attType, URL: url, Name: name, Data: data},
		},
		MessageID: string(ev.ID),
	})
}

func attTypeFor(t event.MessageType) bridge.AttachmentType {
	switch t {
	case event.MsgImage:
		return bridge.AttachmentImage
	case event.MsgVideo:
		return bridge.AttachmentVideo
	case event.MsgAudio:
		return bridge.AttachmentVoice
	case event.MsgFile:
		return bridge.AttachmentFile
	default:
		return ""
	}
}

func (d *Driver) mxcToHTTP(mxc string) string {
	if !strings.HasPrefix(mxc, "mxc://") {
		return ""
	}
	return fmt.Sprintf("%s/_matrix/media/v3/download/%s", strings.TrimRight(d.cfg.Homeserver, "/"), mxc[len("mxc://"):])
}

func (d *Driver) profile(ctx context.Context, userID id.UserID) (string, string) {
	displayName := string(userID)
	if idx := strings.Index(displayName, ":"); idx >= 0 {
		displayName = strings.TrimPrefix(displayName[:idx], "@")
	}
	avatar := ""
	if d.client == nil {
		return displayName, avatar
	}
	if profile, err := d.client.GetProfile(ctx, userID); err == nil {
		if profile.DisplayName != "" {
			displayName = profile.DisplayName
		}
		if profile.AvatarURL.String() != "" {
			avatar = d.mxcToHTTP(profile.AvatarURL.String())
		}
	}
	return displayName, avatar
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if d.client == nil {
		return "", fmt.Errorf("matrix [%s]: driver not started", d.instanceID)
	}
	roomID := channel.Get("room_id")
	if roomID == "" {
		return "", fmt.Errorf("matrix [%s]: target channel has no room_id", d.instanceID)
	}

	if rich, ok := extra["rich_header"].(map[string]any); ok {
		title, _ := rich["title"].(string)
		content, _ := rich["content"].(string)
		prefix := "**" + title + "**"
		if content != "" {
			prefix += " · *" + content + "*"
		}
		if text != "" {
			text = prefix + "\n" + text
		} else {
			text = prefix
		}
	}

	var lastID string
	if strings.TrimSpace(text) != "" {
		resp, err := d.client.SendText(ctx, id.RoomID(roomID), text)
		if err != nil {
			logger.ErrorCF("drivers.matrix", "send text failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
		} else {
			lastID = string(resp.EventID)
		}
	}

	maxSize := d.cfg.MaxFileSize
	for i := range attachments {
		att := &attachments[i]
		if att.Empty() {
			continue
		}
		data, mimeType := media.FetchAttachment(ctx, att, maxSize)
		if data == nil {
			d.sendFallback(ctx, roomID, att)
			continue
		}
		fname := media.FilenameFor(att.Name, mimeType)
		uploaded, err := d.client.UploadBytes(ctx, data, mimeType)
		if err != nil {
			logger.ErrorCF("drivers.matrix", "upload failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
			d.sendFallback(ctx, roomID, att)
			continue
		}
		content := &event.MessageEventContent{
			MsgType: msgTypeFor(att.Type),
			Body:    fname,
			URL:     uploaded.ContentURI,
			Info:    &event.FileInfo{MimeType: mimeType, Size: len(data)},
		}
		resp, err := d.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
		if err != nil {
			logger.ErrorCF("drivers.matrix", "send media failed", map[string]any{"instance_id": d.instanceID, "error": err.Error()})
			continue
		}
		lastID = string(resp.EventID)
	}
	return lastID, nil
}

func (d *Driver) sendFallback(ctx context.Context, roomID string, att *bridge.Attachment) {
	label := att.Name
	if label == "" {
		label = att.URL
	}
	_, _ = d.client.SendText(ctx, id.RoomID(roomID), fmt.Sprintf("[%s: %s]", strings.Title(string(att.Type)), label))
}

func msgTypeFor(t bridge.AttachmentType) event.MessageType {
	switch t {
	case bridge.AttachmentImage:
		return event.MsgImage
	case bridge.AttachmentVideo:
		return event.MsgVideo
	case bridge.AttachmentVoice:
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}
