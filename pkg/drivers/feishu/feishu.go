// Package feishu implements the Feishu/Lark driver via larksuite/oapi-sdk-go.
// Receive uses the long-lived WebSocket event client rather than an exposed
// HTTP callback endpoint, so no public URL or reverse proxy is required.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

func init() {
	driver.Register("feishu",
		func() any { return &config.FeishuConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.FeishuConfig)
			if !ok {
				return nil, fmt.Errorf("feishu: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, client: lark.NewClient(c.AppID, c.AppSecret)}, nil
		},
	)
}

// Driver is one configured Feishu/Lark application instance.
type Driver struct {
	instanceID string
	cfg        *config.FeishuConfig
	router     *bridge.Router
	client     *lark.Client
}

// Start registers the sender then opens the WebSocket event stream until
// ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	dispatcher := larkdispatcher.NewEventDispatcher(d.cfg.VerificationToken, d.cfg.EncryptKey).
		OnP2MessageReceiveV1(d.onMessageReceive)

	wsClient := larkws.NewClient(d.cfg.AppID, d.cfg.AppSecret, larkws.WithEventHandler(dispatcher))

	logger.InfoCF("drivers.feishu", "websocket connecting", map[string]any{"instance_id": d.instanceID})
	return wsClient.Start(ctx)
}

func (d *Driver) onMessageReceive(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil
	}
	message := event.Event.Message
	sender := event.Event.Sender

	chatID := stringValue(message.ChatId)
	if chatID == "" {
		return nil
	}
	if stringValue(message.MessageType) != "text" {
		return nil
	}
	text := extractTextContent(message)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	openID := senderOpenID(sender)

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:   "feishu",
		InstanceID: d.instanceID,
		Channel:    bridge.Channel{"chat_id": chatID},
		User:       openID,
		UserID:     openID,
		Text:       text,
		MessageID:  stringValue(message.MessageId),
	})
	return nil
}

func senderOpenID(sender *larkim.EventSender) string {
	if sender == nil || sender.SenderId == nil {
		return ""
	}
	if sender.SenderId.OpenId != nil {
		return *sender.SenderId.OpenId
	}
	return ""
}

func extractTextContent(message *larkim.EventMessage) string {
	if message == nil || message.Content == nil || *message.Content == "" {
		return ""
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(*message.Content), &payload); err == nil {
		return payload.Text
	}
	return *message.Content
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	chatID := channel.Get("chat_id")
	if chatID == "" {
		return "", fmt.Errorf("feishu [%s]: target channel has no chat_id", d.instanceID)
	}

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

	for _, att := range attachments {
		label := att.Name
		if label == "" {
			label = att.URL
		}
		if att.URL != "" {
			text += fmt.Sprintf("\n[%s: %s](%s)", strings.Title(string(att.Type)), label, att.URL)
		} else if label != "" {
			text += fmt.Sprintf("\n[%s: %s]", strings.Title(string(att.Type)), label)
		}
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("feishu [%s]: encoding content: %w", d.instanceID, err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(payload)).
			Uuid(fmt.Sprintf("bridge-%s-%d", d.instanceID, time.Now().UnixNano())).
			Build()).
		Build()

	resp, err := d.client.Im.V1.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("feishu [%s]: send failed: %w", d.instanceID, err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("feishu [%s]: api error code=%d msg=%s", d.instanceID, resp.Code, resp.Msg)
	}
	if resp.Data != nil && resp.Data.MessageId != nil {
		return *resp.Data.MessageId, nil
	}
	return "", nil
}
