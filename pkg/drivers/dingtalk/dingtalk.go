// Package dingtalk implements the DingTalk driver: receive via the
// open-dingtalk stream SDK (a persistent WebSocket, no exposed HTTP
// endpoint needed), send via the Robot v1.0 REST API with a
// self-refreshing OAuth access token.
package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

const oauthURL = "https://api.dingtalk.com/v1.0/oauth2/accessToken"
const robotSendURL = "https://api.dingtalk.com/v1.0/robot/groupMessages/send"

func init() {
	driver.Register("dingtalk",
		func() any { return &config.DingTalkConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.DingTalkConfig)
			if !ok {
				return nil, fmt.Errorf("dingtalk: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 15 * time.Second}}, nil
		},
	)
}

// Driver is one configured DingTalk stream-mode robot instance.
type Driver struct {
	instanceID string
	cfg        *config.DingTalkConfig
	router     *bridge.Router
	http       *http.Client

	mu            sync.Mutex
	accessToken   string
	tokenExpireAt time.Time
}

// Start registers the sender then opens the stream client until ctx is
// canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	cli := client.NewStreamClient(client.WithAppCredential(client.NewAppCredentialConfig(d.cfg.AppKey, d.cfg.AppSecret)))
	cli.RegisterChatBotCallbackRouter(chatbot.NewDefaultChatBotFrameRouter(d.onMessage))

	logger.InfoCF("drivers.dingtalk", "stream client connecting", map[string]any{"instance_id": d.instanceID})
	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("dingtalk [%s]: stream client: %w", d.instanceID, err)
	}
	defer cli.Close()

	<-ctx.Done()
	return nil
}

func (d *Driver) onMessage(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	text := strings.TrimSpace(data.Text.Content)
	if text == "" {
		return []byte(`{}`), nil
	}

	convID := data.ConversationId
	senderName := data.SenderNick
	if senderName == "" {
		senderName = data.SenderStaffId
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:   "dingtalk",
		InstanceID: d.instanceID,
		Channel:    bridge.Channel{"open_conversation_id": convID},
		User:       senderName,
		UserID:     data.SenderStaffId,
		Text:       text,
		MessageID:  data.MsgId,
	})
	return []byte(`{}`), nil
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	convID := channel.Get("open_conversation_id")
	if convID == "" {
		return "", fmt.Errorf("dingtalk [%s]: target channel has no open_conversation_id", d.instanceID)
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

	token, err := d.accessTokenFor(ctx)
	if err != nil {
		return "", fmt.Errorf("dingtalk [%s]: access token: %w", d.instanceID, err)
	}

	msgParam, _ := json.Marshal(map[string]string{"title": "bridge", "content": text})
	body, _ := json.Marshal(map[string]any{
		"robotCode":          d.cfg.RobotCode,
		"openConversationId": convID,
		"msgKey":             "sampleText",
		"msgParam":           string(msgParam),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, robotSendURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-acs-dingtalk-access-token", token)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dingtalk [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dingtalk [%s]: send failed HTTP %d: %s", d.instanceID, resp.StatusCode, respBody)
	}
	return "", nil
}

func (d *Driver) accessTokenFor(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.accessToken != "" && time.Now().Before(d.tokenExpireAt.Add(-60*time.Second)) {
		token := d.accessToken
		d.mu.Unlock()
		return token, nil
	}
	d.mu.Unlock()

	body, _ := json.Marshal(map[string]string{"appKey": d.cfg.AppKey, "appSecret": d.cfg.AppSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int    `json:"expireIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("oauth response missing accessToken")
	}

	d.mu.Lock()
	d.accessToken = out.AccessToken
	expireIn := out.ExpireIn
	if expireIn == 0 {
		expireIn = 7200
	}
	d.tokenExpireAt = time.Now().Add(time.Duration(expireIn) * time.Second)
	d.mu.Unlock()

	logger.DebugCF("drivers.dingtalk", "access token refreshed", map[string]any{"instance_id": d.instanceID})
	return out.AccessToken, nil
}
