// Package yunhu implements the Yunhu driver: receive via an inbound
// webhook HTTP listener, send via Yunhu's open bot REST API.
package yunhu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
)

// maxPreviewFetchBytes caps how much of a document attachment is downloaded
// just to produce a text preview for this text-only platform.
const maxPreviewFetchBytes = 4 << 20

// sendURL is the Yunhu bot send endpoint; overridable in tests.
var sendURL = "https://chat-go.jwzhd.com/open-apis/v1/bot/send"

func init() {
	driver.Register("yunhu",
		func() any { return &config.YunhuConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.YunhuConfig)
			if !ok {
				return nil, fmt.Errorf("yunhu: unexpected config type %T", cfg)
			}
			client := &http.Client{Timeout: 15 * time.Second}
			if c.ProxyHost != "" {
				logger.WarnCF("drivers.yunhu", "proxy_host is configured but outbound proxying is not implemented", map[string]any{"instance_id": instanceID})
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: client}, nil
		},
	)
}

// Driver is one configured Yunhu bot instance, receiving via webhook.
type Driver struct {
	instanceID string
	cfg        *config.YunhuConfig
	router     *bridge.Router
	http       *http.Client
	server     *http.Server
}

// inboundEvent mirrors the subset of Yunhu's webhook payload the bridge
// cares about: a normal text or image message in a group or private chat.
type inboundEvent struct {
	Header struct {
		EventType string `json:"eventType"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID       string `json:"senderId"`
			SenderNickname string `json:"senderNickname"`
		} `json:"sender"`
		Chat struct {
			ChatID   string `json:"chatId"`
			ChatType string `json:"chatType"`
		} `json:"chat"`
		Message struct {
			MsgID           string `json:"msgId"`
			ContentType     string `json:"contentType"`
			ContentText     string `json:"text"`
			ContentImageURL string `json:"imageUrl"`
		} `json:"message"`
	} `json:"event"`
}

// Start runs the webhook HTTP listener until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	mux := http.NewServeMux()
	mux.HandleFunc(d.cfg.WebhookPath, d.handleWebhook)
	d.server = &http.Server{Addr: fmt.Sprintf(":%d", d.cfg.WebhookPort), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("drivers.yunhu", "webhook listener starting", map[string]any{
			"instance_id": d.instanceID, "addr": d.server.Addr, "path": d.cfg.WebhookPath,
		})
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("yunhu [%s]: webhook listener: %w", d.instanceID, err)
	}
}

func (d *Driver) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var ev inboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"code":1}`)

	if ev.Header.EventType != "" && ev.Header.EventType != "message.receive.normal" {
		return
	}
	d.onMessage(&ev)
}

func (d *Driver) onMessage(ev *inboundEvent) {
	text := ev.Event.Message.ContentText
	var attachments []bridge.Attachment
	if ev.Event.Message.ContentImageURL != "" {
		attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentImage, URL: ev.Event.Message.ContentImageURL})
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return
	}

	d.router.OnMessage(context.Background(), &bridge.NormalizedMessage{
		Platform:    "yunhu",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"chat_id": ev.Event.Chat.ChatID, "chat_type": ev.Event.Chat.ChatType},
		User:        ev.Event.Sender.SenderNickname,
		UserID:      ev.Event.Sender.SenderID,
		Text:        text,
		Attachments: attachments,
		MessageID:   ev.Event.Message.MsgID,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	chatID := channel.Get("chat_id")
	if chatID == "" {
		return "", fmt.Errorf("yunhu [%s]: target channel has no chat_id", d.instanceID)
	}
	chatType := channel.Get("chat_type")
	if chatType == "" {
		chatType = "group"
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
		if att.Type == bridge.AttachmentFile {
			if data, _ := media.FetchAttachment(ctx, &att, maxPreviewFetchBytes); data != nil {
				att.Data = data
				if preview, err := media.Preview(&att); err == nil && preview != "" {
					text += "\n" + preview
				}
			}
		}
	}

	payload := map[string]any{
		"recvId":   chatID,
		"recvType": chatType,
		"contentType": "text",
		"content":  map[string]any{"text": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := sendURL + "?token=" + d.cfg.Token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("yunhu [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int `json:"code"`
		Data struct {
			MessageInfo struct {
				MsgID string `json:"msgId"`
			} `json:"messageInfo"`
		} `json:"data"`
	}
	respBody, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("yunhu [%s]: decoding response: %w", d.instanceID, err)
	}
	if out.Code != 1 {
		return "", fmt.Errorf("yunhu [%s]: send failed, code %d: %s", d.instanceID, out.Code, respBody)
	}
	return out.Data.MessageInfo.MsgID, nil
}
