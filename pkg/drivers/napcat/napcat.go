// Package napcat implements the QQ driver via a NapCat OneBot v11
// WebSocket endpoint: a persistent connection carries both inbound events
// and outbound API calls, with automatic reconnect on drop.
package napcat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
	"github.com/flowbridge/bridge/pkg/media"
)

func init() {
	driver.Register("napcat",
		func() any { return &config.NapCatConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.NapCatConfig)
			if !ok {
				return nil, fmt.Errorf("napcat: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, pending: make(map[string]chan onebotResponse)}, nil
		},
	)
}

// Driver is one configured NapCat (OneBot v11) WebSocket connection.
type Driver struct {
	instanceID string
	cfg        *config.NapCatConfig
	router     *bridge.Router

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan onebotResponse
	echoSeq atomic.Uint64
}

// onebotEvent is the minimal shape of a OneBot v11 message event frame.
type onebotEvent struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	MessageID   int64  `json:"message_id"`
	RawMessage  string `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
	Message []onebotSegment `json:"message"`
	Echo    string          `json:"echo"`
}

// onebotSegment is one CQ message segment (text, image, record, video, file).
type onebotSegment struct {
	Type string `json:"type"`
	Data struct {
		Text string `json:"text"`
		File string `json:"file"`
		URL  string `json:"url"`
	} `json:"data"`
}

// onebotResponse is the API-call acknowledgement matched back by echo.
type onebotResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    json.RawMessage `json:"data"`
}

// Start dials the NapCat WebSocket endpoint and reconnects with backoff on
// drop until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := d.runOnce(ctx); err != nil {
			logger.WarnCF("drivers.napcat", "connection lost, retrying", map[string]any{
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
	header := map[string][]string{}
	if d.cfg.WSToken != "" {
		header["Authorization"] = []string{"Bearer " + d.cfg.WSToken}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.cfg.WSURL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	logger.InfoCF("drivers.napcat", "connected", map[string]any{"instance_id": d.instanceID, "url": d.cfg.WSURL})

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		d.dispatch(ctx, raw)
	}
}

func (d *Driver) dispatch(ctx context.Context, raw []byte) {
	var ev onebotEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	if ev.Echo != "" {
		d.mu.Lock()
		ch, ok := d.pending[ev.Echo]
		d.mu.Unlock()
		if ok {
			var resp onebotResponse
			_ = json.Unmarshal(raw, &resp)
			ch <- resp
		}
		return
	}

	if ev.PostType != "message" {
		return
	}
	d.onMessage(ctx, &ev)
}

func (d *Driver) onMessage(ctx context.Context, ev *onebotEvent) {
	var text strings.Builder
	var attachments []bridge.Attachment
	for _, seg := range ev.Message {
		switch seg.Type {
		case "text":
			text.WriteString(seg.Data.Text)
		case "image":
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentImage, URL: seg.Data.URL, Name: seg.Data.File})
		case "record":
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVoice, URL: seg.Data.URL, Name: seg.Data.File})
		case "video":
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentVideo, URL: seg.Data.URL, Name: seg.Data.File})
		case "file":
			attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentFile, URL: seg.Data.URL, Name: seg.Data.File})
		}
	}
	if text.Len() == 0 {
		text.WriteString(ev.RawMessage)
	}
	if strings.TrimSpace(text.String()) == "" && len(attachments) == 0 {
		return
	}

	channel := bridge.Channel{}
	if ev.MessageType == "group" {
		channel["group_id"] = ev.GroupID
	} else {
		channel["user_id"] = ev.UserID
	}

	user := ev.Sender.Card
	if user == "" {
		user = ev.Sender.Nickname
	}

	d.router.OnMessage(ctx, &bridge.NormalizedMessage{
		Platform:    "napcat",
		InstanceID:  d.instanceID,
		Channel:     channel,
		User:        user,
		UserID:      strconv.FormatInt(ev.UserID, 10),
		Text:        text.String(),
		Attachments: attachments,
		MessageID:   strconv.FormatInt(ev.MessageID, 10),
	})
}

// call issues a OneBot API action over the open connection and waits for its
// echoed response.
func (d *Driver) call(ctx context.Context, action string, params map[string]any) (onebotResponse, error) {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return onebotResponse{}, fmt.Errorf("napcat [%s]: not connected", d.instanceID)
	}

	echo := strconv.FormatUint(d.echoSeq.Add(1), 10)
	respCh := make(chan onebotResponse, 1)
	d.mu.Lock()
	d.pending[echo] = respCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, echo)
		d.mu.Unlock()
	}()

	body, err := json.Marshal(map[string]any{"action": action, "params": params, "echo": echo})
	if err != nil {
		return onebotResponse{}, err
	}

	d.mu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, body)
	d.mu.Unlock()
	if err != nil {
		return onebotResponse{}, fmt.Errorf("napcat [%s]: write failed: %w", d.instanceID, err)
	}

	select {
	case resp := <-respCh:
		if resp.Status == "failed" || resp.Retcode != 0 {
			return resp, fmt.Errorf("napcat [%s]: action %s failed, retcode %d", d.instanceID, action, resp.Retcode)
		}
		return resp, nil
	case <-ctx.Done():
		return onebotResponse{}, ctx.Err()
	case <-time.After(15 * time.Second):
		return onebotResponse{}, fmt.Errorf("napcat [%s]: action %s timed out", d.instanceID, action)
	}
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	segments := []map[string]any{}
	if text != "" {
		segments = append(segments, map[string]any{"type": "text", "data": map[string]any{"text": text}})
	}

	maxSize := d.cfg.MaxFileSize
	for i := range attachments {
		att := &attachments[i]
		if att.Empty() {
			continue
		}
		seg, ok := d.attachmentSegment(ctx, att, maxSize)
		if ok {
			segments = append(segments, seg)
		} else {
			label := att.Name
			if label == "" {
				label = att.URL
			}
			segments = append(segments, map[string]any{"type": "text", "data": map[string]any{"text": fmt.Sprintf("\n[%s: %s]", strings.Title(string(att.Type)), label)}})
		}
	}

	action := "send_private_msg"
	params := map[string]any{"message": segments}
	if groupID := channel.Get("group_id"); groupID != "" {
		action = "send_group_msg"
		params["group_id"] = groupID
	} else if userID := channel.Get("user_id"); userID != "" {
		params["user_id"] = userID
	} else {
		return "", fmt.Errorf("napcat [%s]: target channel has no group_id or user_id", d.instanceID)
	}

	resp, err := d.call(ctx, action, params)
	if err != nil {
		return "", err
	}
	var out struct {
		MessageID int64 `json:"message_id"`
	}
	_ = json.Unmarshal(resp.Data, &out)
	return strconv.FormatInt(out.MessageID, 10), nil
}

func (d *Driver) attachmentSegment(ctx context.Context, att *bridge.Attachment, maxSize int64) (map[string]any, bool) {
	segType := map[bridge.AttachmentType]string{
		bridge.AttachmentImage: "image",
		bridge.AttachmentVoice: "record",
		bridge.AttachmentVideo: "video",
		bridge.AttachmentFile:  "file",
	}[att.Type]
	if segType == "" {
		segType = "file"
	}

	if att.URL != "" && d.cfg.FileSendMode != "base64" {
		return map[string]any{"type": segType, "data": map[string]any{"file": att.URL}}, true
	}

	data, mimeType := media.FetchAttachment(ctx, att, maxSize)
	if data == nil {
		return nil, false
	}
	_ = mimeType
	return map[string]any{"type": segType, "data": map[string]any{"file": "base64://" + base64.StdEncoding.EncodeToString(data)}}, true
}
