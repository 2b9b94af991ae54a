// Package teams implements the Microsoft Teams driver: receive via a Bot
// Framework HTTP callback listener, send via an incoming webhook only; with
// no webhook_url configured, every send fails.
package teams

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
)

func init() {
	driver.Register("teams",
		func() any { return &config.TeamsConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.TeamsConfig)
			if !ok {
				return nil, fmt.Errorf("teams: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router, http: &http.Client{Timeout: 15 * time.Second}}, nil
		},
	)
}

// Driver is one configured Teams instance: an incoming webhook for sending
// and, when app credentials are set, a Bot Framework callback for receiving.
type Driver struct {
	instanceID string
	cfg        *config.TeamsConfig
	router     *bridge.Router
	http       *http.Client
	server     *http.Server
}

// botActivity is the subset of a Bot Framework Activity the bridge reads.
type botActivity struct {
	Type string `json:"type"`
	Text string `json:"text"`
	From struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
	ID          string `json:"id"`
	Attachments []struct {
		ContentURL string `json:"contentUrl"`
		Name       string `json:"name"`
	} `json:"attachments"`
}

// Start registers the webhook sender immediately, then if app credentials
// are configured runs the Bot Framework callback listener until ctx is
// canceled.
func (d *Driver) Start(ctx context.Context) error {
	d.router.RegisterSender(d.instanceID, d.send)

	if d.cfg.AppID == "" {
		logger.WarnCF("drivers.teams", "no app_id configured, receive disabled", map[string]any{"instance_id": d.instanceID})
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc(d.cfg.ListenPath, d.handleActivity)
	d.server = &http.Server{Addr: fmt.Sprintf(":%d", d.cfg.ListenPort), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("drivers.teams", "bot callback listener starting", map[string]any{
			"instance_id": d.instanceID, "addr": d.server.Addr, "path": d.cfg.ListenPath,
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
		return fmt.Errorf("teams [%s]: callback listener: %w", d.instanceID, err)
	}
}

func (d *Driver) handleActivity(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	var activity botActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		return
	}
	if activity.Type != "message" {
		return
	}
	d.onActivity(&activity)
}

func (d *Driver) onActivity(a *botActivity) {
	var attachments []bridge.Attachment
	for _, att := range a.Attachments {
		if att.ContentURL == "" {
			continue
		}
		attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentFile, URL: att.ContentURL, Name: att.Name})
	}
	if strings.TrimSpace(a.Text) == "" && len(attachments) == 0 {
		return
	}

	d.router.OnMessage(context.Background(), &bridge.NormalizedMessage{
		Platform:    "teams",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"conversation_id": a.Conversation.ID},
		User:        a.From.Name,
		UserID:      a.From.ID,
		Text:        a.Text,
		Attachments: attachments,
		MessageID:   a.ID,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if d.cfg.WebhookURL == "" {
		return "", fmt.Errorf("teams [%s]: no webhook_url configured for outbound send", d.instanceID)
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

	payload := map[string]any{"text": text}
	if title, ok := extra["webhook_title"].(string); ok && title != "" {
		payload["title"] = title
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("teams [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("teams [%s]: send failed HTTP %d: %s", d.instanceID, resp.StatusCode, respBody)
	}
	return "", nil
}
