// Package googlechat implements the Google Chat driver: receive via an
// HTTP event listener (the app's configured Chat webhook endpoint), send
// via the spaces.messages.create REST API authenticated with a
// service-account credential.
package googlechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/flowbridge/bridge/pkg/config"
	"github.com/flowbridge/bridge/pkg/driver"
	"github.com/flowbridge/bridge/pkg/logger"
)

const chatAPIScope = "https://www.googleapis.com/auth/chat.bot"

// chatAPIBase is the Google Chat REST API base URL; overridable in tests.
var chatAPIBase = "https://chat.googleapis.com"

func init() {
	driver.Register("googlechat",
		func() any { return &config.GoogleChatConfig{} },
		func(instanceID string, cfg any, router *bridge.Router) (driver.Driver, error) {
			c, ok := cfg.(*config.GoogleChatConfig)
			if !ok {
				return nil, fmt.Errorf("googlechat: unexpected config type %T", cfg)
			}
			return &Driver{instanceID: instanceID, cfg: c, router: router}, nil
		},
	)
}

// Driver is one configured Google Chat app instance.
type Driver struct {
	instanceID string
	cfg        *config.GoogleChatConfig
	router     *bridge.Router
	client     *http.Client
	server     *http.Server
}

// chatEvent is the subset of a Google Chat MESSAGE event payload the bridge
// reads, as delivered to the app's configured HTTP endpoint.
type chatEvent struct {
	Type    string `json:"type"`
	Message struct {
		Name   string `json:"name"`
		Text   string `json:"text"`
		Sender struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"sender"`
		Space struct {
			Name string `json:"name"`
		} `json:"space"`
		Attachment []struct {
			ContentName string `json:"contentName"`
			DownloadURI string `json:"downloadUri"`
		} `json:"attachment"`
	} `json:"message"`
}

// Start authenticates with the service-account credential and runs the
// event listener until ctx is canceled.
func (d *Driver) Start(ctx context.Context) error {
	client, err := d.authenticatedClient(ctx)
	if err != nil {
		return fmt.Errorf("googlechat [%s]: authenticating: %w", d.instanceID, err)
	}
	d.client = client
	d.router.RegisterSender(d.instanceID, d.send)

	mux := http.NewServeMux()
	mux.HandleFunc(d.cfg.ListenPath, d.handleEvent)
	d.server = &http.Server{Addr: fmt.Sprintf(":%d", d.cfg.ListenPort), Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCF("drivers.googlechat", "event listener starting", map[string]any{
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
		return fmt.Errorf("googlechat [%s]: event listener: %w", d.instanceID, err)
	}
}

func (d *Driver) authenticatedClient(ctx context.Context) (*http.Client, error) {
	raw, err := os.ReadFile(d.cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials_file: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(raw, chatAPIScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	return jwtCfg.Client(ctx), nil
}

func (d *Driver) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{}`)

	var ev chatEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return
	}
	if ev.Type != "MESSAGE" {
		return
	}
	d.onMessage(&ev)
}

func (d *Driver) onMessage(ev *chatEvent) {
	var attachments []bridge.Attachment
	for _, a := range ev.Message.Attachment {
		if a.DownloadURI == "" {
			continue
		}
		attachments = append(attachments, bridge.Attachment{Type: bridge.AttachmentFile, URL: a.DownloadURI, Name: a.ContentName})
	}
	if strings.TrimSpace(ev.Message.Text) == "" && len(attachments) == 0 {
		return
	}

	d.router.OnMessage(context.Background(), &bridge.NormalizedMessage{
		Platform:    "googlechat",
		InstanceID:  d.instanceID,
		Channel:     bridge.Channel{"space_name": ev.Message.Space.Name},
		User:        ev.Message.Sender.DisplayName,
		UserID:      ev.Message.Sender.Name,
		Text:        ev.Message.Text,
		Attachments: attachments,
		MessageID:   ev.Message.Name,
	})
}

func (d *Driver) send(ctx context.Context, channel bridge.Channel, text string, attachments []bridge.Attachment, extra map[string]any) (string, error) {
	if d.client == nil {
		return "", fmt.Errorf("googlechat [%s]: driver not started", d.instanceID)
	}
	spaceName := channel.Get("space_name")
	if spaceName == "" {
		spaceName = d.cfg.SpaceName
	}
	if spaceName == "" {
		return "", fmt.Errorf("googlechat [%s]: target channel has no space_name", d.instanceID)
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

	body, err := json.Marshal(map[string]any{"text": text})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/%s/messages", chatAPIBase, spaceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("googlechat [%s]: send failed: %w", d.instanceID, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("googlechat [%s]: send failed HTTP %d: %s", d.instanceID, resp.StatusCode, respBody)
	}

	var out struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(respBody, &out)
	return out.Name, nil
}
