// Package config loads, validates, and persists the bridge's operator-
// supplied configuration: one typed block per driver instance plus the
// global routing rule set.
package config

import "fmt"

// NapCatConfig configures a QQ/OneBot instance reached over napcat's
// WebSocket gateway.
type NapCatConfig struct {
	WSURL           string `json:"ws_url" yaml:"ws_url" toml:"ws_url"`
	WSToken         string `json:"ws_token" yaml:"ws_token" toml:"ws_token"`
	MaxFileSize     int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	FileSendMode    string `json:"file_send_mode" yaml:"file_send_mode" toml:"file_send_mode"` // "stream" | "base64"
	CQFaceMode      string `json:"cqface_mode" yaml:"cqface_mode" toml:"cqface_mode"`           // "gif" | "emoji"
	StreamThreshold int64  `json:"stream_threshold" yaml:"stream_threshold" toml:"stream_threshold"`
}

func (c *NapCatConfig) defaults() {
	if c.WSURL == "" {
		c.WSURL = "ws://127.0.0.1:3001"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 << 20
	}
	if c.FileSendMode == "" {
		c.FileSendMode = "stream"
	}
	if c.CQFaceMode == "" {
		c.CQFaceMode = "gif"
	}
}

func (c *NapCatConfig) validate() error {
	if c.FileSendMode != "stream" && c.FileSendMode != "base64" {
		return fmt.Errorf("file_send_mode must be 'stream' or 'base64', got %q", c.FileSendMode)
	}
	if c.CQFaceMode != "gif" && c.CQFaceMode != "emoji" {
		return fmt.Errorf("cqface_mode must be 'gif' or 'emoji', got %q", c.CQFaceMode)
	}
	return nil
}

// DiscordConfig configures a Discord instance, either webhook- or bot-driven.
type DiscordConfig struct {
	SendMethod                    string `json:"send_method" yaml:"send_method" toml:"send_method"` // "webhook" | "bot"
	WebhookURL                    string `json:"webhook_url" yaml:"webhook_url" toml:"webhook_url"`
	BotToken                      string `json:"bot_token" yaml:"bot_token" toml:"bot_token"`
	MaxFileSize                   int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	SendAsBotWhenUsingCQFaceEmoji bool   `json:"send_as_bot_when_using_cqface_emoji" yaml:"send_as_bot_when_using_cqface_emoji" toml:"send_as_bot_when_using_cqface_emoji"`
}

func (c *DiscordConfig) defaults() {
	if c.SendMethod == "" {
		c.SendMethod = "webhook"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 8 << 20
	}
}

func (c *DiscordConfig) validate() error {
	switch c.SendMethod {
	case "webhook":
		if c.WebhookURL == "" {
			return fmt.Errorf("webhook_url is required when send_method is 'webhook'")
		}
	case "bot":
		if c.BotToken == "" {
			return fmt.Errorf("bot_token is required when send_method is 'bot'")
		}
	default:
		return fmt.Errorf("send_method must be 'webhook' or 'bot', got %q", c.SendMethod)
	}
	return nil
}

// TelegramConfig configures a Telegram bot instance.
type TelegramConfig struct {
	BotToken       string `json:"bot_token" yaml:"bot_token" toml:"bot_token"`
	MaxFileSize    int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
	RichHeaderHost string `json:"rich_header_host" yaml:"rich_header_host" toml:"rich_header_host"`
}

func (c *TelegramConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
}

func (c *TelegramConfig) validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("bot_token is required")
	}
	return nil
}

// FeishuConfig configures a Feishu/Lark instance, which receives events over
// the Feishu WebSocket client.
type FeishuConfig struct {
	AppID              string `json:"app_id" yaml:"app_id" toml:"app_id"`
	AppSecret          string `json:"app_secret" yaml:"app_secret" toml:"app_secret"`
	VerificationToken  string `json:"verification_token" yaml:"verification_token" toml:"verification_token"`
	EncryptKey         string `json:"encrypt_key" yaml:"encrypt_key" toml:"encrypt_key"`
	ListenPort         int    `json:"listen_port" yaml:"listen_port" toml:"listen_port"`
	ListenPath         string `json:"listen_path" yaml:"listen_path" toml:"listen_path"`
}

func (c *FeishuConfig) defaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if c.ListenPath == "" {
		c.ListenPath = "/event"
	}
}

func (c *FeishuConfig) validate() error {
	if c.AppID == "" {
		return fmt.Errorf("app_id is required")
	}
	if c.AppSecret == "" {
		return fmt.Errorf("app_secret is required")
	}
	return nil
}

// DingTalkConfig configures a DingTalk stream-mode robot instance.
type DingTalkConfig struct {
	AppKey        string `json:"app_key" yaml:"app_key" toml:"app_key"`
	AppSecret     string `json:"app_secret" yaml:"app_secret" toml:"app_secret"`
	RobotCode     string `json:"robot_code" yaml:"robot_code" toml:"robot_code"`
	SigningSecret string `json:"signing_secret" yaml:"signing_secret" toml:"signing_secret"`
	ListenPort    int    `json:"listen_port" yaml:"listen_port" toml:"listen_port"`
	ListenPath    string `json:"listen_path" yaml:"listen_path" toml:"listen_path"`
}

func (c *DingTalkConfig) defaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8082
	}
	if c.ListenPath == "" {
		c.ListenPath = "/dingtalk/event"
	}
}

func (c *DingTalkConfig) validate() error {
	if c.AppKey == "" || c.AppSecret == "" || c.RobotCode == "" {
		return fmt.Errorf("app_key, app_secret, and robot_code are all required")
	}
	return nil
}

// YunhuConfig configures a Yunhu webhook-based instance.
type YunhuConfig struct {
	Token       string `json:"token" yaml:"token" toml:"token"`
	WebhookPort int    `json:"webhook_port" yaml:"webhook_port" toml:"webhook_port"`
	WebhookPath string `json:"webhook_path" yaml:"webhook_path" toml:"webhook_path"`
	ProxyHost   string `json:"proxy_host" yaml:"proxy_host" toml:"proxy_host"`
}

func (c *YunhuConfig) defaults() {
	if c.WebhookPort == 0 {
		c.WebhookPort = 8765
	}
	if c.WebhookPath == "" {
		c.WebhookPath = "/yunhu-webhook"
	}
}

func (c *YunhuConfig) validate() error { return nil }

// KookConfig configures a KOOK (Kaiheila) WebSocket gateway instance.
type KookConfig struct {
	Token       string `json:"token" yaml:"token" toml:"token"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *KookConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 25 << 20
	}
}

func (c *KookConfig) validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// MatrixConfig configures a Matrix client-server instance, authenticated by
// either a password or a long-lived access token.
type MatrixConfig struct {
	Homeserver  string `json:"homeserver" yaml:"homeserver" toml:"homeserver"`
	UserID      string `json:"user_id" yaml:"user_id" toml:"user_id"`
	Password    string `json:"password" yaml:"password" toml:"password"`
	AccessToken string `json:"access_token" yaml:"access_token" toml:"access_token"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *MatrixConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 << 20
	}
}

func (c *MatrixConfig) validate() error {
	if c.Homeserver == "" || c.UserID == "" {
		return fmt.Errorf("homeserver and user_id are required")
	}
	if c.Password == "" && c.AccessToken == "" {
		return fmt.Errorf("requires 'password' or 'access_token'")
	}
	return nil
}

// SignalConfig configures an instance fronted by signal-cli's REST API.
type SignalConfig struct {
	APIURL      string `json:"api_url" yaml:"api_url" toml:"api_url"`
	Number      string `json:"number" yaml:"number" toml:"number"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *SignalConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
}

func (c *SignalConfig) validate() error {
	if c.APIURL == "" || c.Number == "" {
		return fmt.Errorf("api_url and number are required")
	}
	return nil
}

// SlackConfig configures a Slack instance, either Socket Mode bot or
// incoming-webhook.
type SlackConfig struct {
	BotToken            string `json:"bot_token" yaml:"bot_token" toml:"bot_token"`
	AppToken            string `json:"app_token" yaml:"app_token" toml:"app_token"`
	SendMethod          string `json:"send_method" yaml:"send_method" toml:"send_method"` // "bot" | "webhook"
	IncomingWebhookURL  string `json:"incoming_webhook_url" yaml:"incoming_webhook_url" toml:"incoming_webhook_url"`
	SigningSecret       string `json:"signing_secret" yaml:"signing_secret" toml:"signing_secret"`
	ListenPort          int    `json:"listen_port" yaml:"listen_port" toml:"listen_port"`
	ListenPath          string `json:"listen_path" yaml:"listen_path" toml:"listen_path"`
	MaxFileSize         int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *SlackConfig) defaults() {
	if c.SendMethod == "" {
		c.SendMethod = "bot"
	}
	if c.ListenPath == "" {
		c.ListenPath = "/slack/events"
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
}

func (c *SlackConfig) validate() error {
	switch c.SendMethod {
	case "bot":
		if c.BotToken == "" {
			return fmt.Errorf("bot_token is required when send_method is 'bot'")
		}
	case "webhook":
		if c.IncomingWebhookURL == "" {
			return fmt.Errorf("incoming_webhook_url is required when send_method is 'webhook'")
		}
	default:
		return fmt.Errorf("send_method must be 'bot' or 'webhook', got %q", c.SendMethod)
	}
	return nil
}

// WebhookConfig configures a generic outbound webhook target.
type WebhookConfig struct {
	URL     string            `json:"url" yaml:"url" toml:"url"`
	Method  string            `json:"method" yaml:"method" toml:"method"` // "POST" | "PUT" | "PATCH"
	Headers map[string]string `json:"headers" yaml:"headers" toml:"headers"`
}

func (c *WebhookConfig) defaults() {
	if c.Method == "" {
		c.Method = "POST"
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
}

func (c *WebhookConfig) validate() error {
	switch c.Method {
	case "POST", "PUT", "PATCH":
	default:
		return fmt.Errorf("method must be POST, PUT, or PATCH, got %q", c.Method)
	}
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// MattermostConfig configures a Mattermost instance over its REST/websocket
// bot API.
type MattermostConfig struct {
	ServerURL   string `json:"server_url" yaml:"server_url" toml:"server_url"`
	BotToken    string `json:"bot_token" yaml:"bot_token" toml:"bot_token"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *MattermostConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
}

func (c *MattermostConfig) validate() error {
	if c.ServerURL == "" || c.BotToken == "" {
		return fmt.Errorf("server_url and bot_token are required")
	}
	return nil
}

// RocketChatConfig configures a Rocket.Chat instance over its REST API plus
// realtime websocket stream.
type RocketChatConfig struct {
	ServerURL   string `json:"server_url" yaml:"server_url" toml:"server_url"`
	AuthToken   string `json:"auth_token" yaml:"auth_token" toml:"auth_token"`
	UserID      string `json:"user_id" yaml:"user_id" toml:"user_id"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *RocketChatConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 50 << 20
	}
}

func (c *RocketChatConfig) validate() error {
	if c.ServerURL == "" || c.AuthToken == "" || c.UserID == "" {
		return fmt.Errorf("server_url, auth_token, and user_id are all required")
	}
	return nil
}

// TeamsConfig configures a Microsoft Teams instance over an incoming
// webhook connector plus Bot Framework callback.
type TeamsConfig struct {
	WebhookURL  string `json:"webhook_url" yaml:"webhook_url" toml:"webhook_url"`
	AppID       string `json:"app_id" yaml:"app_id" toml:"app_id"`
	AppPassword string `json:"app_password" yaml:"app_password" toml:"app_password"`
	ListenPort  int    `json:"listen_port" yaml:"listen_port" toml:"listen_port"`
	ListenPath  string `json:"listen_path" yaml:"listen_path" toml:"listen_path"`
}

func (c *TeamsConfig) defaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8090
	}
	if c.ListenPath == "" {
		c.ListenPath = "/teams/messages"
	}
}

func (c *TeamsConfig) validate() error {
	if c.WebhookURL == "" && c.AppID == "" {
		return fmt.Errorf("requires 'webhook_url' or 'app_id'+'app_password'")
	}
	return nil
}

// VoceChatConfig configures a VoceChat instance over its bot REST API.
type VoceChatConfig struct {
	ServerURL   string `json:"server_url" yaml:"server_url" toml:"server_url"`
	BotKey      string `json:"bot_key" yaml:"bot_key" toml:"bot_key"`
	MaxFileSize int64  `json:"max_file_size" yaml:"max_file_size" toml:"max_file_size"`
}

func (c *VoceChatConfig) defaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 20 << 20
	}
}

func (c *VoceChatConfig) validate() error {
	if c.ServerURL == "" || c.BotKey == "" {
		return fmt.Errorf("server_url and bot_key are required")
	}
	return nil
}

// GoogleChatConfig configures a Google Chat instance, authenticated via a
// service-account OAuth2 credential.
type GoogleChatConfig struct {
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file" toml:"credentials_file"`
	SpaceName       string `json:"space_name" yaml:"space_name" toml:"space_name"`
	ListenPort      int    `json:"listen_port" yaml:"listen_port" toml:"listen_port"`
	ListenPath      string `json:"listen_path" yaml:"listen_path" toml:"listen_path"`
}

func (c *GoogleChatConfig) defaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8095
	}
	if c.ListenPath == "" {
		c.ListenPath = "/googlechat/event"
	}
}

func (c *GoogleChatConfig) validate() error {
	if c.CredentialsFile == "" || c.SpaceName == "" {
		return fmt.Errorf("credentials_file and space_name are required")
	}
	return nil
}

// driverConfig is satisfied by every per-driver config struct above,
// letting the generic loader apply defaults and validation uniformly.
type driverConfig interface {
	defaults()
	validate() error
}

// AppConfig is the full decoded configuration file: one map per driver kind,
// instance ID to config block. Routing rules are not part of it; they are
// loaded separately.
type AppConfig struct {
	NapCat      map[string]*NapCatConfig      `json:"napcat,omitempty" yaml:"napcat,omitempty" toml:"napcat,omitempty"`
	Discord     map[string]*DiscordConfig     `json:"discord,omitempty" yaml:"discord,omitempty" toml:"discord,omitempty"`
	Telegram    map[string]*TelegramConfig    `json:"telegram,omitempty" yaml:"telegram,omitempty" toml:"telegram,omitempty"`
	Feishu      map[string]*FeishuConfig      `json:"feishu,omitempty" yaml:"feishu,omitempty" toml:"feishu,omitempty"`
	DingTalk    map[string]*DingTalkConfig    `json:"dingtalk,omitempty" yaml:"dingtalk,omitempty" toml:"dingtalk,omitempty"`
	Yunhu       map[string]*YunhuConfig       `json:"yunhu,omitempty" yaml:"yunhu,omitempty" toml:"yunhu,omitempty"`
	Kook        map[string]*KookConfig        `json:"kook,omitempty" yaml:"kook,omitempty" toml:"kook,omitempty"`
	Matrix      map[string]*MatrixConfig      `json:"matrix,omitempty" yaml:"matrix,omitempty" toml:"matrix,omitempty"`
	Signal      map[string]*SignalConfig      `json:"signal,omitempty" yaml:"signal,omitempty" toml:"signal,omitempty"`
	Slack       map[string]*SlackConfig       `json:"slack,omitempty" yaml:"slack,omitempty" toml:"slack,omitempty"`
	Webhook     map[string]*WebhookConfig     `json:"webhook,omitempty" yaml:"webhook,omitempty" toml:"webhook,omitempty"`
	Mattermost  map[string]*MattermostConfig  `json:"mattermost,omitempty" yaml:"mattermost,omitempty" toml:"mattermost,omitempty"`
	RocketChat  map[string]*RocketChatConfig  `json:"rocketchat,omitempty" yaml:"rocketchat,omitempty" toml:"rocketchat,omitempty"`
	Teams       map[string]*TeamsConfig       `json:"teams,omitempty" yaml:"teams,omitempty" toml:"teams,omitempty"`
	VoceChat    map[string]*VoceChatConfig    `json:"vocechat,omitempty" yaml:"vocechat,omitempty" toml:"vocechat,omitempty"`
	GoogleChat  map[string]*GoogleChatConfig  `json:"googlechat,omitempty" yaml:"googlechat,omitempty" toml:"googlechat,omitempty"`
}

// RawRule is a rule as decoded straight off data/rules.json, before
// conversion into bridge.Rule by Compile.
type RawRule struct {
	Type     string                    `json:"type" yaml:"type" toml:"type"`
	From     map[string]map[string]any `json:"from,omitempty" yaml:"from,omitempty" toml:"from,omitempty"`
	To       map[string]map[string]any `json:"to,omitempty" yaml:"to,omitempty" toml:"to,omitempty"`
	Channels map[string]map[string]any `json:"channels,omitempty" yaml:"channels,omitempty" toml:"channels,omitempty"`
	Msg      map[string]any            `json:"msg,omitempty" yaml:"msg,omitempty" toml:"msg,omitempty"`
}

// instanceEntry pairs one configured driver instance with its kind name and
// typed config, shared by validation and by instance enumeration.
type instanceEntry struct {
	driver string
	id     string
	cfg    driverConfig
}

// instanceEntries flattens every driver map in c into one slice, in the
// fixed driver order the schema declares them.
func (c *AppConfig) instanceEntries() []instanceEntry {
	var all []instanceEntry
	for id, cfg := range c.NapCat {
		all = append(all, instanceEntry{"napcat", id, cfg})
	}
	for id, cfg := range c.Discord {
		all = append(all, instanceEntry{"discord", id, cfg})
	}
	for id, cfg := range c.Telegram {
		all = append(all, instanceEntry{"telegram", id, cfg})
	}
	for id, cfg := range c.Feishu {
		all = append(all, instanceEntry{"feishu", id, cfg})
	}
	for id, cfg := range c.DingTalk {
		all = append(all, instanceEntry{"dingtalk", id, cfg})
	}
	for id, cfg := range c.Yunhu {
		all = append(all, instanceEntry{"yunhu", id, cfg})
	}
	for id, cfg := range c.Kook {
		all = append(all, instanceEntry{"kook", id, cfg})
	}
	for id, cfg := range c.Matrix {
		all = append(all, instanceEntry{"matrix", id, cfg})
	}
	for id, cfg := range c.Signal {
		all = append(all, instanceEntry{"signal", id, cfg})
	}
	for id, cfg := range c.Slack {
		all = append(all, instanceEntry{"slack", id, cfg})
	}
	for id, cfg := range c.Webhook {
		all = append(all, instanceEntry{"webhook", id, cfg})
	}
	for id, cfg := range c.Mattermost {
		all = append(all, instanceEntry{"mattermost", id, cfg})
	}
	for id, cfg := range c.RocketChat {
		all = append(all, instanceEntry{"rocketchat", id, cfg})
	}
	for id, cfg := range c.Teams {
		all = append(all, instanceEntry{"teams", id, cfg})
	}
	for id, cfg := range c.VoceChat {
		all = append(all, instanceEntry{"vocechat", id, cfg})
	}
	for id, cfg := range c.GoogleChat {
		all = append(all, instanceEntry{"googlechat", id, cfg})
	}
	return all
}

// InstanceConfig names one configured driver instance alongside its
// already-validated, driver-specific config block, ready to hand to
// driver.Build.
type InstanceConfig struct {
	Driver string
	ID     string
	Config any
}

// Instances returns every configured driver instance in c, for wiring up
// the supervisor at startup.
func (c *AppConfig) Instances() []InstanceConfig {
	entries := c.instanceEntries()
	out := make([]InstanceConfig, len(entries))
	for i, e := range entries {
		out[i] = InstanceConfig{Driver: e.driver, ID: e.id, Config: e.cfg}
	}
	return out
}

// InstanceKinds maps every configured instance_id to its driver kind name,
// for resolving rule references and building the supervisor's instance
// list. Returns an error if the same instance_id is declared under more
// than one driver kind, since a rule referencing it would be ambiguous.
func (c *AppConfig) InstanceKinds() (map[string]string, error) {
	kinds := make(map[string]string)
	for _, e := range c.instanceEntries() {
		if existing, ok := kinds[e.id]; ok && existing != e.driver {
			return nil, fmt.Errorf("instance id %q is declared under both %q and %q", e.id, existing, e.driver)
		}
		kinds[e.id] = e.driver
	}
	return kinds, nil
}

// applyDefaultsAndValidate runs defaults() then validate() over every
// instance of every driver map in c, prefixing errors with
// "<driver>.<instance_id>: ".
func (c *AppConfig) applyDefaultsAndValidate() error {
	all := c.instanceEntries()
	for _, e := range all {
		e.cfg.defaults()
		if err := e.cfg.validate(); err != nil {
			return fmt.Errorf("%s.%s: %w", e.driver, e.id, err)
		}
	}
	if _, err := c.InstanceKinds(); err != nil {
		return err
	}
	return nil
}
