package bridge

// RuleType distinguishes directional forward rules from symmetric connect
// rules.
type RuleType string

const (
	RuleForward RuleType = "forward"
	RuleConnect RuleType = "connect"
)

// MsgConfig is the "msg" block of a rule: msg_format plus arbitrary extra
// keys that are either template-expanded (string values) or passed through
// opaque (non-string values) to the sender.
type MsgConfig map[string]any

// Format returns the configured msg_format, defaulting to "{msg}".
func (m MsgConfig) Format() string {
	if v, ok := m["msg_format"].(string); ok && v != "" {
		return v
	}
	return "{msg}"
}

// Rule is one operator-supplied routing directive. Exactly one of From/To or
// Channels is populated depending on Type.
type Rule struct {
	Type RuleType

	// Forward rule fields.
	From map[string]Channel // instance_id -> channel address
	To   map[string]Channel

	// Connect rule field: instance_id -> channel address, each of which may
	// carry a local "msg" override, held apart from the address in
	// ChannelWithMsg.Msg.
	Channels map[string]ChannelWithMsg

	// Msg holds msg_format and extra fields. For forward rules this is the
	// effective config; for connect rules it is the global default, merged
	// per-target with the target's local override.
	Msg MsgConfig
}

// ChannelWithMsg is one entry of a connect rule's "channels" block: a bare
// channel address plus an optional per-target "msg" override. "msg" is
// reserved and never a channel address key.
type ChannelWithMsg struct {
	Address Channel
	Msg     MsgConfig
}

// matchesAddress reports whether every (key, value) pair in want equals
// msg.Channel[key] under string equality. An empty want always matches.
func matchesAddress(msgChannel Channel, want Channel) bool {
	for k, expected := range want {
		if msgChannel.Get(k) != stringify(expected) {
			return false
		}
	}
	return true
}

// matchesForward reports whether msg originates from the "from" side of a
// forward rule.
func matchesForward(msg *NormalizedMessage, from map[string]Channel) bool {
	want, ok := from[msg.InstanceID]
	if !ok {
		return false
	}
	return matchesAddress(msg.Channel, want)
}

// matchesConnect reports whether msg originates from one of the channels
// named in a connect rule.
func matchesConnect(msg *NormalizedMessage, channels map[string]ChannelWithMsg) bool {
	entry, ok := channels[msg.InstanceID]
	if !ok {
		return false
	}
	return matchesAddress(msg.Channel, entry.Address)
}

// target is one resolved fan-out destination, materialized while walking a
// matched rule.
type target struct {
	instanceID string
	channel    Channel
	msg        MsgConfig
}

// resolveTargets returns every destination a matched rule dispatches to,
// with per-target msg config already merged (connect rules: target-local
// wins over global).
func (r *Rule) resolveTargets() []target {
	switch r.Type {
	case RuleConnect:
		targets := make([]target, 0, len(r.Channels))
		for id, entry := range r.Channels {
			targets = append(targets, target{
				instanceID: id,
				channel:    entry.Address,
				msg:        mergeMsg(r.Msg, entry.Msg),
			})
		}
		return targets
	default:
		targets := make([]target, 0, len(r.To))
		for id, addr := range r.To {
			targets = append(targets, target{instanceID: id, channel: addr, msg: r.Msg})
		}
		return targets
	}
}

// mergeMsg merges global and a channel-local msg config, with the
// channel-local value winning key-by-key.
func mergeMsg(global, local MsgConfig) MsgConfig {
	if len(local) == 0 {
		return global
	}
	out := make(MsgConfig, len(global)+len(local))
	for k, v := range global {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}

// matches reports whether msg is the source of this rule, i.e. whether
// OnMessage should dispatch it.
func (r *Rule) matches(msg *NormalizedMessage) bool {
	if r.Type == RuleConnect {
		return matchesConnect(msg, r.Channels)
	}
	return matchesForward(msg, r.From)
}
