package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/flowbridge/bridge/pkg/logger"
)

// Default outbound rate limit applied per target instance, guarding against
// one hot source channel exhausting a platform's own API rate limit. Tuned
// loose enough to never bind under normal operator-configured traffic.
const (
	defaultSendRate  = 5
	defaultSendBurst = 10
)

// SendFunc delivers a rendered message to one driver instance's channel. It
// may be called concurrently from multiple source channels and must be safe
// under concurrent invocation. The returned message ID is optional (empty if
// the platform or driver doesn't support reply correlation).
type SendFunc func(ctx context.Context, channel Channel, text string, attachments []Attachment, extra map[string]any) (messageID string, err error)

// guard decides whether a rendered message is safe to dispatch. Installed by
// NewRouter from a sensitive-value index; overridable in tests.
type guard func(rendered string) (blocked bool, match string)

// Router matches inbound messages against a rule set and fans them out to
// registered driver senders. One Router instance serves the whole process;
// OnMessage may be called concurrently from multiple driver goroutines, each
// call processed independently. Concurrent callers share the router's mutex
// (read-locked for sender lookup, write-locked when limiterFor creates a
// target's limiter) and wait on a target's shared rate limiter when both
// send to the same target instance.
type Router struct {
	mu       sync.RWMutex
	senders  map[string]SendFunc // instance_id -> sender
	rules    []Rule
	guard    guard
	limiters map[string]*rate.Limiter // instance_id -> outbound limiter
}

// NewRouter builds a Router over a fixed rule set. blockSensitive, if
// non-nil, is consulted before every send and may veto delivery (e.g. to
// stop a leaked credential from reaching another platform).
func NewRouter(rules []Rule, blockSensitive guard) *Router {
	if blockSensitive == nil {
		blockSensitive = func(string) (bool, string) { return false, "" }
	}
	return &Router{
		senders:  make(map[string]SendFunc),
		rules:    rules,
		guard:    blockSensitive,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the outbound rate limiter for instanceID, creating one
// on first use. Callers must hold no lock; it takes r.mu itself.
func (r *Router) limiterFor(instanceID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[instanceID]
	if !ok {
		l = rate.NewLimiter(defaultSendRate, defaultSendBurst)
		r.limiters[instanceID] = l
	}
	return l
}

// RegisterSender associates a driver instance ID with the function used to
// deliver messages to it. Re-registering an ID replaces the prior sender.
// Safe to call concurrently with OnMessage.
func (r *Router) RegisterSender(instanceID string, send SendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[instanceID] = send
}

// UnregisterSender removes a driver instance, e.g. on shutdown, so in-flight
// rule matches stop dispatching to it.
func (r *Router) UnregisterSender(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.senders, instanceID)
}

// OnMessage evaluates every rule against msg and dispatches to each matched
// target in turn. Rules are independent: a disjoint rule set dispatches to
// the union of all matching rules' targets, and rule order never affects the
// outcome for disjoint rules; multiple matching rules may duplicate a
// dispatch, which is by design. Within one call, targets are sent
// sequentially so that messages from the same source channel are delivered
// to each destination in the order OnMessage was called for them; a failure
// sending to one target is logged and does not prevent delivery to the
// rest.
func (r *Router) OnMessage(ctx context.Context, msg *NormalizedMessage) {
	if msg.BridgeID == "" {
		msg.BridgeID = uuid.NewString()
	}
	for i := range r.rules {
		rule := &r.rules[i]
		if !rule.matches(msg) {
			continue
		}
		for _, t := range rule.resolveTargets() {
			r.dispatch(ctx, msg, t)
		}
	}
}

// dispatch delivers msg to a single resolved target, applying echo
// suppression, template rendering, and the sensitive-value guard.
func (r *Router) dispatch(ctx context.Context, msg *NormalizedMessage, t target) {
	if t.instanceID == msg.InstanceID && t.channel.Equal(msg.Channel) {
		return // never echo back to the exact source instance+channel
	}

	r.mu.RLock()
	send, ok := r.senders[t.instanceID]
	r.mu.RUnlock()
	if !ok {
		logger.WarnCF("bridge.router", "no sender registered for target instance", map[string]any{
			"instance_id": t.instanceID,
		})
		return
	}

	rendered := renderMsg(t.msg.Format(), msg)
	if blocked, match := r.guard(rendered); blocked {
		logger.WarnCF("bridge.router", "blocked send containing a sensitive value", map[string]any{
			"instance_id": t.instanceID,
			"matched":     maskForLog(match),
		})
		return
	}

	extra := buildExtra(t.msg, msg)
	if extra == nil {
		extra = make(map[string]any, 2)
	}
	extra["_bridge_id"] = msg.BridgeID
	if msg.ReplyParent != "" {
		extra["_reply_to_bridge_id"] = msg.ReplyParent
	}

	if err := r.limiterFor(t.instanceID).Wait(ctx); err != nil {
		return // ctx canceled while waiting for rate budget
	}

	if _, err := send(ctx, t.channel, rendered, msg.Attachments, extra); err != nil {
		logger.ErrorCF("bridge.router", "send failed", map[string]any{
			"instance_id": t.instanceID,
			"error":       err.Error(),
		})
	}
}

// buildExtra derives the opaque extra-field map passed to a sender from a
// target's msg config: msg_format is consumed by templating and never
// forwarded; other string values are template-expanded with the same
// placeholder context as msg_format, and non-string values pass through
// unchanged.
func buildExtra(cfg MsgConfig, msg *NormalizedMessage) map[string]any {
	if len(cfg) == 0 {
		return nil
	}
	extra := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if k == "msg_format" {
			continue
		}
		if s, ok := v.(string); ok {
			extra[k] = expandTemplate(s, msg)
		} else {
			extra[k] = v
		}
	}
	return extra
}

// maskForLog avoids writing the sensitive value itself into the log line
// that reports blocking it.
func maskForLog(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
