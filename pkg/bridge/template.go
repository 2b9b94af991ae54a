package bridge

import (
	"strings"

	"github.com/flowbridge/bridge/pkg/logger"
)

// placeholders returns the substitution table for a message's known
// template keys.
func placeholders(msg *NormalizedMessage) map[string]string {
	return map[string]string{
		"platform":    msg.Platform,
		"from":        msg.User,
		"username":    msg.User,
		"user_id":     msg.UserID,
		"user_avatar": msg.UserAvatar,
		"msg":         msg.Text,
	}
}

// expandTemplate renders format against msg's placeholders. An unknown
// "{key}" placeholder is left untouched by strings.NewReplacer, so callers
// must pre-validate with unknownPlaceholder to decide whether to fall back to
// raw text.
func expandTemplate(format string, msg *NormalizedMessage) string {
	ph := placeholders(msg)
	pairs := make([]string, 0, len(ph)*2)
	for k, v := range ph {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(format)
}

// renderMsg expands format, falling back to the message's raw text (and
// logging a warning) if format references a placeholder key this message
// doesn't recognize.
func renderMsg(format string, msg *NormalizedMessage) string {
	if bad := unknownPlaceholder(format); bad != "" {
		logger.WarnCF("bridge.router", "unknown template placeholder, falling back to raw text", map[string]any{
			"placeholder": bad,
			"format":      format,
		})
		return msg.Text
	}
	return expandTemplate(format, msg)
}

var knownPlaceholders = map[string]bool{
	"platform": true, "from": true, "username": true,
	"user_id": true, "user_avatar": true, "msg": true,
}

// unknownPlaceholder scans format for the first "{...}" token that isn't a
// recognized placeholder name, returning it (braces included) or "" if all
// tokens are known.
func unknownPlaceholder(format string) string {
	for {
		start := strings.IndexByte(format, '{')
		if start < 0 {
			return ""
		}
		end := strings.IndexByte(format[start:], '}')
		if end < 0 {
			return ""
		}
		key := format[start+1 : start+end]
		if !knownPlaceholders[key] {
			return format[start : start+end+1]
		}
		format = format[start+end+1:]
	}
}
