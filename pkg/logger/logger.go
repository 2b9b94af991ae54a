// Package logger provides the process-wide structured logger used across
// the bridge. It wraps zerolog with a component tag and a masking hook so
// that configured secrets never reach stdout or a log file.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base zerolog.Logger
	mask *maskingWriter
)

// maskingWriter rewrites any configured sensitive substring to "***" before
// bytes reach the underlying writer.
type maskingWriter struct {
	mu      sync.RWMutex
	targets []string
	out     io.Writer
}

func (w *maskingWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	targets := w.targets
	w.mu.RUnlock()

	if len(targets) == 0 {
		return w.out.Write(p)
	}

	s := string(p)
	for _, secret := range targets {
		if secret == "" {
			continue
		}
		s = replaceAll(s, secret, "***")
	}
	n, err := w.out.Write([]byte(s))
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	out := make([]byte, 0, len(s))
	for {
		idx := index(s, old)
		if idx < 0 {
			out = append(out, s...)
			break
		}
		out = append(out, s[:idx]...)
		out = append(out, new...)
		s = s[idx+len(old):]
	}
	return string(out)
}

func index(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	mask = &maskingWriter{out: os.Stdout}
	console := zerolog.ConsoleWriter{Out: mask, TimeFormat: "2006-01-02 15:04:05"}
	base = zerolog.New(console).With().Timestamp().Logger()
}

// RegisterSensitive installs the set of secret strings that must be masked
// out of every subsequent log line. Values shorter than 8 bytes are ignored
// to avoid over-masking common substrings.
func RegisterSensitive(values []string) {
	filtered := make([]string, 0, len(values))
	for _, v := range values {
		if len(v) >= 8 {
			filtered = append(filtered, v)
		}
	}
	mask.mu.Lock()
	mask.targets = filtered
	mask.mu.Unlock()
}

func logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetOutput redirects log output, e.g. to a file in addition to stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	mask.out = w
}

func fields(ev *zerolog.Event, f map[string]any) *zerolog.Event {
	for k, v := range f {
		ev = ev.Interface(k, v)
	}
	return ev
}

// DebugCF logs a debug-level message tagged with a component and structured fields.
func DebugCF(component, msg string, f map[string]any) {
	fields(logger().Debug().Str("component", component), f).Msg(msg)
}

// InfoCF logs an info-level message tagged with a component and structured fields.
func InfoCF(component, msg string, f map[string]any) {
	fields(logger().Info().Str("component", component), f).Msg(msg)
}

// WarnCF logs a warn-level message tagged with a component and structured fields.
func WarnCF(component, msg string, f map[string]any) {
	fields(logger().Warn().Str("component", component), f).Msg(msg)
}

// ErrorCF logs an error-level message tagged with a component and structured fields.
func ErrorCF(component, msg string, f map[string]any) {
	fields(logger().Error().Str("component", component), f).Msg(msg)
}

// CriticalCF logs an error condition the process cannot recover from locally,
// at zerolog's panic-adjacent "fatal" severity, without actually exiting —
// the supervisor decides whether the process should continue.
func CriticalCF(component, msg string, f map[string]any) {
	fields(logger().WithLevel(zerolog.FatalLevel).Str("component", component), f).Msg(msg)
}

// InfoC logs a plain info-level message tagged with a component.
func InfoC(component, msg string) { InfoCF(component, msg, nil) }

// WarnC logs a plain warn-level message tagged with a component.
func WarnC(component, msg string) { WarnCF(component, msg, nil) }

// ErrorC logs a plain error-level message tagged with a component.
func ErrorC(component, msg string) { ErrorCF(component, msg, nil) }
