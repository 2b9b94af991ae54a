package bridge

import "fmt"

// stringify renders a channel-address value (string or number, per the wire
// config format) as its canonical string form for structural matching.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		// JSON/YAML numeric literals decode to float64; render whole numbers
		// without a trailing ".0" so "123" and 123 compare equal.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
