package bridge

import "strings"

// SensitiveGuard builds the dispatch-time guard from a flat list of secret
// strings (as produced by config.ExtractSensitiveValues): any value shorter
// than 8 bytes is dropped, since short common substrings would otherwise
// block nearly everything. The returned guard performs a plain substring
// test against each remaining secret and returns the first secret that
// matched; it logs nothing itself, leaving redaction to the caller.
func SensitiveGuard(secrets []string) func(rendered string) (bool, string) {
	filtered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= 8 {
			filtered = append(filtered, s)
		}
	}
	return func(rendered string) (bool, string) {
		for _, s := range filtered {
			if strings.Contains(rendered, s) {
				return true, s
			}
		}
		return false, ""
	}
}
