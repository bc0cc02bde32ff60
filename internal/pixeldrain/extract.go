package pixeldrain

import "strings"

// ExtractID pulls a pixeldrain file ID out of free-form text: either a
// pixeldrain URL (the ID is the last path segment) or a bare ID. Text that is
// neither returns ok=false and must be silently ignored by callers.
func ExtractID(text string) (string, bool) {
	if strings.HasPrefix(text, "http") {
		trimmed := strings.TrimSuffix(text, "/")
		id := trimmed[strings.LastIndex(trimmed, "/")+1:]
		if id == "" {
			return "", false
		}
		return id, true
	}
	if !strings.Contains(text, "/") {
		if text == "" {
			return "", false
		}
		return text, true
	}
	return "", false
}
