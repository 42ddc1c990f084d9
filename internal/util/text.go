package util

// Clip truncates s to at most max runes. Used when embedding transcript
// previews into instructions so a single long turn cannot blow up the prompt.
func Clip(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
