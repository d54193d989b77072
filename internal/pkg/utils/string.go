package utils

import "unicode/utf8"

// Truncate cuts content to at most maxLen bytes without splitting a rune.
func Truncate(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}

func Truncate80(content string) string {
	return Truncate(content, 80)
}
