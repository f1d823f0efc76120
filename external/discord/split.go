package discord

import (
	"strings"
	"unicode/utf8"
)

const maxMessageLength = 2000

// splitMessage breaks content into parts of at most limit runes, cutting at
// the last newline or space inside the window when there is one.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	var parts []string
	for utf8.RuneCountInString(content) > limit {
		window := prefixRunes(content, limit)
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		if cut <= 0 {
			cut = len(window)
		}
		if part := strings.TrimSpace(content[:cut]); part != "" {
			parts = append(parts, part)
		}
		content = strings.TrimSpace(content[cut:])
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}

func truncateMessage(content string, limit int) string {
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	return prefixRunes(content, limit-1) + "…"
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
