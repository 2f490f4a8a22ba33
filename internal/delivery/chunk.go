package delivery

import (
	"strings"
)

// MaxChunkLen is the platform's per-message length ceiling, in runes.
const MaxChunkLen = 2000

// SplitMessage breaks content into delivery-sized chunks, preferring
// paragraph breaks, then line breaks, then sentence ends, before falling
// back to a hard cut. Order is preserved; concatenating the chunks (minus
// the whitespace consumed at split points) reproduces the content.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxChunkLen
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	runes := []rune(content)
	if len(runes) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(runes) > maxLen {
		cut := splitPoint(runes, maxLen)
		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " \n"))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitPoint finds the best cut position at or before maxLen.
func splitPoint(runes []rune, maxLen int) int {
	window := string(runes[:maxLen])

	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			// Keep sentence-ending punctuation with its chunk.
			if sep == ". " {
				return len([]rune(window[:idx])) + 1
			}
			return len([]rune(window[:idx]))
		}
	}
	return maxLen
}
