package llm

import "strings"

// TruncateText cuts text to at most maxChars runes and trims surrounding
// whitespace. A non-positive maxChars only trims.
func TruncateText(text string, maxChars int) string {
	if maxChars > 0 {
		count := 0
		for i := range text {
			if count == maxChars {
				text = text[:i]
				break
			}
			count++
		}
	}
	return strings.TrimSpace(text)
}
