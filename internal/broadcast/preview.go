package broadcast

import (
	"html"
	"regexp"
	"strings"
)

// previewLength caps the derived plain-text preview.
const previewLength = 200

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// Preview derives the plain-text preview stored alongside a broadcast: tags
// stripped, entities unescaped, whitespace collapsed, capped at 200
// characters.
func Preview(htmlBody string) string {
	text := tagPattern.ReplaceAllString(htmlBody, " ")
	text = html.UnescapeString(text)
	text = strings.Join(strings.Fields(text), " ")

	if runes := []rune(text); len(runes) > previewLength {
		text = string(runes[:previewLength])
	}
	return text
}
