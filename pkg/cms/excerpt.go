package cms

import (
	"strings"

	"golang.org/x/net/html"
)

// Excerpt reduces CMS rich-text HTML to a plain-text excerpt of at
// most max runes, cut on a word boundary. Script and style contents
// are dropped entirely.
func Excerpt(richText string, max int) string {
	tokenizer := html.NewTokenizer(strings.NewReader(richText))
	var parts []string
	skip := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return truncateWords(strings.Join(parts, " "), max)
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if isInvisibleTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if isInvisibleTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(tokenizer.Text())), " ")
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
}

func isInvisibleTag(name string) bool {
	return name == "script" || name == "style"
}

func truncateWords(text string, max int) string {
	if max <= 0 || len([]rune(text)) <= max {
		return text
	}
	runes := []rune(text)
	cut := max
	for cut > 0 && runes[cut-1] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
