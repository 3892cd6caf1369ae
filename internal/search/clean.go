package search

import (
	"strings"

	"golang.org/x/net/html"
)

// maxSnippet bounds a snippet in runes after cleaning.
const maxSnippet = 300

// CleanText strips HTML markup from s, decodes entities and collapses
// whitespace. Providers return highlighted fragments such as
// "<strong>docker</strong> compose", which cost tokens and confuse the
// model.
func CleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			if name, _ := z.TagName(); isInvisible(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isInvisible(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isInvisible(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}

func cleanSnippet(s string) string {
	s = CleanText(s)
	if r := []rune(s); len(r) > maxSnippet {
		s = strings.TrimSpace(string(r[:maxSnippet])) + "…"
	}
	return s
}
