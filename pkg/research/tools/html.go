package tools

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML returns the text content of s with tags removed, entities decoded
// and whitespace collapsed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// Block-level separation; inline tags collapse with the whitespace pass.
			name, _ := z.TagName()
			switch string(name) {
			case "br", "p", "div", "li":
				sb.WriteByte(' ')
			}
		}
	}
}
