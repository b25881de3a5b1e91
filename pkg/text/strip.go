// Package text holds small text helpers shared by the stores.
package text

import (
	"strings"

	"golang.org/x/net/html"
)

// StripMarkup removes HTML tags and returns the collapsed text content.
// Titles arrive from a rich-text editor, so "<p><br></p>" must count as
// empty.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return normalize(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return normalize(s)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return normalize(buf.String())
}

func normalize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}
