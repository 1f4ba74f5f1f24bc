package mastodon

import (
	"strings"

	"golang.org/x/net/html"
)

// contentText flattens status HTML into plain text. Paragraphs and line
// breaks become newlines; everything else contributes its text, so a
// mention anchor reads "@user" and a shortened link reads as its full URL.
func contentText(content string) string {
	if !strings.Contains(content, "<") {
		return html.UnescapeString(content)
	}
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}
	var sb strings.Builder
	walk(doc, &sb, 0)
	return strings.TrimSpace(sb.String())
}

func walk(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "p":
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, sb, depth+1)
	}

	if n.Type == html.ElementNode && n.Data == "p" {
		sb.WriteString("\n")
	}
}
