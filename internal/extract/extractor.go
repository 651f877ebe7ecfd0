// Package extract pulls the title, visible text and outbound links out
// of an HTML document.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Document is the parsed view of one HTML page.
type Document struct {
	Title    string
	MetaDesc string
	// Text is the visible text of the page, with tag boundaries collapsed
	// to single spaces. Script, style and noscript content is excluded.
	Text string
	// Links are the raw href values of anchor tags, in document order.
	// Fragment-only and non-navigational schemes are dropped; resolution
	// against the page URL is the caller's job.
	Links []string
}

// skippedSchemes are href prefixes that never lead to a crawlable page.
var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// Parse extracts a Document from raw HTML. The tokenizer underneath is
// lenient: malformed markup yields a best-effort tree, not an error.
func Parse(body []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &Document{}
	var text strings.Builder
	walk(root, doc, &text, false)
	doc.Text = strings.Join(strings.Fields(text.String()), " ")
	return doc, nil
}

func walk(n *html.Node, doc *Document, text *strings.Builder, inTitle bool) {
	switch n.Type {
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		case "title":
			inTitle = true
		case "meta":
			readMeta(n, doc)
		case "a":
			if href := attr(n, "href"); keepHref(href) {
				doc.Links = append(doc.Links, href)
			}
		}
	case html.TextNode:
		if inTitle {
			if doc.Title == "" {
				doc.Title = strings.TrimSpace(n.Data)
			}
			return
		}
		text.WriteString(n.Data)
		text.WriteByte(' ')
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, doc, text, inTitle)
	}
}

func readMeta(n *html.Node, doc *Document) {
	if strings.EqualFold(attr(n, "name"), "description") {
		doc.MetaDesc = attr(n, "content")
	}
}

func keepHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
