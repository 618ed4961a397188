// Package markdown converts extracted page HTML into Markdown using a
// deterministic heuristic: headings, paragraphs, links, list items, and
// code blocks are rendered in document order; everything else contributes
// its children or is dropped.
package markdown

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Convert renders HTML as Markdown. The same input always produces the
// same output; unknown elements are transparent containers.
func Convert(htmlStr string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return "", fmt.Errorf("markdown: parse html: %w", err)
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var blocks []string
	root.Each(func(_ int, s *goquery.Selection) {
		for _, node := range s.Nodes {
			collectBlocks(node, &blocks)
		}
	})

	out := strings.Join(blocks, "\n\n")
	if out != "" {
		out += "\n"
	}
	return out, nil
}

func collectBlocks(n *html.Node, blocks *[]string) {
	if n.Type != html.ElementNode {
		if n.Type == html.DocumentNode {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				collectBlocks(c, blocks)
			}
		}
		return
	}

	switch n.Data {
	case "script", "style", "head", "noscript", "template":
		return
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		text := strings.TrimSpace(inlineText(n))
		if text != "" {
			*blocks = append(*blocks, strings.Repeat("#", level)+" "+text)
		}
	case "p":
		text := strings.TrimSpace(inlineText(n))
		if text != "" {
			*blocks = append(*blocks, text)
		}
	case "ul":
		if items := listItems(n, func(int) string { return "- " }); items != "" {
			*blocks = append(*blocks, items)
		}
	case "ol":
		if items := listItems(n, func(i int) string { return fmt.Sprintf("%d. ", i+1) }); items != "" {
			*blocks = append(*blocks, items)
		}
	case "pre":
		code := strings.TrimRight(rawText(n), "\n")
		*blocks = append(*blocks, "```\n"+code+"\n```")
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collectBlocks(c, blocks)
		}
	}
}

func listItems(n *html.Node, marker func(int) string) string {
	var lines []string
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		text := strings.TrimSpace(inlineText(c))
		if text == "" {
			continue
		}
		lines = append(lines, marker(i)+text)
		i++
	}
	return strings.Join(lines, "\n")
}

// inlineText flattens a node's inline content: links become
// [text](href), code spans get backticks, emphasis keeps its markers.
func inlineText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeInline(&b, c)
	}
	return collapseSpaces(b.String())
}

func writeInline(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.Data {
	case "a":
		text := strings.TrimSpace(inlineText(n))
		href := attrValue(n, "href")
		if text == "" {
			text = href
		}
		if href != "" {
			fmt.Fprintf(b, "[%s](%s)", text, href)
		} else {
			b.WriteString(text)
		}
	case "code":
		b.WriteString("`" + rawText(n) + "`")
	case "strong", "b":
		b.WriteString("**" + strings.TrimSpace(inlineText(n)) + "**")
	case "em", "i":
		b.WriteString("*" + strings.TrimSpace(inlineText(n)) + "*")
	case "br":
		b.WriteString(" ")
	case "script", "style":
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeInline(b, c)
		}
	}
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func rawText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
