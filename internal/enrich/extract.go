package enrich

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/gurisko/demosite/internal/limits"
)

// Page is the signal pulled out of a company's landing page
type Page struct {
	Title       string
	Description string // meta name=description
	ImageURL    string // meta property=og:image
	Text        string // visible text of main, article or body
}

// Empty reports whether the page carried nothing worth summarizing
func (p Page) Empty() bool {
	return p.Title == "" && p.Description == "" && p.Text == ""
}

var skipText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Head:     true,
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v\r]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Extract parses raw HTML into a Page. Malformed markup is parsed leniently.
func Extract(raw string) Page {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Page{}
	}

	var p Page
	var titleNode, mainNode, bodyNode *html.Node

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if titleNode == nil {
					titleNode = n
				}
			case atom.Meta:
				readMeta(n, &p)
			case atom.Main, atom.Article:
				if mainNode == nil {
					mainNode = n
				}
			case atom.Body:
				if bodyNode == nil {
					bodyNode = n
				}
			case atom.Svg:
				// nothing of interest inside inline svg, and its <title> isn't the page's
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if titleNode != nil {
		p.Title = strings.Join(strings.Fields(nodeText(titleNode)), " ")
	}

	root := mainNode
	if root == nil {
		root = bodyNode
	}
	if root == nil {
		root = doc
	}
	p.Text = clamp(visibleText(root), limits.PageText)
	return p
}

func readMeta(n *html.Node, p *Page) {
	var name, property, content string
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(a.Val))
		case "property":
			property = strings.ToLower(strings.TrimSpace(a.Val))
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	if content == "" {
		return
	}
	if name == "description" && p.Description == "" {
		p.Description = content
	}
	if property == "og:image" && p.ImageURL == "" {
		p.ImageURL = content
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// visibleText joins the trimmed text nodes under n, one per line
func visibleText(n *html.Node) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipText[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	text := strings.Join(parts, "\n")
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// clamp cuts s to at most limit characters, marking the cut with an ellipsis
func clamp(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}

// truncate cuts s to at most limit characters
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
