package fetch

import (
	"io"
	"strings"
	"time"

	"github.com/poiesic/gazette/core"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// publishLayouts are tried in order when parsing publish time meta tags.
var publishLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// skipped subtrees never contribute body text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
}

// page collects what Parse finds while walking the document.
type page struct {
	title       string
	ogTitle     string
	h1          string
	description string
	keywords    []string
	authors     []string
	image       string
	published   time.Time

	articleParagraphs []string
	paragraphs        []string
}

// Parse extracts an article from an HTML document served at url.
// Paragraphs inside <article> are preferred over the rest of the page.
func Parse(url string, r io.Reader) (*core.Article, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	p := &page{}
	p.walk(doc, false)

	title := firstNonEmpty(p.ogTitle, p.title, p.h1)
	paragraphs := p.articleParagraphs
	if len(paragraphs) == 0 {
		paragraphs = p.paragraphs
	}
	content := strings.Join(paragraphs, "\n\n")
	if title == "" || content == "" {
		return nil, ErrNoContent
	}

	article := core.NewArticle(url, title, content)
	article.Authors = p.authors
	article.TopImage = p.image
	article.MetaDescription = p.description
	article.PublishDate = p.published
	article.SetKeywords(p.keywords...)
	return article, nil
}

func (p *page) walk(n *html.Node, inArticle bool) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Title:
			if p.title == "" {
				p.title = cleanText(textOf(n))
			}
			return
		case atom.Meta:
			p.meta(n)
			return
		case atom.H1:
			if p.h1 == "" {
				p.h1 = cleanText(textOf(n))
			}
		case atom.Article:
			inArticle = true
		case atom.P:
			if text := cleanText(textOf(n)); text != "" {
				p.paragraphs = append(p.paragraphs, text)
				if inArticle {
					p.articleParagraphs = append(p.articleParagraphs, text)
				}
			}
			return
		default:
			if skipped[n.DataAtom] {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c, inArticle)
	}
}

func (p *page) meta(n *html.Node) {
	key := strings.ToLower(firstNonEmpty(attr(n, "property"), attr(n, "name")))
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}

	switch key {
	case "og:title":
		p.ogTitle = content
	case "description", "og:description":
		if p.description == "" {
			p.description = content
		}
	case "keywords", "news_keywords":
		for _, k := range strings.Split(content, ",") {
			if k = strings.TrimSpace(k); k != "" {
				p.keywords = append(p.keywords, k)
			}
		}
	case "author", "article:author":
		if !strings.HasPrefix(content, "http") {
			p.authors = appendUnique(p.authors, content)
		}
	case "og:image", "twitter:image":
		if p.image == "" {
			p.image = content
		}
	case "article:published_time", "pubdate", "date":
		if p.published.IsZero() {
			p.published = parsePublished(content)
		}
	}
}

func parsePublished(value string) time.Time {
	for _, layout := range publishLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}

// cleanText collapses whitespace runs, including non-breaking spaces, into
// single spaces.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
