package fetch

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	articlePathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/\d{4}/\d{2}/`),
		regexp.MustCompile(`/story/`),
		regexp.MustCompile(`/article/`),
		regexp.MustCompile(`/news/`),
	}
	excludedPathParts = []string{"/category/", "/tag/", "/author/"}
)

// IsLikelyArticleURL guesses from its path whether rawURL points at an
// article rather than an index page.
func IsLikelyArticleURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, part := range excludedPathParts {
		if strings.Contains(path, part) {
			return false
		}
	}
	for _, re := range articlePathPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// ExtractLinks returns the distinct article-like links of the HTML document
// served at pageURL, resolved against it, in document order.
func ExtractLinks(pageURL string, r io.Reader, sameDomain bool) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := strings.TrimSpace(attr(n, "href")); href != "" {
				if ref, err := url.Parse(href); err == nil {
					link := base.ResolveReference(ref)
					link.Fragment = ""
					s := link.String()
					_, dup := seen[s]
					switch {
					case dup:
					case link.Scheme != "http" && link.Scheme != "https":
					case sameDomain && !strings.EqualFold(link.Host, base.Host):
					case !IsLikelyArticleURL(s):
					default:
						seen[s] = struct{}{}
						links = append(links, s)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}
