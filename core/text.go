package core

import (
	"encoding/hex"
	"net/url"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Query parameters dropped by NormalizeURL.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"msclkid": {},
	"_ga":     {},
	"_gl":     {},
	"ref":     {},
	"source":  {},
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// DocumentText is the text that gets chunked and embedded for an article.
func DocumentText(title, content string) string {
	return title + "\n\n" + content
}

// IsValidURL reports whether raw is an absolute http or https URL with a host.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ExtractDomain returns the host of raw, or "" if it cannot be parsed.
func ExtractDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// NormalizeURL removes the fragment and tracking parameters from raw.
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	q := u.Query()
	for key := range q {
		if _, ok := trackingParams[key]; ok || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Fingerprint identifies an article's content independently of its URL and
// enrichment. Two fetches with the same title and content share a fingerprint.
func Fingerprint(article *Article) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(article.Title))
	h.Write([]byte{0})
	h.Write([]byte(article.Content))
	return hex.EncodeToString(h.Sum(nil))
}
