package core

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Article is a fetched and parsed web document. URL is its unique key.
type Article struct {
	URL             string
	Title           string
	Content         string
	SourceDomain    string
	Authors         []string
	PublishDate     time.Time // zero when unknown
	TopImage        string
	MetaKeywords    []string
	MetaDescription string
	WordCount       int
	ScrapedAt       time.Time
	Summary         string   // populated by enrichment
	Topics          []string // populated by enrichment
}

// NewArticle creates an Article and derives the fields that never change
// after creation: SourceDomain, WordCount and ScrapedAt.
func NewArticle(url, title, content string) *Article {
	return &Article{
		URL:          url,
		Title:        title,
		Content:      content,
		SourceDomain: ExtractDomain(url),
		WordCount:    WordCount(content),
		ScrapedAt:    time.Now().UTC(),
	}
}

// SetKeywords stores keywords with duplicates removed, keeping first-seen order.
func (a *Article) SetKeywords(keywords ...string) {
	a.MetaKeywords = dedupe(keywords)
}

// Clone returns a copy of a that shares no slices with it.
func (a *Article) Clone() *Article {
	c := *a
	c.Authors = slices.Clone(a.Authors)
	c.MetaKeywords = slices.Clone(a.MetaKeywords)
	c.Topics = slices.Clone(a.Topics)
	return &c
}

// Enriched reports whether a summary or topics are attached.
func (a *Article) Enriched() bool {
	return a.Summary != "" || len(a.Topics) > 0
}

// ChunkRecord is the persisted unit: one span of an article's text plus a
// copy of the article's metadata.
type ChunkRecord struct {
	ID          string
	ParentURL   string
	ChunkIndex  int
	ChunkCount  int
	Text        string
	Fingerprint string

	Title           string
	SourceDomain    string
	Authors         []string
	PublishDate     time.Time
	TopImage        string
	MetaKeywords    []string
	MetaDescription string
	WordCount       int
	ScrapedAt       time.Time
	Summary         string
	Topics          []string

	// Managed by the store.
	Vector    []float32
	Seq       uint64
	UpdatedAt time.Time
}

// NewChunkRecord builds the record for span index of count spans of article.
func NewChunkRecord(article *Article, span string, index, count int) *ChunkRecord {
	return &ChunkRecord{
		ID:              ChunkID(article.URL, index),
		ParentURL:       article.URL,
		ChunkIndex:      index,
		ChunkCount:      count,
		Text:            span,
		Fingerprint:     Fingerprint(article),
		Title:           article.Title,
		SourceDomain:    article.SourceDomain,
		Authors:         slices.Clone(article.Authors),
		PublishDate:     article.PublishDate,
		TopImage:        article.TopImage,
		MetaKeywords:    dedupe(article.MetaKeywords),
		MetaDescription: article.MetaDescription,
		WordCount:       article.WordCount,
		ScrapedAt:       article.ScrapedAt,
		Summary:         article.Summary,
		Topics:          slices.Clone(article.Topics),
	}
}

// NewChunkRecords builds one record per span, in order.
func NewChunkRecords(article *Article, spans []string) []*ChunkRecord {
	records := make([]*ChunkRecord, len(spans))
	for i, span := range spans {
		records[i] = NewChunkRecord(article, span, i, len(spans))
	}
	return records
}

// Article rebuilds the parent article's metadata from a chunk. Content is
// the chunk text only.
func (r *ChunkRecord) Article() *Article {
	return &Article{
		URL:             r.ParentURL,
		Title:           r.Title,
		Content:         r.Text,
		SourceDomain:    r.SourceDomain,
		Authors:         slices.Clone(r.Authors),
		PublishDate:     r.PublishDate,
		TopImage:        r.TopImage,
		MetaKeywords:    slices.Clone(r.MetaKeywords),
		MetaDescription: r.MetaDescription,
		WordCount:       r.WordCount,
		ScrapedAt:       r.ScrapedAt,
		Summary:         r.Summary,
		Topics:          slices.Clone(r.Topics),
	}
}

// ArticleID returns the stable identifier of the article at url.
func ArticleID(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

// ChunkID returns the deterministic ID of chunk index of the article at url.
// All chunk IDs of one article share the prefix FamilyPrefix(url).
func ChunkID(url string, index int) string {
	return FamilyPrefix(url) + strconv.Itoa(index)
}

// FamilyPrefix returns the ID prefix shared by every chunk of url.
func FamilyPrefix(url string) string {
	return ArticleID(url) + ":"
}

// ParseChunkID splits a chunk ID into its article ID and chunk index.
func ParseChunkID(id string) (articleID string, index int, ok bool) {
	articleID, idx, found := strings.Cut(id, ":")
	if !found {
		return "", 0, false
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return articleID, n, true
}

// SearchResult is a query hit. Smaller distances are closer.
type SearchResult struct {
	Record   *ChunkRecord
	Distance float32
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
