package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MetadataSchemaVersion is written to every encoded metadata map.
const MetadataSchemaVersion = "1"

// Metadata keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaURL           = "url"
	MetaTitle         = "title"
	MetaSourceDomain  = "source_domain"
	MetaWordCount     = "word_count"
	MetaScrapedAt     = "scraped_at"
	MetaAuthors       = "authors"
	MetaKeywords      = "meta_keywords"
	MetaTopics        = "topics"
	MetaPublishDate   = "publish_date"
	MetaTopImage      = "top_image"
	MetaDescription   = "meta_description"
	MetaSummary       = "summary"
	MetaChunkIndex    = "chunk_index"
	MetaChunkCount    = "chunk_count"
	MetaFingerprint   = "fingerprint"
)

// Metadata is the flat scalar form of a record's fields, as stored next to
// its vector and matched by filters.
type Metadata map[string]string

// EncodeMetadata flattens record into scalar metadata. List fields become
// JSON arrays, times become RFC 3339 strings and optional empty fields are
// omitted.
func EncodeMetadata(record *ChunkRecord) Metadata {
	meta := Metadata{
		MetaSchemaVersion: MetadataSchemaVersion,
		MetaURL:           record.ParentURL,
		MetaTitle:         record.Title,
		MetaSourceDomain:  record.SourceDomain,
		MetaWordCount:     strconv.Itoa(record.WordCount),
		MetaScrapedAt:     record.ScrapedAt.Format(time.RFC3339Nano),
		MetaAuthors:       encodeList(record.Authors),
		MetaKeywords:      encodeList(record.MetaKeywords),
		MetaTopics:        encodeList(record.Topics),
		MetaChunkIndex:    strconv.Itoa(record.ChunkIndex),
		MetaChunkCount:    strconv.Itoa(record.ChunkCount),
		MetaFingerprint:   record.Fingerprint,
	}
	if !record.PublishDate.IsZero() {
		meta[MetaPublishDate] = record.PublishDate.Format(time.RFC3339Nano)
	}
	if record.TopImage != "" {
		meta[MetaTopImage] = record.TopImage
	}
	if record.MetaDescription != "" {
		meta[MetaDescription] = record.MetaDescription
	}
	if record.Summary != "" {
		meta[MetaSummary] = record.Summary
	}
	return meta
}

// DecodeMetadata rebuilds a record from its ID, text and encoded metadata.
// Store-managed fields are left zero.
func DecodeMetadata(id, text string, meta Metadata) (*ChunkRecord, error) {
	if v := meta[MetaSchemaVersion]; v != MetadataSchemaVersion {
		return nil, fmt.Errorf("unsupported metadata schema version %q", v)
	}
	record := &ChunkRecord{
		ID:              id,
		ParentURL:       meta[MetaURL],
		Text:            text,
		Fingerprint:     meta[MetaFingerprint],
		Title:           meta[MetaTitle],
		SourceDomain:    meta[MetaSourceDomain],
		TopImage:        meta[MetaTopImage],
		MetaDescription: meta[MetaDescription],
		Summary:         meta[MetaSummary],
	}

	var err error
	if record.WordCount, err = strconv.Atoi(meta[MetaWordCount]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaWordCount, err)
	}
	if record.ChunkIndex, err = strconv.Atoi(meta[MetaChunkIndex]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaChunkIndex, err)
	}
	if record.ChunkCount, err = strconv.Atoi(meta[MetaChunkCount]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaChunkCount, err)
	}
	if record.ScrapedAt, err = time.Parse(time.RFC3339Nano, meta[MetaScrapedAt]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaScrapedAt, err)
	}
	if v, ok := meta[MetaPublishDate]; ok {
		if record.PublishDate, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", MetaPublishDate, err)
		}
	}
	if record.Authors, err = decodeList(meta[MetaAuthors]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaAuthors, err)
	}
	if record.MetaKeywords, err = decodeList(meta[MetaKeywords]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaKeywords, err)
	}
	if record.Topics, err = decodeList(meta[MetaTopics]); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", MetaTopics, err)
	}
	return record, nil
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	// Values are valid UTF-8 after validation, so Marshal cannot fail.
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Filter restricts queries and deletions to records whose encoded metadata
// contains every key with exactly the given value. An empty filter matches
// everything.
type Filter map[string]string

// Matches reports whether meta satisfies every condition of f.
func (f Filter) Matches(meta Metadata) bool {
	for k, v := range f {
		if got, ok := meta[k]; !ok || got != v {
			return false
		}
	}
	return true
}
