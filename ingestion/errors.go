package ingestion

import "errors"

var (
	// ErrCollectionRequired is returned when a collection is not provided.
	ErrCollectionRequired = errors.New("collection required")

	// ErrFetcherRequired is returned when IngestURLs is called without a fetcher.
	ErrFetcherRequired = errors.New("fetcher required")
)
