// Package ingestion turns articles into persisted chunk families.
//
// The Pipeline validates an article, optionally enriches it with a summary
// and topics, splits its text into overlapping spans and writes the spans
// as one family through storage.Collection.ReplaceFamily. Re-ingesting an
// unchanged article is a no-op.
//
// Remote work (fetching and enrichment) is dispatched through a
// throttle.Gate. Batches run on an ants worker pool; a failing article
// never aborts its siblings.
package ingestion
