// Package reembed recomputes the vectors of every stored chunk, typically
// after switching embedding models.
//
// Chunks are read in batches, embedded with retry and exponential backoff,
// and written back with their metadata untouched. Progress is reported to a
// writer and checkpointed after each batch so an interrupted run resumes
// where it stopped.
package reembed
