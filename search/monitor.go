package search

import (
	"github.com/poiesic/gazette/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterEmbedding(vector []float32)
	AfterQuery(k int, results []*core.SearchResult)
	DuplicateSource(result *core.SearchResult)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                           {}
func (n *noopMonitor) AfterEmbedding(_ []float32)               {}
func (n *noopMonitor) AfterQuery(_ int, _ []*core.SearchResult) {}
func (n *noopMonitor) DuplicateSource(_ *core.SearchResult)     {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)            {}
