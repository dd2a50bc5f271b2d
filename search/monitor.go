package search

import (
	"github.com/poiesic/skillgraph/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string, classes []core.EntityClass)
	AfterSemanticSearch(ids []core.ID)
	SemanticHit(obj *core.Object, score float32)
	LabelHit(obj *core.Object)
	Finish(results []*core.SearchResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ []core.EntityClass)  {}
func (n *noopMonitor) AfterSemanticSearch(_ []core.ID)       {}
func (n *noopMonitor) SemanticHit(_ *core.Object, _ float32) {}
func (n *noopMonitor) LabelHit(_ *core.Object)               {}
func (n *noopMonitor) Finish(_ []*core.SearchResult)         {}
