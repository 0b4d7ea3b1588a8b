package query

import (
	"sort"

	"telemetry-ingest-plane/internal/storage/analytical"
)

// TraceNode is one span with its resolved children.
type TraceNode struct {
	Span     *analytical.SpanRecord `json:"span"`
	Children []*TraceNode           `json:"children,omitempty"`
}

// AssembleTrace builds span trees from a flat span set. A span whose parent
// is absent from the set is treated as a root rather than an error, so
// partially ingested traces still render. Roots and children are ordered by
// start time.
func AssembleTrace(spans []*analytical.SpanRecord) []*TraceNode {
	if len(spans) == 0 {
		return nil
	}

	nodes := make(map[string]*TraceNode, len(spans))
	for _, s := range spans {
		nodes[s.SpanID] = &TraceNode{Span: s}
	}

	var roots []*TraceNode
	for _, s := range spans {
		node := nodes[s.SpanID]
		if s.ParentSpanID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[s.ParentSpanID]
		if !ok || parent == node {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

func sortNodes(nodes []*TraceNode) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Span.StartTime.Before(nodes[j].Span.StartTime)
	})
}
