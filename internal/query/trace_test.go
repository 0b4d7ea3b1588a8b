package query

import (
	"testing"
	"time"

	"telemetry-ingest-plane/internal/storage/analytical"
)

func span(spanID, parentID string, startOffset time.Duration) *analytical.SpanRecord {
	return &analytical.SpanRecord{
		TraceID:      "t1",
		SpanID:       spanID,
		ParentSpanID: parentID,
		Name:         "op-" + spanID,
		StartTime:    t0.Add(startOffset),
	}
}

func TestAssembleTrace_Tree(t *testing.T) {
	spans := []*analytical.SpanRecord{
		span("root", "", 0),
		span("child-b", "root", 20*time.Millisecond),
		span("child-a", "root", 10*time.Millisecond),
		span("grandchild", "child-a", 15*time.Millisecond),
	}

	roots := AssembleTrace(spans)
	if len(roots) != 1 {
		t.Fatalf("roots = %d, want 1", len(roots))
	}
	root := roots[0]
	if root.Span.SpanID != "root" {
		t.Fatalf("root = %q", root.Span.SpanID)
	}
	if len(root.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(root.Children))
	}
	// Children ordered by start time.
	if root.Children[0].Span.SpanID != "child-a" || root.Children[1].Span.SpanID != "child-b" {
		t.Errorf("child order = %q, %q", root.Children[0].Span.SpanID, root.Children[1].Span.SpanID)
	}
	if len(root.Children[0].Children) != 1 || root.Children[0].Children[0].Span.SpanID != "grandchild" {
		t.Error("grandchild not attached to child-a")
	}
}

func TestAssembleTrace_DanglingParentBecomesRoot(t *testing.T) {
	spans := []*analytical.SpanRecord{
		span("root", "", 0),
		span("orphan", "never-ingested", 5*time.Millisecond),
	}

	roots := AssembleTrace(spans)
	if len(roots) != 2 {
		t.Fatalf("roots = %d, want 2 (orphan promoted)", len(roots))
	}
	if roots[0].Span.SpanID != "root" || roots[1].Span.SpanID != "orphan" {
		t.Errorf("roots = %q, %q", roots[0].Span.SpanID, roots[1].Span.SpanID)
	}
}

func TestAssembleTrace_SelfParentBecomesRoot(t *testing.T) {
	roots := AssembleTrace([]*analytical.SpanRecord{span("a", "a", 0)})
	if len(roots) != 1 {
		t.Fatalf("roots = %d, want 1", len(roots))
	}
}

func TestAssembleTrace_Empty(t *testing.T) {
	if roots := AssembleTrace(nil); roots != nil {
		t.Errorf("roots = %v, want nil", roots)
	}
}
