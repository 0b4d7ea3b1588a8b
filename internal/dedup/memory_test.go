package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telemetry-ingest-plane/internal/event/domain"
)

func TestMark_FirstThenDuplicate(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	first, err := s.Mark(ctx, "org1", domain.TypeLog, "k1")
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if !first {
		t.Fatal("first Mark should report first=true")
	}

	first, err = s.Mark(ctx, "org1", domain.TypeLog, "k1")
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if first {
		t.Fatal("second Mark should report first=false")
	}
}

func TestMark_ScopedPerOrgAndType(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s.Mark(ctx, "org1", domain.TypeLog, "k1")

	if first, _ := s.Mark(ctx, "org2", domain.TypeLog, "k1"); !first {
		t.Error("same key in another org should be first")
	}
	if first, _ := s.Mark(ctx, "org1", domain.TypeMetric, "k1"); !first {
		t.Error("same key for another type should be first")
	}
}

func TestMark_ExpiresAfterWindow(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowF = func() time.Time { return now }
	ctx := context.Background()

	s.Mark(ctx, "org1", domain.TypeLog, "k1")

	now = now.Add(59 * time.Minute)
	if first, _ := s.Mark(ctx, "org1", domain.TypeLog, "k1"); first {
		t.Error("key should still be suppressed inside the window")
	}

	now = now.Add(2 * time.Minute)
	if first, _ := s.Mark(ctx, "org1", domain.TypeLog, "k1"); !first {
		t.Error("key should be first again after the window elapses")
	}
}

func TestSeen_DoesNotRecord(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	if seen, _ := s.Seen(ctx, "org1", domain.TypeLog, "k1"); seen {
		t.Fatal("unseen key should not be reported seen")
	}
	if first, _ := s.Mark(ctx, "org1", domain.TypeLog, "k1"); !first {
		t.Fatal("Seen must not consume first-ness")
	}
	if seen, _ := s.Seen(ctx, "org1", domain.TypeLog, "k1"); !seen {
		t.Fatal("marked key should be reported seen")
	}
}

func TestMark_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	var firsts atomic.Int32
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if first, _ := s.Mark(ctx, "org1", domain.TypeLog, "contested"); first {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := firsts.Load(); got != 1 {
		t.Errorf("exactly one Mark should win, got %d", got)
	}
}
