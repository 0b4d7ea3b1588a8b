package timeseries

import (
	"context"
	"testing"
	"time"
)

func TestLabelHash(t *testing.T) {
	a := labelHash(map[string]string{"host": "a", "region": "eu"})
	b := labelHash(map[string]string{"region": "eu", "host": "a"})
	if a != b {
		t.Errorf("hash must be order-independent: %q vs %q", a, b)
	}
	if a == labelHash(map[string]string{"host": "b", "region": "eu"}) {
		t.Error("different label sets must not collide")
	}
	if got := labelHash(nil); got != "none" {
		t.Errorf("empty labels hash = %q, want none", got)
	}
	// Value containing the separator must not alias another set.
	x := labelHash(map[string]string{"a": "b,c=d"})
	y := labelHash(map[string]string{"a": "b", "c": "d"})
	if len(x) != 16 || len(y) != 16 {
		t.Errorf("hash lengths = %d, %d, want 16 hex chars", len(x), len(y))
	}
}

func TestParseMember(t *testing.T) {
	p, ok := parseMember("1767225600000:42.5")
	if !ok {
		t.Fatal("valid member not parsed")
	}
	if p.Value != 42.5 {
		t.Errorf("value = %v", p.Value)
	}
	want := time.UnixMilli(1767225600000).UTC()
	if !p.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", p.Timestamp, want)
	}

	for _, bad := range []string{"", "noseparator", "abc:1.0", "123:xyz"} {
		if _, ok := parseMember(bad); ok {
			t.Errorf("parseMember(%q) should fail", bad)
		}
	}
}

func TestLabelsMatch(t *testing.T) {
	have := map[string]string{"host": "a", "region": "eu", "env": "prod"}
	cases := []struct {
		want map[string]string
		ok   bool
	}{
		{nil, true},
		{map[string]string{"host": "a"}, true},
		{map[string]string{"host": "a", "env": "prod"}, true},
		{map[string]string{"host": "b"}, false},
		{map[string]string{"zone": "1"}, false},
	}
	for _, tc := range cases {
		if got := labelsMatch(have, tc.want); got != tc.ok {
			t.Errorf("labelsMatch(%v) = %v, want %v", tc.want, got, tc.ok)
		}
	}
	if labelsMatch(nil, map[string]string{"host": "a"}) {
		t.Error("unlabeled series must not match a selector")
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	var repo Repository = Disabled{}
	if err := repo.SavePoint(ctx, nil); err != nil {
		t.Errorf("SavePoint: %v", err)
	}
	series, err := repo.Range(ctx, "org1", "cpu", nil, time.Time{}, time.Time{})
	if err != nil || series != nil {
		t.Errorf("Range = %v, %v", series, err)
	}
}
