package scrub

import (
	"strings"
	"testing"
)

func newResult() *Result { return &Result{} }

func TestText_Email(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("user alice@example.com logged in", res)
	want := "user [REDACTED:EMAIL] logged in"
	if got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
	if res.Redactions[CategoryEmail] != 1 {
		t.Errorf("email redactions = %d, want 1", res.Redactions[CategoryEmail])
	}
}

func TestText_IPv4CapturedForEnrichment(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("request from 203.0.113.9 failed", res)
	if got != "request from [REDACTED:IP] failed" {
		t.Errorf("Text = %q", got)
	}
	if len(res.IPs) != 1 || res.IPs[0] != "203.0.113.9" {
		t.Errorf("IPs = %v, want [203.0.113.9]", res.IPs)
	}
}

func TestText_IPv6(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("peer 2001:db8::8a2e:370:7334 disconnected", res)
	if !strings.Contains(got, "[REDACTED:IP]") {
		t.Errorf("IPv6 literal not redacted: %q", got)
	}
	if len(res.IPs) != 1 {
		t.Errorf("IPs = %v, want one entry", res.IPs)
	}
}

func TestText_InvalidIPNotRedacted(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("version 999.999.999.999 deployed", res)
	if strings.Contains(got, "REDACTED") {
		t.Errorf("out-of-range octets should not be treated as an IP: %q", got)
	}
}

func TestText_SSN(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("ssn 123-45-6789 on file", res)
	if got != "ssn [REDACTED:SSN] on file" {
		t.Errorf("Text = %q", got)
	}
}

func TestText_CreditCardLuhnValid(t *testing.T) {
	s := New("")
	for _, card := range []string{
		"4111111111111111",
		"4111 1111 1111 1111",
		"5500-0000-0000-0004",
	} {
		res := newResult()
		got := s.Text("paid with "+card, res)
		if !strings.Contains(got, "[REDACTED:CC]") {
			t.Errorf("card %q not redacted: %q", card, got)
		}
		if res.Redactions[CategoryCreditCard] != 1 {
			t.Errorf("card %q redaction count = %d", card, res.Redactions[CategoryCreditCard])
		}
	}
}

func TestText_DigitRunFailingLuhnKept(t *testing.T) {
	s := New("")
	res := newResult()

	in := "order id 1234567890123456 created"
	if got := s.Text(in, res); got != in {
		t.Errorf("non-Luhn digit run must not be redacted: %q", got)
	}
}

func TestText_Idempotent(t *testing.T) {
	s := New("")
	in := "alice@example.com from 203.0.113.9 card 4111111111111111 ssn 123-45-6789"

	first := s.Text(in, newResult())
	second := s.Text(first, newResult())
	if first != second {
		t.Errorf("scrub not idempotent:\n first = %q\nsecond = %q", first, second)
	}

	res := newResult()
	s.Text(first, res)
	if len(res.Redactions) != 0 {
		t.Errorf("re-scrub of clean text reported redactions: %v", res.Redactions)
	}
}

func TestText_IdempotentWithHashMarkers(t *testing.T) {
	s := New("corr-secret")
	in := "alice@example.com from 203.0.113.9"

	first := s.Text(in, newResult())
	second := s.Text(first, newResult())
	if first != second {
		t.Errorf("hashed markers not stable:\n first = %q\nsecond = %q", first, second)
	}
}

func TestText_HashSuffixDeterministic(t *testing.T) {
	s := New("corr-secret")

	a := s.Text("alice@example.com", newResult())
	b := s.Text("contact alice@example.com today", newResult())
	if !strings.Contains(b, a) {
		t.Errorf("same value should produce the same marker: %q vs %q", a, b)
	}
	if a == "[REDACTED:EMAIL]" {
		t.Error("marker should carry a hash suffix when a secret is configured")
	}

	other := s.Text("bob@example.com", newResult())
	if a == other {
		t.Error("different values should hash to different markers")
	}
}

func TestText_MultipleFindings(t *testing.T) {
	s := New("")
	res := newResult()

	got := s.Text("alice@example.com wired 4111111111111111 from 203.0.113.9", res)
	for _, cat := range []string{CategoryEmail, CategoryCreditCard, CategoryIP} {
		if res.Redactions[cat] != 1 {
			t.Errorf("%s redactions = %d, want 1", cat, res.Redactions[cat])
		}
	}
	if strings.Contains(got, "alice") || strings.Contains(got, "4111") {
		t.Errorf("PII leaked: %q", got)
	}
}

func TestMap_SensitiveKeyRedactedWholesale(t *testing.T) {
	s := New("")
	res := newResult()

	out := s.Map(map[string]string{
		"password":   "hunter2",
		"auth_token": "abc.def.ghi",
		"user":       "alice",
	}, res)

	if out["password"] != "[REDACTED:SENSITIVE]" {
		t.Errorf("password = %q", out["password"])
	}
	if out["auth_token"] != "[REDACTED:SENSITIVE]" {
		t.Errorf("auth_token = %q", out["auth_token"])
	}
	if out["user"] != "alice" {
		t.Errorf("non-sensitive key altered: %q", out["user"])
	}
	if res.Redactions[CategorySensitive] != 2 {
		t.Errorf("sensitive redactions = %d, want 2", res.Redactions[CategorySensitive])
	}
}

func TestMap_ValueScannedLikeText(t *testing.T) {
	s := New("")
	res := newResult()

	out := s.Map(map[string]string{"note": "reach me at alice@example.com"}, res)
	if out["note"] != "reach me at [REDACTED:EMAIL]" {
		t.Errorf("note = %q", out["note"])
	}
}

func TestMap_Idempotent(t *testing.T) {
	s := New("")
	in := map[string]string{"password": "hunter2", "note": "alice@example.com"}

	first := s.Map(in, newResult())
	second := s.Map(first, newResult())
	for k := range first {
		if first[k] != second[k] {
			t.Errorf("key %q changed on re-scrub: %q -> %q", k, first[k], second[k])
		}
	}
}

func TestText_Empty(t *testing.T) {
	s := New("")
	if got := s.Text("", newResult()); got != "" {
		t.Errorf("Text(\"\") = %q", got)
	}
}
