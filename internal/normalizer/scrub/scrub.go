// Package scrub removes PII from telemetry payloads before storage. Detected
// values are replaced with [REDACTED:<category>] markers; scrubbing is
// idempotent, so re-processing an already scrubbed payload never stacks
// markers or corrupts them.
package scrub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"regexp"
	"sort"
	"strings"
)

// Redaction categories used in markers and counts.
const (
	CategoryEmail      = "EMAIL"
	CategoryIP         = "IP"
	CategorySSN        = "SSN"
	CategoryCreditCard = "CC"
	CategorySensitive  = "SENSITIVE"
)

var (
	// markerRe matches markers emitted by this package, with or without the
	// keyed-hash suffix. Segments between markers are the only text scanned.
	markerRe = regexp.MustCompile(`\[REDACTED:[A-Z_]+(?::[0-9a-f]{8})?\]`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	ipv4Re  = regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`)
	ipv6Re  = regexp.MustCompile(`(?:[0-9A-Fa-f]{1,4}:){2,7}[0-9A-Fa-f:]{1,45}`)
	ssnRe   = regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)
	// Digit runs with optional single space/dash separators; Luhn-validated
	// before redaction so timestamps and IDs are not swallowed.
	cardRe = regexp.MustCompile(`\d(?:[ -]?\d){12,18}`)

	sensitiveKeyHints = []string{
		"password", "passwd", "secret", "token", "api_key", "apikey",
		"authorization", "credential", "private_key", "ssn",
		"credit_card", "card_number", "cvv",
	}
)

// Result accumulates what scrubbing found across all fields of one envelope.
type Result struct {
	// Redactions counts replaced values per category.
	Redactions map[string]int
	// IPs holds IP literals found in the payload, captured before redaction
	// so enrichment can still geolocate them.
	IPs []string
}

func (r *Result) count(category string) {
	if r.Redactions == nil {
		r.Redactions = make(map[string]int)
	}
	r.Redactions[category]++
}

// Scrubber replaces PII with markers. With a hash secret configured, each
// marker carries a short keyed hash of the original value so operators holding
// the secret can correlate redacted values without recovering them.
type Scrubber struct {
	hashSecret []byte
}

// New returns a Scrubber. hashSecret may be empty; markers then carry no hash.
func New(hashSecret string) *Scrubber {
	var key []byte
	if hashSecret != "" {
		key = []byte(hashSecret)
	}
	return &Scrubber{hashSecret: key}
}

// Text scrubs free-form text (log messages, URLs, span names) and records
// findings in res.
func (s *Scrubber) Text(text string, res *Result) string {
	if text == "" {
		return text
	}

	// Existing markers are carried through untouched. Only the segments
	// between them are scanned, which is what makes scrubbing idempotent.
	markers := markerRe.FindAllStringIndex(text, -1)
	if len(markers) == 0 {
		return s.scrubSegment(text, res)
	}

	var b strings.Builder
	prev := 0
	for _, m := range markers {
		b.WriteString(s.scrubSegment(text[prev:m[0]], res))
		b.WriteString(text[m[0]:m[1]])
		prev = m[1]
	}
	b.WriteString(s.scrubSegment(text[prev:], res))
	return b.String()
}

// Map scrubs attribute maps: values whose key names suggest credentials are
// redacted wholesale, all other values are scanned like free text.
func (s *Scrubber) Map(attrs map[string]string, res *Result) map[string]string {
	if len(attrs) == 0 {
		return attrs
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if sensitiveKey(k) {
			if markerRe.MatchString(v) && markerRe.FindString(v) == v {
				out[k] = v // already redacted
				continue
			}
			out[k] = s.marker(CategorySensitive, v)
			res.count(CategorySensitive)
			continue
		}
		out[k] = s.Text(v, res)
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range sensitiveKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

type match struct {
	start, end int
	category   string
	value      string
}

// scrubSegment scans marker-free text for PII and replaces every finding.
func (s *Scrubber) scrubSegment(text string, res *Result) string {
	if text == "" {
		return text
	}
	var matches []match

	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		matches = append(matches, match{loc[0], loc[1], CategoryEmail, text[loc[0]:loc[1]]})
	}
	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if ip := net.ParseIP(v); ip != nil {
			matches = append(matches, match{loc[0], loc[1], CategoryIP, v})
		}
	}
	for _, loc := range ipv6Re.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if ip := net.ParseIP(v); ip != nil && strings.Contains(v, ":") {
			matches = append(matches, match{loc[0], loc[1], CategoryIP, v})
		}
	}
	for _, loc := range ssnRe.FindAllStringIndex(text, -1) {
		matches = append(matches, match{loc[0], loc[1], CategorySSN, text[loc[0]:loc[1]]})
	}
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		digits := strings.Map(keepDigit, v)
		if len(digits) >= 13 && len(digits) <= 19 && luhnValid(digits) {
			matches = append(matches, match{loc[0], loc[1], CategoryCreditCard, v})
		}
	}

	if len(matches) == 0 {
		return text
	}

	// Leftmost-longest wins when detectors overlap.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end > matches[j].end
	})

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		if m.start < prev {
			continue
		}
		b.WriteString(text[prev:m.start])
		b.WriteString(s.marker(m.category, m.value))
		res.count(m.category)
		if m.category == CategoryIP {
			res.IPs = append(res.IPs, m.value)
		}
		prev = m.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// marker renders [REDACTED:<category>] with an optional keyed-hash suffix.
func (s *Scrubber) marker(category, value string) string {
	if len(s.hashSecret) == 0 {
		return "[REDACTED:" + category + "]"
	}
	mac := hmac.New(sha256.New, s.hashSecret)
	mac.Write([]byte(value))
	return "[REDACTED:" + category + ":" + hex.EncodeToString(mac.Sum(nil))[:8] + "]"
}

func keepDigit(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

// luhnValid reports whether digits passes the Luhn checksum.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
