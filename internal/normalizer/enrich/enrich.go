// Package enrich derives supplemental fields for telemetry envelopes:
// canonical event time, coarse geolocation from detected IPs, and parsed
// user-agent details. Enrichment is additive and best-effort; a missing GeoIP
// database or an unparseable user agent never fails an event.
package enrich

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/mileusna/useragent"
	"github.com/oschwald/geoip2-golang"

	"telemetry-ingest-plane/internal/event/domain"
)

// Attribute keys inspected for a user agent, in priority order.
var userAgentKeys = []string{"user_agent", "http.user_agent", "useragent"}

// Enricher resolves geolocation and user-agent details. The zero value (no
// GeoIP database, no cache) still produces event times and browser info.
type Enricher struct {
	geo     *geoip2.Reader
	uaCache *bigcache.BigCache
}

// New opens the GeoIP database at geoDBPath if non-empty and sets up the
// user-agent parse cache. A missing or unreadable database is logged and
// geolocation is skipped.
func New(geoDBPath string) *Enricher {
	e := &Enricher{}
	if geoDBPath != "" {
		reader, err := geoip2.Open(geoDBPath)
		if err != nil {
			log.Printf("enrich: geoip database %s unavailable, geolocation disabled: %v", geoDBPath, err)
		} else {
			e.geo = reader
		}
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(time.Hour))
	if err != nil {
		log.Printf("enrich: user-agent cache unavailable: %v", err)
	} else {
		e.uaCache = cache
	}
	return e
}

// Close releases the GeoIP reader and cache.
func (e *Enricher) Close() error {
	if e.uaCache != nil {
		_ = e.uaCache.Close()
	}
	if e.geo != nil {
		return e.geo.Close()
	}
	return nil
}

// Apply fills env.Enrichment: canonical UTC event time, geolocation from the
// first resolvable IP in ips (detected during scrubbing, falling back to the
// envelope's source address), and browser info from a user-agent attribute.
// redactions is recorded as-is.
func (e *Enricher) Apply(env *domain.Envelope, ips []string, redactions map[string]int) {
	enr := &domain.Enrichment{
		EventTime:  eventTime(env),
		Redactions: redactions,
	}

	candidates := ips
	if env.SourceAddr != "" {
		candidates = append(candidates, hostOnly(env.SourceAddr))
	}
	for _, ip := range candidates {
		if geo := e.lookupGeo(ip); geo != nil {
			enr.Geo = geo
			break
		}
	}

	if ua := userAgentFrom(env); ua != "" {
		enr.Browser = e.parseUserAgent(ua)
	}

	env.Enrichment = enr
}

// eventTime normalizes the source timestamp to UTC, falling back to the
// arrival time when the source did not provide one.
func eventTime(env *domain.Envelope) time.Time {
	if env.SourceTimestamp != nil && !env.SourceTimestamp.IsZero() {
		return env.SourceTimestamp.UTC()
	}
	return env.ReceivedAt.UTC()
}

func (e *Enricher) lookupGeo(ipStr string) *domain.GeoInfo {
	if e.geo == nil {
		return nil
	}
	ip := net.ParseIP(ipStr)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return nil
	}
	city, err := e.geo.City(ip)
	if err != nil || city.Country.IsoCode == "" {
		return nil
	}
	return &domain.GeoInfo{
		Country: city.Country.IsoCode,
		City:    city.City.Names["en"],
	}
}

// parseUserAgent parses ua, consulting the cache first. Parse results are
// cached as a compact encoding since the same agent strings repeat heavily
// within a deployment.
func (e *Enricher) parseUserAgent(ua string) *domain.BrowserInfo {
	if e.uaCache != nil {
		if raw, err := e.uaCache.Get(ua); err == nil {
			return decodeBrowser(raw)
		}
	}
	parsed := useragent.Parse(ua)
	info := &domain.BrowserInfo{
		Name:    parsed.Name,
		Version: parsed.Version,
		OS:      parsed.OS,
		Mobile:  parsed.Mobile || parsed.Tablet,
		Bot:     parsed.Bot,
	}
	if e.uaCache != nil {
		_ = e.uaCache.Set(ua, encodeBrowser(info))
	}
	return info
}

// userAgentFrom returns the first user-agent attribute present on the body.
func userAgentFrom(env *domain.Envelope) string {
	var attrs map[string]string
	switch {
	case env.Log != nil:
		attrs = env.Log.Attributes
	case env.Rum != nil:
		attrs = env.Rum.Attributes
	}
	for _, key := range userAgentKeys {
		if v, ok := attrs[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// encodeBrowser/decodeBrowser use a small tab-separated record rather than
// JSON: the cache is on the per-event hot path.
func encodeBrowser(b *domain.BrowserInfo) []byte {
	flags := byte('0')
	if b.Mobile {
		flags |= 1
	}
	if b.Bot {
		flags |= 2
	}
	out := make([]byte, 0, len(b.Name)+len(b.Version)+len(b.OS)+4)
	out = append(out, b.Name...)
	out = append(out, '\t')
	out = append(out, b.Version...)
	out = append(out, '\t')
	out = append(out, b.OS...)
	out = append(out, '\t')
	out = append(out, flags)
	return out
}

func decodeBrowser(raw []byte) *domain.BrowserInfo {
	var fields [4][]byte
	idx := 0
	start := 0
	for i := 0; i < len(raw) && idx < 3; i++ {
		if raw[i] == '\t' {
			fields[idx] = raw[start:i]
			idx++
			start = i + 1
		}
	}
	fields[3] = raw[start:]
	info := &domain.BrowserInfo{
		Name:    string(fields[0]),
		Version: string(fields[1]),
		OS:      string(fields[2]),
	}
	if len(fields[3]) == 1 {
		info.Mobile = fields[3][0]&1 != 0
		info.Bot = fields[3][0]&2 != 0
	}
	return info
}

// hostOnly strips a port from host:port source addresses.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
