package features

import (
	"context"
	"math"
	"strings"
	"time"

	"logshield/pkg/aggregate"
	"logshield/pkg/event"
)

// Counters is the aggregator surface the extractor reads from and records
// into.
type Counters interface {
	LoginAttemptsPerMinute(ctx context.Context, identity string, asOf time.Time) float64
	RequestsPerSecond(ctx context.Context, identity string, asOf time.Time) float64
	FailedAuthRate(ctx context.Context, identity string, asOf time.Time) float64
	UniqueEndpoints(ctx context.Context, identity string) int64
	UniqueSources(ctx context.Context) int64
	TimeSinceLast(ctx context.Context, identity string, asOf time.Time) time.Duration
	SessionDuration(ctx context.Context, identity string, asOf time.Time) time.Duration
	RecordAttempt(ctx context.Context, identity string, ts time.Time, failed bool)
	RecordRequest(ctx context.Context, identity, endpoint, sourceIP string, ts time.Time)
}

var _ Counters = (*aggregate.Aggregator)(nil)

// Config holds the allow-lists behind the membership features. Matching
// rules differ per field: privileged users match exactly (case folded),
// sensitive endpoints match by prefix, user agents by substring, IPs and
// countries exactly.
type Config struct {
	KnownIPs           []string
	KnownCountries     []string
	PrivilegedUsers    []string
	SensitiveEndpoints []string
	KnownUserAgents    []string
}

// DefaultConfig returns the stock allow-lists.
func DefaultConfig() Config {
	return Config{
		KnownIPs:           []string{"127.0.0.1", "::1"},
		KnownCountries:     []string{"US", "ES", "FR", "DE", "GB"},
		PrivilegedUsers:    []string{"root", "admin", "administrator"},
		SensitiveEndpoints: []string{"/admin", "/api/admin", "/wp-admin", "/phpmyadmin"},
		KnownUserAgents:    []string{"Mozilla", "Chrome", "Safari", "Edge", "Firefox", "curl", "wget"},
	}
}

// Extractor derives feature vectors from events and the identity's recent
// activity.
type Extractor struct {
	counters Counters
	geo      GeoResolver

	knownIPs           map[string]struct{}
	knownCountries     map[string]struct{}
	privilegedUsers    map[string]struct{}
	sensitiveEndpoints []string
	knownUserAgents    []string
}

// NewExtractor creates an Extractor. A nil geo resolver disables distance
// and country signals (distance 0, country unknown).
func NewExtractor(counters Counters, geo GeoResolver, cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.KnownIPs == nil {
		cfg.KnownIPs = def.KnownIPs
	}
	if cfg.KnownCountries == nil {
		cfg.KnownCountries = def.KnownCountries
	}
	if cfg.PrivilegedUsers == nil {
		cfg.PrivilegedUsers = def.PrivilegedUsers
	}
	if cfg.SensitiveEndpoints == nil {
		cfg.SensitiveEndpoints = def.SensitiveEndpoints
	}
	if cfg.KnownUserAgents == nil {
		cfg.KnownUserAgents = def.KnownUserAgents
	}
	if geo == nil {
		geo = noopResolver{}
	}

	e := &Extractor{
		counters:           counters,
		geo:                geo,
		knownIPs:           make(map[string]struct{}, len(cfg.KnownIPs)),
		knownCountries:     make(map[string]struct{}, len(cfg.KnownCountries)),
		privilegedUsers:    make(map[string]struct{}, len(cfg.PrivilegedUsers)),
		sensitiveEndpoints: cfg.SensitiveEndpoints,
		knownUserAgents:    cfg.KnownUserAgents,
	}
	for _, ip := range cfg.KnownIPs {
		e.knownIPs[ip] = struct{}{}
	}
	for _, c := range cfg.KnownCountries {
		e.knownCountries[c] = struct{}{}
	}
	for _, u := range cfg.PrivilegedUsers {
		e.privilegedUsers[strings.ToLower(u)] = struct{}{}
	}
	return e
}

// Extract computes the feature vector for rec, then records the event into
// the counters. The vector reflects the identity's state immediately before
// this event; two identical events in a row therefore produce different
// frequency features.
func (e *Extractor) Extract(ctx context.Context, rec *event.Record) *Vector {
	rec.Normalize()
	identity := rec.Identity()
	ts := rec.Timestamp

	v := &Vector{}

	hour := ts.Hour()
	// Weekday with Monday as 0.
	dow := (int(ts.Weekday()) + 6) % 7
	v.HourOfDay = float64(hour)
	v.DayOfWeek = float64(dow)
	v.IsWeekend = boolFeature(dow == 5 || dow == 6)
	v.IsBusinessHours = boolFeature(hour >= 9 && hour < 18)

	v.LoginAttemptsPerMinute = e.counters.LoginAttemptsPerMinute(ctx, identity, ts)
	v.RequestsPerSecond = e.counters.RequestsPerSecond(ctx, identity, ts)
	v.UniqueIPsLastHour = float64(e.counters.UniqueSources(ctx))
	v.UniqueEndpointsAccessed = float64(e.counters.UniqueEndpoints(ctx, identity))

	v.FailedAuthRate = e.counters.FailedAuthRate(ctx, identity, ts)
	v.ErrorRate4xx = boolFeature(rec.StatusCode >= 400 && rec.StatusCode < 500)
	v.ErrorRate5xx = boolFeature(rec.StatusCode >= 500 && rec.StatusCode < 600)

	country, distanceKm := e.geo.Lookup(rec.SourceIP)
	if rec.Country != "" {
		country = rec.Country
	}
	v.GeographicDistanceKm = distanceKm
	v.IsKnownCountry = boolFeature(e.isKnownCountry(country))
	v.IsKnownIP = boolFeature(e.isKnownIP(rec.SourceIP))

	v.BytesTransferred = math.Log1p(float64(rec.BytesSent))
	v.TimeSinceLastActivity = e.counters.TimeSinceLast(ctx, identity, ts).Seconds()
	v.SessionDuration = e.counters.SessionDuration(ctx, identity, ts).Seconds()
	v.PayloadEntropy = Entropy(rec.Payload)

	v.IsPrivilegedUser = boolFeature(e.isPrivilegedUser(rec.Username))
	v.IsSensitiveEndpoint = boolFeature(e.isSensitiveEndpoint(rec.Endpoint))
	v.IsKnownUserAgent = boolFeature(e.isKnownUserAgent(rec.UserAgent))

	e.record(ctx, rec, identity, ts)
	return v
}

func (e *Extractor) record(ctx context.Context, rec *event.Record, identity string, ts time.Time) {
	e.counters.RecordRequest(ctx, identity, rec.Endpoint, rec.SourceIP, ts)
	if rec.IsAuthAttempt() {
		e.counters.RecordAttempt(ctx, identity, ts, rec.IsAuthFailure())
	}
}

func (e *Extractor) isKnownIP(ip string) bool {
	_, ok := e.knownIPs[ip]
	return ok
}

func (e *Extractor) isKnownCountry(country string) bool {
	_, ok := e.knownCountries[country]
	return ok
}

func (e *Extractor) isPrivilegedUser(username string) bool {
	if username == "" {
		return false
	}
	_, ok := e.privilegedUsers[strings.ToLower(username)]
	return ok
}

func (e *Extractor) isSensitiveEndpoint(endpoint string) bool {
	for _, prefix := range e.sensitiveEndpoints {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

func (e *Extractor) isKnownUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	for _, known := range e.knownUserAgents {
		if strings.Contains(ua, known) {
			return true
		}
	}
	return false
}

// Entropy returns the Shannon entropy of data in bits per byte (0 for the
// empty string, up to 8 for uniformly random bytes). Payloads above ~7 are
// typically compressed or encrypted.
func Entropy(data string) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for i := 0; i < len(data); i++ {
		counts[data[i]]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
