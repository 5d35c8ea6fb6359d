package features

import "net"

// GeoResolver maps a source IP to its country and distance from the
// deployment's usual location. Implementations must be deterministic for a
// given IP; external enrichment services sit behind this interface.
type GeoResolver interface {
	Lookup(ip string) (country string, distanceKm float64)
}

type noopResolver struct{}

func (noopResolver) Lookup(string) (string, float64) { return "", 0 }

// StaticGeoEntry binds a CIDR block to a location.
type StaticGeoEntry struct {
	CIDR       string  `yaml:"cidr" json:"cidr"`
	Country    string  `yaml:"country" json:"country"`
	DistanceKm float64 `yaml:"distance_km" json:"distance_km"`
}

// StaticResolver resolves IPs against a fixed CIDR table. Loopback and
// private ranges default to the home country at distance zero; unmatched
// IPs resolve to the fallback entry.
type StaticResolver struct {
	entries  []staticEntry
	home     string
	fallback StaticGeoEntry
}

type staticEntry struct {
	net        *net.IPNet
	country    string
	distanceKm float64
}

// NewStaticResolver builds a resolver from the given table. Invalid CIDRs
// are skipped.
func NewStaticResolver(homeCountry string, fallback StaticGeoEntry, table []StaticGeoEntry) *StaticResolver {
	r := &StaticResolver{home: homeCountry, fallback: fallback}
	for _, e := range table {
		_, ipnet, err := net.ParseCIDR(e.CIDR)
		if err != nil {
			continue
		}
		r.entries = append(r.entries, staticEntry{net: ipnet, country: e.Country, distanceKm: e.DistanceKm})
	}
	return r
}

// Lookup resolves ip. First match in table order wins.
func (r *StaticResolver) Lookup(ip string) (string, float64) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return r.fallback.Country, r.fallback.DistanceKm
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return r.home, 0
	}
	for _, e := range r.entries {
		if e.net.Contains(parsed) {
			return e.country, e.distanceKm
		}
	}
	return r.fallback.Country, r.fallback.DistanceKm
}
