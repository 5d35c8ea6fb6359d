package aggregate

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	aggStoreFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logshield_aggregate_store_failures_total",
		Help: "Timeline store operations that failed and were degraded to zero",
	}, []string{"op"})

	aggEventsRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logshield_aggregate_events_recorded_total",
		Help: "Events recorded into activity timelines",
	}, []string{"kind"})
)

func init() {
	_ = prometheus.Register(aggStoreFailures)
	_ = prometheus.Register(aggEventsRecorded)
}

// Config tunes the observation windows behind the derived rates.
type Config struct {
	LoginWindow      time.Duration // login-attempt rate window
	RequestWindow    time.Duration // request rate window
	FailedAuthWindow time.Duration // failed-auth ratio window
	SessionGap       time.Duration // idle gap that ends a session
}

// DefaultConfig returns the windows used by the upstream ingest pipeline.
func DefaultConfig() Config {
	return Config{
		LoginWindow:      time.Minute,
		RequestWindow:    time.Minute,
		FailedAuthWindow: 5 * time.Minute,
		SessionGap:       30 * time.Minute,
	}
}

// EventWriter is the aggregator surface the feature extractor writes through.
type EventWriter interface {
	RecordAttempt(ctx context.Context, identity string, ts time.Time, failed bool)
	RecordRequest(ctx context.Context, identity, endpoint, sourceIP string, ts time.Time)
}

// Aggregator maintains windowed per-identity counters over a TimelineStore.
//
// Every read degrades to zero when the store is unavailable: scoring keeps
// running on partial signal rather than dropping events. Failures are logged
// and counted, never returned.
type Aggregator struct {
	store TimelineStore
	cfg   Config
	log   zerolog.Logger
}

// New creates an Aggregator on the given store, filling zero config fields
// with defaults.
func New(store TimelineStore, cfg Config, log zerolog.Logger) *Aggregator {
	def := DefaultConfig()
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = def.LoginWindow
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = def.RequestWindow
	}
	if cfg.FailedAuthWindow <= 0 {
		cfg.FailedAuthWindow = def.FailedAuthWindow
	}
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = def.SessionGap
	}
	return &Aggregator{store: store, cfg: cfg, log: log.With().Str("component", "aggregate").Logger()}
}

// RecordAttempt records a login attempt, and its failure when failed is set.
// Each timeline is updated independently: a store error on one never blocks
// or rolls back the other.
func (a *Aggregator) RecordAttempt(ctx context.Context, identity string, ts time.Time, failed bool) {
	a.insert(ctx, KindLogin, identity, ts)
	if failed {
		a.insert(ctx, KindFailedAuth, identity, ts)
	}
}

// RecordRequest records request activity: the request timeline, the accessed
// endpoint, and the global source-IP set.
func (a *Aggregator) RecordRequest(ctx context.Context, identity, endpoint, sourceIP string, ts time.Time) {
	a.insert(ctx, KindRequest, identity, ts)

	if endpoint != "" {
		if err := a.store.AddMember(ctx, endpointsKey(identity), endpoint, activityTTL); err != nil {
			a.degrade("add_endpoint", err)
		}
	}
	if sourceIP != "" {
		if err := a.store.AddMember(ctx, sourcesKey, sourceIP, activityTTL); err != nil {
			a.degrade("add_source", err)
		}
	}
}

func (a *Aggregator) insert(ctx context.Context, kind Kind, identity string, ts time.Time) {
	if err := a.store.Insert(ctx, timelineKey(kind, identity), ts, ttlFor(kind)); err != nil {
		a.degrade("insert_"+string(kind), err)
		return
	}
	aggEventsRecorded.WithLabelValues(string(kind)).Inc()
}

// CountInWindow returns the number of events of the given kind for identity
// in (asOf-window, asOf]. A zero or negative window counts nothing. Unknown
// identities and store failures both return 0.
func (a *Aggregator) CountInWindow(ctx context.Context, identity string, kind Kind, window time.Duration, asOf time.Time) int64 {
	if window <= 0 {
		return 0
	}
	count, err := a.store.CountRange(ctx, timelineKey(kind, identity), asOf.Add(-window), asOf)
	if err != nil {
		a.degrade("count_"+string(kind), err)
		return 0
	}
	return count
}

// LoginAttemptsPerMinute returns the per-minute login attempt rate for
// identity as of asOf.
func (a *Aggregator) LoginAttemptsPerMinute(ctx context.Context, identity string, asOf time.Time) float64 {
	count := a.CountInWindow(ctx, identity, KindLogin, a.cfg.LoginWindow, asOf)
	return float64(count) / a.cfg.LoginWindow.Minutes()
}

// RequestsPerSecond returns the per-second request rate for identity.
func (a *Aggregator) RequestsPerSecond(ctx context.Context, identity string, asOf time.Time) float64 {
	count := a.CountInWindow(ctx, identity, KindRequest, a.cfg.RequestWindow, asOf)
	return float64(count) / a.cfg.RequestWindow.Seconds()
}

// FailedAuthRate returns failed attempts as a fraction of all attempts in
// the failed-auth window; 0 when there were no attempts.
func (a *Aggregator) FailedAuthRate(ctx context.Context, identity string, asOf time.Time) float64 {
	total := a.CountInWindow(ctx, identity, KindLogin, a.cfg.FailedAuthWindow, asOf)
	if total == 0 {
		return 0
	}
	failed := a.CountInWindow(ctx, identity, KindFailedAuth, a.cfg.FailedAuthWindow, asOf)
	return float64(failed) / float64(total)
}

// UniqueEndpoints returns how many distinct endpoints identity has accessed
// recently.
func (a *Aggregator) UniqueEndpoints(ctx context.Context, identity string) int64 {
	count, err := a.store.Cardinality(ctx, endpointsKey(identity))
	if err != nil {
		a.degrade("unique_endpoints", err)
		return 0
	}
	return count
}

// UniqueSources returns how many distinct source IPs have been seen recently
// across all identities.
func (a *Aggregator) UniqueSources(ctx context.Context) int64 {
	count, err := a.store.Cardinality(ctx, sourcesKey)
	if err != nil {
		a.degrade("unique_sources", err)
		return 0
	}
	return count
}

// TimeSinceLast returns the elapsed time since identity's previous request.
// Identities with no recorded history return 0, indistinguishable from
// instant re-activity; callers treating long absence as a signal must handle
// that overlap.
func (a *Aggregator) TimeSinceLast(ctx context.Context, identity string, asOf time.Time) time.Duration {
	last, ok, err := a.store.Last(ctx, timelineKey(KindRequest, identity))
	if err != nil {
		a.degrade("last_activity", err)
		return 0
	}
	if !ok {
		return 0
	}
	d := asOf.Sub(last)
	if d < 0 {
		return 0
	}
	return d
}

// SessionDuration returns how long identity's current session has lasted:
// the span from the first request after the most recent idle gap to asOf.
// Returns 0 when there is no history or the last activity is older than the
// session gap.
func (a *Aggregator) SessionDuration(ctx context.Context, identity string, asOf time.Time) time.Duration {
	key := timelineKey(KindRequest, identity)

	last, ok, err := a.store.Last(ctx, key)
	if err != nil {
		a.degrade("session_last", err)
		return 0
	}
	if !ok || asOf.Sub(last) > a.cfg.SessionGap {
		return 0
	}

	first, ok, err := a.store.FirstSince(ctx, key, asOf.Add(-a.cfg.SessionGap))
	if err != nil {
		a.degrade("session_first", err)
		return 0
	}
	if !ok {
		return 0
	}
	d := asOf.Sub(first)
	if d < 0 {
		return 0
	}
	return d
}

func (a *Aggregator) degrade(op string, err error) {
	aggStoreFailures.WithLabelValues(op).Inc()
	a.log.Warn().Err(err).Str("op", op).Msg("timeline store degraded, returning zero")
}
