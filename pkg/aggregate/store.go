// Package aggregate maintains per-identity activity timelines and windowed
// counters backing the behavioral features. Counters live in Redis sorted
// sets keyed by source identity; an in-memory store covers tests and
// single-node deployments.
package aggregate

import (
	"context"
	"time"
)

// Counter kinds. Each kind maps to its own timeline key per identity.
type Kind string

const (
	KindLogin      Kind = "login"
	KindFailedAuth Kind = "failed"
	KindRequest    Kind = "request"
)

// Key retention, mirroring the upstream ingest pipeline: login history is
// kept a week for slow brute-force detection, request activity one hour.
const (
	loginTTL    = 7 * 24 * time.Hour
	activityTTL = time.Hour
)

// TimelineStore is the minimal persistence surface the Aggregator needs.
// Timestamps are stored as sorted-set scores so range counts are a single
// server-side operation.
type TimelineStore interface {
	// Insert appends one occurrence at ts to the timeline at key.
	Insert(ctx context.Context, key string, ts time.Time, ttl time.Duration) error
	// CountRange counts occurrences with from < t <= to.
	CountRange(ctx context.Context, key string, from, to time.Time) (int64, error)
	// Last returns the most recent occurrence on the timeline.
	Last(ctx context.Context, key string) (time.Time, bool, error)
	// FirstSince returns the earliest occurrence with t >= since.
	FirstSince(ctx context.Context, key string, since time.Time) (time.Time, bool, error)
	// AddMember adds member to the set at key.
	AddMember(ctx context.Context, key, member string, ttl time.Duration) error
	// Cardinality returns the number of distinct members in the set at key.
	Cardinality(ctx context.Context, key string) (int64, error)
}

func timelineKey(kind Kind, identity string) string {
	switch kind {
	case KindLogin:
		return "login_attempts:" + identity
	case KindFailedAuth:
		return "login_attempts:failed:" + identity
	default:
		return "requests:" + identity
	}
}

func endpointsKey(identity string) string { return "endpoints:" + identity }

// sourcesKey is the global set of source IPs seen recently. Its TTL doubles
// as the observation window.
const sourcesKey = "sources"

func ttlFor(kind Kind) time.Duration {
	if kind == KindLogin || kind == KindFailedAuth {
		return loginTTL
	}
	return activityTTL
}
