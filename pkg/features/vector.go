// Package features turns normalized events into the fixed-width numeric
// vectors the anomaly models consume.
package features

// Dim is the width of every feature vector. Model artifacts are bound to
// this width; changing it invalidates trained models.
const Dim = 21

// Vector is one extracted feature vector. Field order is frozen: Slice and
// Names emit the positions the models were trained on.
type Vector struct {
	// Temporal
	HourOfDay       float64 `json:"hour_of_day"`
	DayOfWeek       float64 `json:"day_of_week"` // 0=Monday .. 6=Sunday
	IsWeekend       float64 `json:"is_weekend"`
	IsBusinessHours float64 `json:"is_business_hours"`

	// Frequency (per source identity)
	LoginAttemptsPerMinute  float64 `json:"login_attempts_per_minute"`
	RequestsPerSecond       float64 `json:"requests_per_second"`
	UniqueIPsLastHour       float64 `json:"unique_ips_last_hour"`
	UniqueEndpointsAccessed float64 `json:"unique_endpoints_accessed"`

	// Rates
	FailedAuthRate float64 `json:"failed_auth_rate"`
	ErrorRate4xx   float64 `json:"error_rate_4xx"`
	ErrorRate5xx   float64 `json:"error_rate_5xx"`

	// Geographic
	GeographicDistanceKm float64 `json:"geographic_distance_km"`
	IsKnownCountry       float64 `json:"is_known_country"`
	IsKnownIP            float64 `json:"is_known_ip"`

	// Behavioral
	BytesTransferred      float64 `json:"bytes_transferred"` // log1p scale
	TimeSinceLastActivity float64 `json:"time_since_last_activity_sec"`
	SessionDuration       float64 `json:"session_duration_sec"`
	PayloadEntropy        float64 `json:"payload_entropy"`

	// Context
	IsPrivilegedUser    float64 `json:"is_privileged_user"`
	IsSensitiveEndpoint float64 `json:"is_sensitive_endpoint"`
	IsKnownUserAgent    float64 `json:"is_known_user_agent"`
}

// Slice returns the vector in model feature order.
func (v *Vector) Slice() []float64 {
	return []float64{
		v.HourOfDay,
		v.DayOfWeek,
		v.IsWeekend,
		v.IsBusinessHours,
		v.LoginAttemptsPerMinute,
		v.RequestsPerSecond,
		v.UniqueIPsLastHour,
		v.UniqueEndpointsAccessed,
		v.FailedAuthRate,
		v.ErrorRate4xx,
		v.ErrorRate5xx,
		v.GeographicDistanceKm,
		v.IsKnownCountry,
		v.IsKnownIP,
		v.BytesTransferred,
		v.TimeSinceLastActivity,
		v.SessionDuration,
		v.PayloadEntropy,
		v.IsPrivilegedUser,
		v.IsSensitiveEndpoint,
		v.IsKnownUserAgent,
	}
}

var featureNames = [Dim]string{
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"is_business_hours",
	"login_attempts_per_minute",
	"requests_per_second",
	"unique_ips_last_hour",
	"unique_endpoints_accessed",
	"failed_auth_rate",
	"error_rate_4xx",
	"error_rate_5xx",
	"geographic_distance_km",
	"is_known_country",
	"is_known_ip",
	"bytes_transferred",
	"time_since_last_activity_sec",
	"session_duration_sec",
	"payload_entropy",
	"is_privileged_user",
	"is_sensitive_endpoint",
	"is_known_user_agent",
}

// Names returns the feature names in model feature order.
func Names() []string {
	out := make([]string, Dim)
	copy(out, featureNames[:])
	return out
}

// Map returns the vector as a flat name-to-value map in no particular
// order.
func (v *Vector) Map() map[string]float64 {
	vals := v.Slice()
	out := make(map[string]float64, Dim)
	for i, name := range featureNames {
		out[name] = vals[i]
	}
	return out
}

// Grouped returns the vector grouped by feature family for API responses.
func (v *Vector) Grouped() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"temporal": {
			"hour_of_day":       v.HourOfDay,
			"day_of_week":       v.DayOfWeek,
			"is_weekend":        v.IsWeekend,
			"is_business_hours": v.IsBusinessHours,
		},
		"frequency": {
			"login_attempts_per_minute": v.LoginAttemptsPerMinute,
			"requests_per_second":       v.RequestsPerSecond,
			"unique_ips_last_hour":      v.UniqueIPsLastHour,
			"unique_endpoints_accessed": v.UniqueEndpointsAccessed,
		},
		"rates": {
			"failed_auth_rate": v.FailedAuthRate,
			"error_rate_4xx":   v.ErrorRate4xx,
			"error_rate_5xx":   v.ErrorRate5xx,
		},
		"geographic": {
			"distance_km":      v.GeographicDistanceKm,
			"is_known_country": v.IsKnownCountry,
			"is_known_ip":      v.IsKnownIP,
		},
		"behavioral": {
			"bytes_transferred":            v.BytesTransferred,
			"time_since_last_activity_sec": v.TimeSinceLastActivity,
			"session_duration_sec":         v.SessionDuration,
			"payload_entropy":              v.PayloadEntropy,
		},
		"context": {
			"is_privileged_user":    v.IsPrivilegedUser,
			"is_sensitive_endpoint": v.IsSensitiveEndpoint,
			"is_known_user_agent":   v.IsKnownUserAgent,
		},
	}
}
