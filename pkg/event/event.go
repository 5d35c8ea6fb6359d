// Package event defines the normalized security event record shared by the
// parsers, the aggregation layer, and the feature extractor.
package event

import (
	"strings"
	"time"
)

// Event types emitted by the parsers. Downstream code switches on these to
// decide which activity timelines an event updates.
const (
	TypeAuthFailure   = "auth_failure"
	TypeAuthSuccess   = "auth_success"
	TypeInvalidUser   = "invalid_user"
	TypeSessionOpen   = "session_opened"
	TypeSessionClose  = "session_closed"
	TypeSudoCommand   = "sudo_command"
	TypeHTTPRequest   = "http_request"
	TypeHTTPError     = "http_error"
	TypeSQLInjection  = "sql_injection_attempt"
	TypeXSS           = "xss_attempt"
	TypePathTraversal = "path_traversal_attempt"
	TypeCmdInjection  = "command_injection_attempt"
	TypeFirewallBlock = "fw_block"
	TypeFirewallAllow = "fw_accept"
	TypeUserMgmt      = "user_management"
	TypePasswdChange  = "password_change"
	TypeAccountLock   = "account_locked"
	TypeGeneric       = "log_entry"
)

// Record is a single normalized log event. Every field has a usable zero
// default after Normalize, so extraction never fails on sparse input.
type Record struct {
	ID         string    `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`     // originating parser: auth, nginx, syslog, firewall
	EventType  string    `json:"event_type"` // one of the Type* constants
	SourceIP   string    `json:"source_ip"`
	Username   string    `json:"username,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Process    string    `json:"process,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Method     string    `json:"method,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	BytesSent  int64     `json:"bytes_sent,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Country    string    `json:"country,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

// Normalize fills defaults for every field consumers rely on.
func (r *Record) Normalize() {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Source == "" {
		r.Source = "generic"
	}
	if r.EventType == "" {
		r.EventType = TypeGeneric
	}
	if r.SourceIP == "" {
		r.SourceIP = "0.0.0.0"
	}
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Endpoint == "" {
		r.Endpoint = "/"
	}
	r.Username = strings.TrimSpace(r.Username)
}

// Identity returns the aggregation key for this event. All windowed
// counters are scoped per source IP.
func (r *Record) Identity() string {
	return r.SourceIP
}

// IsAuthAttempt reports whether the event counts toward the login-attempt
// timeline.
func (r *Record) IsAuthAttempt() bool {
	switch r.EventType {
	case TypeAuthFailure, TypeAuthSuccess, TypeInvalidUser:
		return true
	}
	return false
}

// IsAuthFailure reports whether the event counts toward the failed-auth
// timeline.
func (r *Record) IsAuthFailure() bool {
	switch r.EventType {
	case TypeAuthFailure, TypeInvalidUser:
		return true
	}
	return false
}
