// Package parsers turns raw log lines from different producers (auth.log,
// nginx, iptables, plain syslog) into normalized event.Record values.
package parsers

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"logshield/pkg/event"
)

// ErrUnparseable is returned when a line carries no recoverable structure.
// Batch callers skip these lines instead of aborting the whole batch.
var ErrUnparseable = errors.New("parsers: unparseable log line")

// Parser converts one raw log line into a normalized event record.
type Parser interface {
	// Source names the log family this parser handles (auth, nginx, ...).
	Source() string
	// Parse extracts a record from a single line. Lines that match the
	// family but carry sparse structure still produce a record with
	// defaults filled in; only structurally hopeless input errors.
	Parse(line string) (*event.Record, error)
}

var registry = map[string]Parser{
	"auth":     &AuthParser{},
	"syslog":   &SyslogParser{},
	"nginx":    &NginxParser{},
	"firewall": &FirewallParser{},
	"generic":  &GenericParser{},
}

// Get returns the parser registered for source, falling back to the
// format-sniffing generic parser for unknown sources.
func Get(source string) Parser {
	if p, ok := registry[strings.ToLower(strings.TrimSpace(source))]; ok {
		return p
	}
	return registry["generic"]
}

// Sources lists the registered parser names.
func Sources() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// GenericParser sniffs the line format and delegates to the matching
// family parser. Lines that match nothing become a bare record with
// whatever an IP scan recovers.
type GenericParser struct{}

func (p *GenericParser) Source() string { return "generic" }

func (p *GenericParser) Parse(line string) (*event.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrUnparseable
	}
	if iptablesRe.MatchString(line) {
		return (&FirewallParser{}).Parse(line)
	}
	if nginxAccessRe.MatchString(line) || nginxErrorRe.MatchString(line) {
		return (&NginxParser{}).Parse(line)
	}
	if strings.HasPrefix(line, "<") || rfc3164Re.MatchString(line) {
		return (&SyslogParser{}).Parse(line)
	}
	rec := &event.Record{
		Source:    "generic",
		EventType: event.TypeGeneric,
		SourceIP:  extractIP(line),
		Message:   line,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

var (
	ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Re = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)

	usernameForRe     = regexp.MustCompile(`\bfor\s+(\S+)`)
	usernameForUserRe = regexp.MustCompile(`\bfor\s+user\s+(\S+)`)
	usernameUserRe    = regexp.MustCompile(`(?i)\buser=(\S+)`)
)

// extractIP pulls the first IPv4 (or full-form IPv6) address out of a
// free-text message. Empty when none is present.
func extractIP(message string) string {
	if m := ipv4Re.FindString(message); m != "" {
		return m
	}
	return ipv6Re.FindString(message)
}

// extractUsername recovers a username from "for <user>", "for user <user>"
// or "user=<user>" phrasings, skipping the filler words sshd puts in that
// position.
func extractUsername(message string) string {
	if m := usernameForUserRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if m := usernameForRe.FindStringSubmatch(message); m != nil {
		switch m[1] {
		case "invalid", "illegal", "unknown", "user":
		default:
			return m[1]
		}
	}
	if m := usernameUserRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

// parseSyslogTimestamp handles the year-less RFC 3164 stamp
// ("Jan 13 12:00:00") by pinning it to the current UTC year.
func parseSyslogTimestamp(s string, now time.Time) (time.Time, bool) {
	ts, err := time.Parse(time.Stamp, s)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(now.UTC().Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.UTC), true
}
