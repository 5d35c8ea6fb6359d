package parsers

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"logshield/pkg/event"
)

// iptables log fragment:
// ... IN=eth0 OUT= SRC=192.168.1.100 DST=10.0.0.1 ... PROTO=TCP SPT=12345 DPT=80
var iptablesRe = regexp.MustCompile(
	`IN=(\S*)\s+OUT=(\S*)\s+.*?SRC=([\d\.]+)\s+DST=([\d\.]+)\s+.*?PROTO=(\S+)(?:\s+SPT=(\d+))?(?:\s+DPT=(\d+))?`)

var syslogPrefixRe = regexp.MustCompile(`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)

// FirewallParser handles iptables/netfilter kernel log lines.
type FirewallParser struct{}

func (p *FirewallParser) Source() string { return "firewall" }

func (p *FirewallParser) Parse(line string) (*event.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrUnparseable
	}

	m := iptablesRe.FindStringSubmatch(line)
	if m == nil {
		rec := &event.Record{
			Source:    "firewall",
			EventType: event.TypeGeneric,
			SourceIP:  extractIP(line),
			Message:   line,
			Raw:       line,
		}
		rec.Normalize()
		return rec, nil
	}

	ts := time.Now().UTC()
	if pm := syslogPrefixRe.FindStringSubmatch(line); pm != nil {
		if parsed, ok := parseSyslogTimestamp(pm[1], ts); ok {
			ts = parsed
		}
	}

	action := firewallAction(line)
	eventType := event.TypeFirewallBlock
	if action == "ACCEPT" {
		eventType = event.TypeFirewallAllow
	}

	rec := &event.Record{
		Timestamp: ts,
		Source:    "firewall",
		EventType: eventType,
		SourceIP:  m[3],
		Process:   "kernel",
		Message:   fmt.Sprintf("%s %s %s -> %s dpt=%s", action, m[5], m[3], m[4], m[7]),
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

// firewallAction reads the verdict out of the line. Lines with no
// explicit verdict are treated as drops; rules normally only log what
// they refuse.
func firewallAction(line string) string {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ACCEPT"):
		return "ACCEPT"
	case strings.Contains(upper, "REJECT"):
		return "REJECT"
	default:
		return "DROP"
	}
}
