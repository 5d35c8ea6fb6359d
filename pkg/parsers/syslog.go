package parsers

import (
	"regexp"
	"strings"
	"time"

	"logshield/pkg/event"
)

// RFC 3164: "Jan 13 12:00:00 hostname process[pid]: message"
var rfc3164Re = regexp.MustCompile(
	`^(\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^\s\[:]+)(?:\[(\d+)\])?\s*:\s*(.+)$`)

// RFC 5424: "<pri>ver timestamp hostname app procid msgid sd msg"
var rfc5424Re = regexp.MustCompile(
	`^<(\d+)>(\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(.+)$`)

// SyslogParser handles RFC 3164 and RFC 5424 framed messages and assigns
// a coarse event type from the producing process.
type SyslogParser struct{}

func (p *SyslogParser) Source() string { return "syslog" }

func (p *SyslogParser) Parse(line string) (*event.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrUnparseable
	}

	if strings.HasPrefix(line, "<") {
		return p.parseRFC5424(line)
	}
	if m := rfc3164Re.FindStringSubmatch(line); m != nil {
		return p.parseRFC3164(line, m)
	}

	// Unframed line on a syslog feed: keep it as a generic entry.
	rec := &event.Record{
		Source:    "syslog",
		EventType: event.TypeGeneric,
		SourceIP:  extractIP(line),
		Message:   line,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

func (p *SyslogParser) parseRFC3164(line string, m []string) (*event.Record, error) {
	ts, ok := parseSyslogTimestamp(m[1], time.Now())
	if !ok {
		return nil, ErrUnparseable
	}
	process := m[3]
	message := m[5]
	rec := &event.Record{
		Timestamp: ts,
		Source:    "syslog",
		EventType: classifyAuthMessage(process, message),
		SourceIP:  extractIP(message),
		Username:  extractUsername(message),
		Hostname:  m[2],
		Process:   process,
		Message:   message,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

func (p *SyslogParser) parseRFC5424(line string) (*event.Record, error) {
	m := rfc5424Re.FindStringSubmatch(line)
	if m == nil {
		return nil, ErrUnparseable
	}
	ts, err := time.Parse(time.RFC3339Nano, m[3])
	if err != nil {
		ts = time.Now().UTC()
	}
	app := m[5]
	message := m[9]
	rec := &event.Record{
		Timestamp: ts.UTC(),
		Source:    "syslog",
		EventType: classifyAuthMessage(app, message),
		SourceIP:  extractIP(message),
		Username:  extractUsername(message),
		Hostname:  m[4],
		Process:   app,
		Message:   message,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}
