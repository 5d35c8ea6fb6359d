package parsers

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"logshield/pkg/event"
)

// Combined access log:
// 192.168.1.1 - user [13/Jan/2026:12:00:00 +0000] "GET /api/users HTTP/1.1" 200 1234 "ref" "ua"
var nginxAccessRe = regexp.MustCompile(
	`^([\d\.]+)\s+-\s+(\S+)\s+\[([^\]]+)\]\s+"(\S+)\s+(\S+)\s+([^"]+)"\s+(\d+)\s+(\d+)\s+"([^"]*)"\s+"([^"]*)"`)

// Error log:
// 2026/01/13 12:00:00 [error] 12345#0: *67890 connect() failed (...)
var nginxErrorRe = regexp.MustCompile(
	`^(\d{4}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})\s+\[(\w+)\]\s+(\d+)#\d+:\s+(?:\*\d+\s+)?(.+)$`)

const nginxAccessTimeLayout = "02/Jan/2006:15:04:05 -0700"

// NginxParser handles combined-format access logs and error logs, and
// flags the common injection signatures carried in request paths.
type NginxParser struct{}

func (p *NginxParser) Source() string { return "nginx" }

func (p *NginxParser) Parse(line string) (*event.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrUnparseable
	}

	if m := nginxAccessRe.FindStringSubmatch(line); m != nil {
		return p.parseAccess(line, m)
	}
	if m := nginxErrorRe.FindStringSubmatch(line); m != nil {
		return p.parseError(line, m)
	}
	rec := &event.Record{
		Source:    "nginx",
		EventType: event.TypeGeneric,
		SourceIP:  extractIP(line),
		Message:   line,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

func (p *NginxParser) parseAccess(line string, m []string) (*event.Record, error) {
	ts, err := time.Parse(nginxAccessTimeLayout, m[3])
	if err != nil {
		ts = time.Now().UTC()
	}
	status, _ := strconv.Atoi(m[7])
	bytes, _ := strconv.ParseInt(m[8], 10, 64)

	user := m[2]
	if user == "-" {
		user = ""
	}
	ua := m[10]
	if ua == "-" {
		ua = ""
	}

	method := m[4]
	endpoint := m[5]
	rec := &event.Record{
		Timestamp:  ts.UTC(),
		Source:     "nginx",
		EventType:  classifyAccess(method, endpoint, status),
		SourceIP:   m[1],
		Username:   user,
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: status,
		BytesSent:  bytes,
		UserAgent:  ua,
		Payload:    endpoint,
		Raw:        line,
	}
	rec.Normalize()
	return rec, nil
}

func (p *NginxParser) parseError(line string, m []string) (*event.Record, error) {
	ts, err := time.Parse("2006/01/02 15:04:05", m[1])
	if err != nil {
		ts = time.Now().UTC()
	}
	message := m[4]
	rec := &event.Record{
		Timestamp: ts.UTC(),
		Source:    "nginx",
		EventType: event.TypeHTTPError,
		SourceIP:  extractIP(message),
		Process:   "nginx",
		Message:   message,
		Raw:       line,
	}
	rec.Normalize()
	return rec, nil
}

var (
	sqlInjectionTokens = []string{"union", "select", "drop", "insert", "' or "}
	xssTokens          = []string{"<script", "javascript:", "onerror="}
	cmdInjectionTokens = []string{"$(", ";wget", ";curl", "|bash", "|sh", "&&"}
	authPaths          = []string{"/login", "/auth", "/signin", "/signup"}
)

// classifyAccess types an access-log entry. Injection signatures win over
// the endpoint-based rules so an injection attempt against /login is still flagged
// as an injection attempt.
func classifyAccess(method, endpoint string, status int) string {
	lower := strings.ToLower(endpoint)

	if strings.Contains(endpoint, "../") || strings.Contains(lower, "..%2f") {
		return event.TypePathTraversal
	}
	for _, tok := range sqlInjectionTokens {
		if strings.Contains(lower, tok) {
			return event.TypeSQLInjection
		}
	}
	for _, tok := range xssTokens {
		if strings.Contains(lower, tok) {
			return event.TypeXSS
		}
	}
	for _, tok := range cmdInjectionTokens {
		if strings.Contains(lower, tok) {
			return event.TypeCmdInjection
		}
	}

	for _, path := range authPaths {
		if strings.Contains(lower, path) {
			if status < 400 {
				return event.TypeAuthSuccess
			}
			return event.TypeAuthFailure
		}
	}

	if status >= 400 {
		return event.TypeHTTPError
	}
	return event.TypeHTTPRequest
}
