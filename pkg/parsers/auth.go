package parsers

import (
	"strings"

	"logshield/pkg/event"
)

// AuthParser reads /var/log/auth.log style lines. Framing is plain
// syslog; the value this parser adds is the finer-grained event typing
// for sshd, sudo, su, PAM and account-management activity.
type AuthParser struct {
	syslog SyslogParser
}

func (p *AuthParser) Source() string { return "auth" }

func (p *AuthParser) Parse(line string) (*event.Record, error) {
	rec, err := p.syslog.Parse(line)
	if err != nil {
		return nil, err
	}
	rec.Source = "auth"
	rec.EventType = classifyAuthMessage(rec.Process, rec.Message)
	return rec, nil
}

// classifyAuthMessage maps a process name plus message text onto an event
// type. Ordering matters: process-specific rules win over the keyword
// fallbacks at the bottom.
func classifyAuthMessage(process, message string) string {
	proc := strings.ToLower(process)
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(proc, "sshd"):
		switch {
		case strings.Contains(msg, "invalid user"):
			return event.TypeInvalidUser
		case strings.Contains(msg, "failed password"),
			strings.Contains(msg, "authentication failure"):
			return event.TypeAuthFailure
		case strings.Contains(msg, "accepted password"),
			strings.Contains(msg, "accepted publickey"):
			return event.TypeAuthSuccess
		case strings.Contains(msg, "connection closed"),
			strings.Contains(msg, "received disconnect"):
			return event.TypeSessionClose
		}
		return event.TypeGeneric

	case strings.Contains(proc, "sudo"):
		switch {
		case strings.Contains(msg, "incorrect password"),
			strings.Contains(msg, "authentication failure"):
			return event.TypeAuthFailure
		case strings.Contains(msg, "command"):
			return event.TypeSudoCommand
		}
		return event.TypeGeneric

	case proc == "su" || strings.Contains(proc, "pam"):
		switch {
		case strings.Contains(msg, "authentication failure"),
			strings.Contains(msg, "incorrect password"):
			return event.TypeAuthFailure
		case strings.Contains(msg, "session opened"):
			return event.TypeSessionOpen
		case strings.Contains(msg, "session closed"):
			return event.TypeSessionClose
		}
		return event.TypeGeneric

	case strings.Contains(proc, "login") || strings.Contains(msg, "login"):
		switch {
		case strings.Contains(msg, "failed"), strings.Contains(msg, "failure"):
			return event.TypeAuthFailure
		case strings.Contains(msg, "logged in"), strings.Contains(msg, "session opened"):
			return event.TypeAuthSuccess
		}
		return event.TypeGeneric
	}

	// Account-management lines name the command as the syslog process
	// ("useradd[2001]: new user: ..."), so match proc as well as msg.
	for _, cmd := range []string{"useradd", "userdel", "usermod", "groupadd"} {
		if strings.Contains(proc, cmd) || strings.Contains(msg, cmd) {
			return event.TypeUserMgmt
		}
	}
	for _, cmd := range []string{"passwd", "chpasswd", "password changed"} {
		if strings.Contains(proc, cmd) || strings.Contains(msg, cmd) {
			return event.TypePasswdChange
		}
	}
	if strings.Contains(msg, "account locked") || strings.Contains(msg, "locked") {
		return event.TypeAccountLock
	}
	if strings.Contains(msg, "session opened") {
		return event.TypeSessionOpen
	}
	if strings.Contains(msg, "session closed") {
		return event.TypeSessionClose
	}
	return event.TypeGeneric
}
