// Package redact scrubs credentials and SQL values from strings before they
// reach logs. Database errors from either driver can echo the connection
// string or the failing statement, so every 5xx error passes through here.
package redact

import (
	"net/url"
	"regexp"
	"strings"
)

// Placeholders substituted for redacted fragments.
const (
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	ValuesPlaceholder     = "[SQL_VALUES_REDACTED]"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

var rules = []rule{
	// user:password@ in URL-style DSNs
	{regexp.MustCompile(`(?i)\b(postgres|postgresql|pgx)://[^@\s/]+@`), "${1}://" + CredentialPlaceholder + "@"},
	// password=... in keyword/value DSNs and query strings
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*=\s*('[^']*'|"[^"]*"|[^&\s]+)`), "${1}=" + CredentialPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token)\s*[=:]\s*[A-Za-z0-9_\-.~+/]{8,}`), KeyPlaceholder},
	// literal values in statements echoed by the driver
	{regexp.MustCompile(`(?is)\bVALUES\s*\(.*?\)`), "VALUES " + ValuesPlaceholder},
	{regexp.MustCompile(`(?i)\b(WHERE|SET)\b[^;]*`), "${1} " + ValuesPlaceholder},
}

// String redacts credentials and SQL literal values from s.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Error redacts err's message. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// DSN returns a loggable form of a database connection string: the
// password of a URL DSN is replaced, query parameters are kept.
func DSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
			return strings.Replace(u.String(), ":xxxxx@", ":"+CredentialPlaceholder+"@", 1)
		}
	}
	return String(dsn)
}
