package logging

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

var sensitiveNames = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"cookie",
	"api_key",
	"apikey",
	"session",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)(token|secret|password)=[^&\s]+`),
}

// IsSensitiveName reports whether a header, query or field name carries a secret.
func IsSensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveNames {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// Redact masks secrets embedded in free text such as error messages.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// RedactURL masks sensitive query parameters and userinfo passwords.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactedValue)
		}
	}
	query := u.Query()
	changed := false
	for name := range query {
		if IsSensitiveName(name) {
			query.Set(name, RedactedValue)
			changed = true
		}
	}
	if changed {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// RedactHeaders returns a flat copy of h with sensitive values masked.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if IsSensitiveName(name) {
			out[name] = RedactedValue
			continue
		}
		out[name] = Redact(strings.Join(values, ", "))
	}
	return out
}
