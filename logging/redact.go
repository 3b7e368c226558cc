package logging

import (
	"regexp"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`), // telegram bot token
	regexp.MustCompile(`(?i)sk-[a-z0-9_-]{20,}`),
	regexp.MustCompile(`(?i)hf_[a-z0-9]{30,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(api_key|apikey|token|secret|password)\s*[:=]\s*[^\s,;&]{8,}`),
}

var sensitiveKeyParts = []string{"API_KEY", "APIKEY", "TOKEN", "SECRET", "PASSWORD", "AUTHORIZATION"}

// Redact replaces anything that looks like a credential in s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, RedactedPlaceholder)
	}
	return s
}

// IsSensitiveKey reports whether a field or variable name names a secret.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(upper, part) {
			return true
		}
	}
	return false
}
