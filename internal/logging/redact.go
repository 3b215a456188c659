package logging

import (
	"regexp"
	"strings"
)

// Field names whose values never reach the log.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"credential",
	"private_key",
	"signature",
}

// Patterns whose whole match is a secret.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(AIza[a-zA-Z0-9_-]{35})`),
	regexp.MustCompile(`(?i)(password|secret|token)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
}

// Patterns for signed URL query parameters. The parameter name is kept.
var queryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(X-Goog-(?:Signature|Credential)=)[^&\s"']+`),
	regexp.MustCompile(`(?i)([?&](?:token|key|signature|sig|access_token)=)[^&\s"']+`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range queryPatterns {
		result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
	}
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactMap redacts sensitive fields in a map, recursing into nested maps.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		default:
			switch typed := v.(type) {
			case map[string]any:
				result[k] = RedactMap(typed)
			case string:
				result[k] = Redact(typed)
			default:
				result[k] = v
			}
		}
	}
	return result
}

// RedactEnv redacts environment variables, returning a safe copy.
func RedactEnv(env []string) []string {
	result := make([]string, len(env))
	for i, e := range env {
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			result[i] = e
			continue
		}
		if IsSensitiveField(key) {
			result[i] = key + "=" + RedactedValue
			continue
		}
		result[i] = key + "=" + Redact(value)
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
