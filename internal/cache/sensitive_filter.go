package cache

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Redaction markers. Field-level redaction replaces the whole value,
// pattern-level redaction replaces only the matched span.
const (
	FilteredMarker = "[FILTERED]"
	RedactedMarker = "[REDACTED]"
)

// sensitiveFields are JSON field names whose values are always redacted,
// matched case-insensitively after normalizing '-' to '_'.
var sensitiveFields = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"pwd":           {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"id_token":      {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"auth":          {},
	"credential":    {},
	"credentials":   {},
	"private_key":   {},
	"client_secret": {},
	"session_id":    {},
	"cookie":        {},
	"x_api_key":     {},
}

// sensitiveKeywords catch field names not in the exact set, such as
// "db_password" or "github_token".
var sensitiveKeywords = []string{
	"password",
	"secret",
	"token",
	"credential",
	"apikey",
	"api_key",
	"private",
}

// sensitivePatterns match secret material embedded inside string values:
// JWTs, cloud access keys, HTTP auth headers, key=value credential
// assignments, PEM private key blocks and connection-string passwords.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/]{8,}=*`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*[^\s,;&"']+`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[=:]\s*[^\s,;&"']+`),
	regexp.MustCompile(`(?i)(secret|token)\s*[=:]\s*[^\s,;&"']+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)[a-z][a-z0-9+.-]*://[^:/\s]+:[^@/\s]+@`),
}

// SensitiveFilter redacts credential material from payloads before they
// are cached and from strings before they are logged. The same filter
// instance is shared by the cache and the log paths; only the cache
// path is conditional on configuration.
type SensitiveFilter struct {
	enabled bool
}

// NewSensitiveFilter creates a filter. enabled controls redaction of
// cached payloads; log redaction is always on.
func NewSensitiveFilter(enabled bool) *SensitiveFilter {
	return &SensitiveFilter{enabled: enabled}
}

// Enabled reports whether payload filtering is active.
func (f *SensitiveFilter) Enabled() bool {
	return f.enabled
}

// FilterPayload redacts sensitive material from a payload headed for the
// cache. JSON payloads are walked structurally; anything else is treated
// as opaque text. Returns the (possibly rewritten) payload and whether
// any redaction happened. When filtering is disabled the payload passes
// through untouched.
func (f *SensitiveFilter) FilterPayload(data []byte) ([]byte, bool) {
	if !f.enabled || len(data) == 0 {
		return data, false
	}
	return f.filterBytes(data)
}

// FilterForLog redacts a string unconditionally. Used on every value
// that reaches a log line, regardless of cache filter configuration.
func (f *SensitiveFilter) FilterForLog(s string) string {
	out, _ := f.filterString(s)
	return out
}

func (f *SensitiveFilter) filterBytes(data []byte) ([]byte, bool) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		// Not JSON. Apply pattern redaction to the raw text.
		out, changed := f.filterString(string(data))
		if !changed {
			return data, false
		}
		return []byte(out), true
	}

	filtered, changed := f.filterValue(v)
	if !changed {
		return data, false
	}
	out, err := json.Marshal(filtered)
	if err != nil {
		// Marshal of a value that just unmarshaled should not fail;
		// keep the original rather than cache a broken payload.
		return data, false
	}
	return out, true
}

// filterValue walks a decoded JSON value, redacting sensitive fields and
// scrubbing string values.
func (f *SensitiveFilter) filterValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		changed := false
		for k, inner := range val {
			if IsSensitiveField(k) {
				val[k] = FilteredMarker
				changed = true
				continue
			}
			out, c := f.filterValue(inner)
			if c {
				val[k] = out
				changed = true
			}
		}
		return val, changed
	case []interface{}:
		changed := false
		for i, inner := range val {
			out, c := f.filterValue(inner)
			if c {
				val[i] = out
				changed = true
			}
		}
		return val, changed
	case string:
		return f.filterString(val)
	default:
		return v, false
	}
}

func (f *SensitiveFilter) filterString(s string) (string, bool) {
	changed := false
	for _, re := range sensitivePatterns {
		if re.MatchString(s) {
			s = re.ReplaceAllString(s, RedactedMarker)
			changed = true
		}
	}
	return s, changed
}

// IsSensitiveField reports whether a JSON field name denotes credential
// material.
func IsSensitiveField(name string) bool {
	n := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	if _, ok := sensitiveFields[n]; ok {
		return true
	}
	for _, kw := range sensitiveKeywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}
