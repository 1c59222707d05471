// Package secrets redacts sensitive values from span data before delivery.
//
// The agent tells the sensor which keys are secret through a matcher and a
// list of patterns. A key that matches has its value replaced with Marker,
// both for map entries and for query parameters embedded in URL strings.
package secrets

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value
const Marker = "<redacted>"

// Matcher names how the patterns in a Config are compared to keys
type Matcher string

const (
	MatchEquals             Matcher = "equals"
	MatchEqualsIgnoreCase   Matcher = "equals-ignore-case"
	MatchContains           Matcher = "contains"
	MatchContainsIgnoreCase Matcher = "contains-ignore-case"
	MatchRegex              Matcher = "regex"
	MatchNone               Matcher = "none"
)

// Config is the secret configuration as reported by the agent
type Config struct {
	Matcher Matcher  `json:"matcher"`
	List    []string `json:"list"`
}

// DefaultConfig returns the configuration the agent uses when none is set
func DefaultConfig() Config {
	return Config{
		Matcher: MatchContainsIgnoreCase,
		List:    []string{"key", "pass", "secret"},
	}
}

// IsZero reports whether no patterns are configured
func (c Config) IsZero() bool {
	return len(c.List) == 0
}

// Redactor applies one Config to span data
type Redactor struct {
	match func(key string) bool
}

// New compiles cfg into a Redactor. Unknown matchers fall back to
// contains-ignore-case and regex patterns that fail to compile are skipped.
func New(cfg Config) *Redactor {
	return &Redactor{match: compile(cfg)}
}

func compile(cfg Config) func(string) bool {
	if len(cfg.List) == 0 {
		return func(string) bool { return false }
	}

	list := append([]string(nil), cfg.List...)

	switch cfg.Matcher {
	case MatchNone:
		return func(string) bool { return false }
	case MatchEquals:
		return func(key string) bool {
			for _, p := range list {
				if key == p {
					return true
				}
			}
			return false
		}
	case MatchEqualsIgnoreCase:
		return func(key string) bool {
			for _, p := range list {
				if strings.EqualFold(key, p) {
					return true
				}
			}
			return false
		}
	case MatchContains:
		return func(key string) bool {
			for _, p := range list {
				if strings.Contains(key, p) {
					return true
				}
			}
			return false
		}
	case MatchRegex:
		patterns := make([]*regexp.Regexp, 0, len(list))
		for _, p := range list {
			re, err := regexp.Compile(`^(?:` + p + `)$`)
			if err != nil {
				continue
			}
			patterns = append(patterns, re)
		}
		return func(key string) bool {
			for _, re := range patterns {
				if re.MatchString(key) {
					return true
				}
			}
			return false
		}
	default:
		lowered := make([]string, len(list))
		for i, p := range list {
			lowered[i] = strings.ToLower(p)
		}
		return func(key string) bool {
			key = strings.ToLower(key)
			for _, p := range lowered {
				if strings.Contains(key, p) {
					return true
				}
			}
			return false
		}
	}
}

// Matches reports whether key is a secret
func (r *Redactor) Matches(key string) bool {
	return r.match(key)
}

// Redact returns a deep copy of data with secret values replaced by Marker.
// The input is never modified.
func (r *Redactor) Redact(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	return r.redactMap(data)
}

func (r *Redactor) redactMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if r.match(k) {
			out[k] = Marker
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return r.redactMap(val)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			if r.match(k) {
				out[k] = Marker
				continue
			}
			out[k] = r.RedactQuery(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = r.RedactQuery(s)
		}
		return out
	case string:
		return r.RedactQuery(val)
	default:
		return v
	}
}

// RedactQuery replaces the values of secret query parameters in s. s may be
// a full URL or a bare query string; anything else is returned unchanged.
// Parameter order and encoding are preserved.
func (r *Redactor) RedactQuery(s string) string {
	prefix, query, fragment := splitQuery(s)
	if query == "" {
		return s
	}

	params := strings.Split(query, "&")
	changed := false
	for i, param := range params {
		name, _, hasValue := strings.Cut(param, "=")
		if !hasValue || !r.match(name) {
			continue
		}
		params[i] = name + "=" + Marker
		changed = true
	}
	if !changed {
		return s
	}
	return prefix + strings.Join(params, "&") + fragment
}

// splitQuery separates the query part of a URL or query string
func splitQuery(s string) (prefix, query, fragment string) {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		head, rest := s[:i+1], s[i+1:]
		if j := strings.IndexByte(rest, '#'); j >= 0 {
			return head, rest[:j], rest[j:]
		}
		return head, rest, ""
	}

	// bare "a=b&c=d" without whitespace
	if strings.Contains(s, "=") && !strings.ContainsAny(s, " \t\n/") {
		return "", s, ""
	}
	return s, "", ""
}
