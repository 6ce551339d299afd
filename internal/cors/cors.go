package cors

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Configuration is a parsed CORSConfiguration document. Rule order matters:
// the first matching rule wins.
type Configuration struct {
	XMLName xml.Name `xml:"CORSConfiguration"`
	Rules   []Rule   `xml:"CORSRule"`
}

// Rule gates cross-origin access for a set of origins and methods.
type Rule struct {
	AllowedOrigins []string `xml:"AllowedOrigin"`
	AllowedMethods []string `xml:"AllowedMethod"`
	AllowedHeaders []string `xml:"AllowedHeader"`
	ExposeHeaders  []string `xml:"ExposeHeader"`
	MaxAgeSeconds  *int     `xml:"MaxAgeSeconds"`
}

var allowedMethodNames = map[string]bool{
	"GET": true, "PUT": true, "POST": true, "DELETE": true, "HEAD": true,
}

// Parse decodes and validates a CORSConfiguration document.
func Parse(doc []byte) (*Configuration, error) {
	var cfg Configuration
	if err := xml.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("invalid CORS configuration: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("CORS configuration must contain at least one CORSRule")
	}
	if len(cfg.Rules) > 100 {
		return nil, fmt.Errorf("CORS configuration is limited to 100 rules")
	}
	for _, rule := range cfg.Rules {
		if len(rule.AllowedOrigins) == 0 || len(rule.AllowedMethods) == 0 {
			return nil, fmt.Errorf("each CORSRule requires at least one AllowedOrigin and AllowedMethod")
		}
		for _, m := range rule.AllowedMethods {
			if !allowedMethodNames[m] {
				return nil, fmt.Errorf("unsupported method %q in CORSRule", m)
			}
		}
		for _, o := range rule.AllowedOrigins {
			if strings.Count(o, "*") > 1 {
				return nil, fmt.Errorf("AllowedOrigin %q can contain at most one wildcard", o)
			}
		}
	}
	return &cfg, nil
}

// Default returns the wildcard configuration applied when no explicit
// configuration is provided: every origin, common methods.
func Default() *Configuration {
	return &Configuration{
		Rules: []Rule{{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "HEAD"},
			AllowedHeaders: []string{"*"},
		}},
	}
}

// Match returns the first rule allowing the given origin and method, or nil.
func (c *Configuration) Match(origin, method string) *Rule {
	if c == nil || origin == "" {
		return nil
	}
	for i := range c.Rules {
		rule := &c.Rules[i]
		if !rule.matchesOrigin(origin) {
			continue
		}
		for _, m := range rule.AllowedMethods {
			if m == method {
				return rule
			}
		}
	}
	return nil
}

func (r *Rule) matchesOrigin(origin string) bool {
	for _, pattern := range r.AllowedOrigins {
		if matchPattern(pattern, origin) {
			return true
		}
	}
	return false
}

// WildcardOrigin reports whether the rule allows any origin, in which case
// responses carry a literal "*" rather than echoing the request origin.
func (r *Rule) WildcardOrigin() bool {
	for _, pattern := range r.AllowedOrigins {
		if pattern == "*" {
			return true
		}
	}
	return false
}

// AllowedHeader reports whether a requested header is allowed by the rule.
// Matching is case-insensitive and supports a single wildcard per pattern.
func (r *Rule) AllowedHeader(header string) bool {
	header = strings.ToLower(header)
	for _, pattern := range r.AllowedHeaders {
		if matchPattern(strings.ToLower(pattern), header) {
			return true
		}
	}
	return false
}

// FilterRequestHeaders returns the lowercased subset of requested headers the
// rule allows, preserving request order.
func (r *Rule) FilterRequestHeaders(requested []string) []string {
	var allowed []string
	for _, h := range requested {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if r.AllowedHeader(h) {
			allowed = append(allowed, h)
		}
	}
	return allowed
}

// matchPattern matches value against a glob pattern holding at most one '*',
// which matches any sequence of characters.
func matchPattern(pattern, value string) bool {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern == value
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	return len(value) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(value, prefix) &&
		strings.HasSuffix(value, suffix)
}
