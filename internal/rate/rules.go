package rate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Rule describes one entry of the ordered rule table.
type Rule struct {
	Name         string
	Window       time.Duration
	MaxRequests  int
	PathPrefixes []string
	// Methods restricts the rule to the listed HTTP methods. Empty matches every method.
	Methods []string
}

// Matches reports whether the rule applies to method and path. A rule without
// prefixes matches every path.
func (r Rule) Matches(method, path string) bool {
	if len(r.Methods) > 0 {
		found := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.PathPrefixes) == 0 {
		return true
	}
	for _, prefix := range r.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Table is an ordered rule list; the first matching rule wins.
type Table []Rule

// Match returns the first rule matching method and path.
func (t Table) Match(method, path string) (Rule, bool) {
	for _, rule := range t {
		if rule.Matches(method, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

func (t Table) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for i, rule := range t {
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i)
		}
		if strings.Contains(rule.Name, ":") {
			return fmt.Errorf("%w: rule %q name must not contain ':'", ErrInvalidRule, rule.Name)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("%w: duplicate rule %q", ErrInvalidRule, rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if rule.Window <= 0 {
			return fmt.Errorf("%w: rule %q window must be > 0", ErrInvalidRule, rule.Name)
		}
		if rule.MaxRequests <= 0 {
			return fmt.Errorf("%w: rule %q max requests must be > 0", ErrInvalidRule, rule.Name)
		}
	}
	return nil
}

// LongestWindow returns the largest rule window, or zero for an empty table.
func (t Table) LongestWindow() time.Duration {
	var longest time.Duration
	for _, rule := range t {
		if rule.Window > longest {
			longest = rule.Window
		}
	}
	return longest
}

// UserAgentHash is the short fingerprint of a user agent used inside bucket keys.
func UserAgentHash(userAgent string) string {
	return strconv.FormatUint(xxhash.Sum64String(userAgent), 16)
}

// BucketKey derives the store key for one client of one rule on one path.
func BucketKey(rule, ip, userAgent, path string) string {
	var b strings.Builder
	b.Grow(len(rule) + len(ip) + len(path) + 20)
	b.WriteString(rule)
	b.WriteByte(':')
	b.WriteString(ip)
	b.WriteByte(':')
	b.WriteString(UserAgentHash(userAgent))
	b.WriteByte(':')
	b.WriteString(path)
	return b.String()
}
