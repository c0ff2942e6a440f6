package crawler

import "strings"

// HostMatcher matches hosts against exact names and "*.suffix" / ".suffix"
// wildcards. A nil matcher matches nothing.
type HostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostMatcher builds a matcher from patterns. It returns nil when no
// usable pattern is given.
func NewHostMatcher(patterns []string) *HostMatcher {
	matcher := &HostMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (m *HostMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Matches reports whether host (port ignored) is covered by the matcher.
func (m *HostMatcher) Matches(host string) bool {
	if m == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, found := strings.Cut(host, ":"); found && !strings.Contains(h, "[") {
		host = h
	}
	if host == "" {
		return false
	}
	if _, exact := m.exact[host]; exact {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
