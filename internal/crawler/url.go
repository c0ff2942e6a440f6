package crawler

import (
	"net/url"
	"strings"
)

// NormalizeURL produces the dedup key for a page URL. The fragment is dropped
// and trailing slashes are trimmed from the path; a URL with an empty path keeps
// a single "/". Scheme, host, and query are left as parsed. Input that cannot be
// parsed is normalized textually instead of being rejected.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return normalizeText(rawURL)
	}
	if u.Opaque != "" {
		u.Fragment, u.RawFragment = "", ""
		return u.String()
	}
	u.Fragment, u.RawFragment = "", ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	if u.Path == "" && u.Host != "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u.String()
}

func normalizeText(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw = raw[:idx]
	}
	base, query, hasQuery := strings.Cut(raw, "?")
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "/"
	}
	if hasQuery {
		return base + "?" + query
	}
	return base
}

// SameDomain reports whether rawURL belongs to baseDomain. Relative URLs (no
// host) always qualify, and a leading "www." on either side is ignored.
func SameDomain(rawURL, baseDomain string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(stripWWW(u.Host), stripWWW(baseDomain))
}

// HostOf returns the host (with port, if any) of rawURL, or "" when it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Host
}

// ResolveURL resolves ref against base. The boolean is false when either side
// does not parse.
func ResolveURL(base, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(r).String(), true
}

// IsHTTPURL reports whether rawURL is an absolute http(s) URL.
func IsHTTPURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func stripWWW(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}
