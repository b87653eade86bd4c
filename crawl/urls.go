package crawl

import (
	"net/url"
	"path"
	"strings"
)

// NormalizeURL lowercases scheme/netloc, strips a trailing slash from a
// non-root path, and drops the fragment.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// SameDomain compares the netlocs of two URLs.
func SameDomain(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

// MatchesPatterns applies the include/exclude glob rule: excludes checked
// first, an empty include list means allow-all, patterns are simple
// shell-style globs matched against the URL path.
func MatchesPatterns(rawURL string, include, exclude []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	for _, pat := range exclude {
		if ok, _ := path.Match(pat, p); ok {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, pat := range include {
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
	}
	return false
}
