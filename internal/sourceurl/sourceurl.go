// Package sourceurl canonicalizes the source links statements are submitted
// with, so the same page is recognised however it was shared.
package sourceurl

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters added by share buttons and campaigns.
// They never change which page a link points at.
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref_src": true,
	"s":       true, // x.com share suffix
	"si":      true,
}

// Canonicalize lower-cases the scheme and host, drops the fragment, default
// ports, "www." and tracking parameters, sorts the remaining query and trims a
// trailing slash from the path. Only absolute http(s) URLs are accepted.
func Canonicalize(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid source URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("invalid source URL: unsupported scheme %q", parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("invalid source URL: missing host")
	}
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && !isDefaultPort(scheme, port) {
		host += ":" + port
	}

	out := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     strings.TrimSuffix(parsed.EscapedPath(), "/"),
		RawQuery: cleanQuery(parsed.Query()),
	}
	// EscapedPath is already escaped; keep it as RawPath so String does not
	// escape it twice.
	if unescaped, err := url.PathUnescape(out.Path); err == nil {
		out.RawPath = out.Path
		out.Path = unescaped
	}
	return out.String(), nil
}

// Host returns the canonical host of raw, or "" if it cannot be parsed.
func Host(raw string) string {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return ""
	}
	parsed, err := url.Parse(canonical)
	if err != nil {
		return ""
	}
	return parsed.Host
}

func cleanQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		lower := strings.ToLower(key)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	kept := url.Values{}
	for _, key := range keys {
		kept[key] = values[key]
	}
	return kept.Encode()
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
