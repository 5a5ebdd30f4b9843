package ratelimit

import (
	"strings"
)

// healthPath is never throttled so load balancer health checks always pass.
const healthPath = "/health"

// MatchEndpoint returns the configuration for a request, or nil when none
// applies and the default limit should be used.
//
// Config paths are matched in three passes: literal paths, then patterns whose
// "{name}" segments match any single non-empty segment (e.g.
// "/statements/{id}"), then prefixes ending in "/" (e.g. "/admin/abuse/").
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == healthPath && method == "GET" {
		return &EndpointConfig{Path: healthPath, Method: method} // unlimited
	}

	for i := range configs {
		config := &configs[i]
		if config.Method == method && config.Path == path {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if config.Method == method && isPattern(config.Path) && matchSegments(config.Path, path) {
			return config
		}
	}

	for i := range configs {
		config := &configs[i]
		if config.Method == method && strings.HasSuffix(config.Path, "/") && strings.HasPrefix(path, config.Path) {
			return config
		}
	}

	return nil
}

func isPattern(p string) bool {
	return strings.Contains(p, "{")
}

// matchSegments reports whether path has the same segments as pattern, with
// each "{name}" segment standing for one non-empty segment.
func matchSegments(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}
