package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLimiter_Refill(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Second, // 10 tokens per second
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	// Consume all tokens
	for i := 0; i < 10; i++ {
		limiter.Allow("127.0.0.1", "/test", "GET")
	}
	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); allowed {
		t.Error("Expected request to be denied with an empty bucket")
	}

	// Wait for at least 1 token to refill
	time.Sleep(150 * time.Millisecond)

	if allowed, _ := limiter.Allow("127.0.0.1", "/test", "GET"); !allowed {
		t.Error("Expected request to be allowed after refill")
	}
}

func TestLimiter_ResetTime(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})
	defer limiter.Stop()

	var info Info
	for i := 0; i < 5; i++ {
		_, info = limiter.Allow("127.0.0.1", "/test", "GET")
	}
	if info.Remaining != 5 {
		t.Errorf("Expected 5 remaining tokens, got %d", info.Remaining)
	}
	if !info.ResetTime.After(time.Now()) {
		t.Error("Reset time should be in the future")
	}
	if info.RetryAfter != 0 {
		t.Errorf("Expected no retry after for an allowed request, got %v", info.RetryAfter)
	}
}

func tierConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

func TestLimiter_DefaultTiers(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		wantLimit int
		wantBurst int
	}{
		{"submit", "POST", "/statements", 120, 20},
		{"preview", "POST", "/admin/preview", 30, 5},
		{"clear origin", "DELETE", "/admin/abuse/origins/10.0.0.9", 60, 10},
		{"read statement", "GET", "/statements/0b7e5a1c-8f52-4a4e-9f8a-2f0f5c9d1e11", 600, 60},
		{"read group", "GET", "/groups/4c1d2e3f-0000-4000-8000-000000000001", 300, 30},
		{"list subject", "GET", "/subjects/7/statements", 300, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(tierConfig())
			defer limiter.Stop()

			for i := 0; i < tt.wantBurst; i++ {
				allowed, info := limiter.Allow("10.0.0.1", tt.path, tt.method)
				if !allowed {
					t.Fatalf("Expected request %d of the burst to be allowed", i+1)
				}
				if info.Limit != tt.wantLimit {
					t.Errorf("Expected limit %d, got %d", tt.wantLimit, info.Limit)
				}
			}

			allowed, info := limiter.Allow("10.0.0.1", tt.path, tt.method)
			if allowed {
				t.Fatal("Expected the request after the burst to be denied")
			}
			if info.Remaining != 0 {
				t.Errorf("Expected remaining 0, got %d", info.Remaining)
			}
			if info.RetryAfter <= 0 {
				t.Error("Expected retry after to be positive")
			}
		})
	}
}

func TestLimiter_ClientLists(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		client      string
		requests    int
		wantAllowed int
	}{
		{
			name:   "whitelisted client skips the submit tier",
			config: &Config{
				Enabled:         true,
				EndpointConfigs: DefaultEndpointConfigs(),
				Whitelist:       map[string]bool{"10.0.0.1": true},
			},
			client:      "10.0.0.1",
			requests:    50,
			wantAllowed: 50,
		},
		{
			name:   "blacklisted client is always denied",
			config: &Config{
				Enabled:         true,
				EndpointConfigs: DefaultEndpointConfigs(),
				Blacklist:       map[string]bool{"192.168.1.1": true},
			},
			client:      "192.168.1.1",
			requests:    3,
			wantAllowed: 0,
		},
		{
			name:        "disabled limiter admits everything",
			config:      &Config{Enabled: false, EndpointConfigs: DefaultEndpointConfigs()},
			client:      "10.0.0.1",
			requests:    50,
			wantAllowed: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(tt.config)
			defer limiter.Stop()

			got := 0
			for i := 0; i < tt.requests; i++ {
				allowed, info := limiter.Allow(tt.client, "/statements", "POST")
				if allowed {
					got++
				}
				if info.Limit != 0 {
					t.Errorf("Expected no limit reported, got %d", info.Limit)
				}
			}
			if got != tt.wantAllowed {
				t.Errorf("Expected %d allowed requests, got %d", tt.wantAllowed, got)
			}
			if limiter.Len() != 0 {
				t.Errorf("Expected no buckets, got %d", limiter.Len())
			}
		})
	}
}

func TestLimiter_BucketsAreIsolated(t *testing.T) {
	limiter := NewLimiter(tierConfig())
	defer limiter.Stop()

	for i := 0; i < 20; i++ {
		limiter.Allow("10.0.0.1", "/statements", "POST")
	}
	if allowed, _ := limiter.Allow("10.0.0.1", "/statements", "POST"); allowed {
		t.Fatal("Expected the submit tier to be exhausted")
	}

	tests := []struct {
		name   string
		client string
		method string
		path   string
	}{
		{"other client", "10.0.0.2", "POST", "/statements"},
		{"read tier", "10.0.0.1", "GET", "/statements/abc"},
		{"group tier", "10.0.0.1", "GET", "/groups/abc"},
		{"subject listing", "10.0.0.1", "GET", "/subjects/1/statements"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if allowed, _ := limiter.Allow(tt.client, tt.path, tt.method); !allowed {
				t.Errorf("Expected %s %s from %s to be allowed", tt.method, tt.path, tt.client)
			}
		})
	}
}

func TestLimiter_DefaultLimit(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantLimit int
	}{
		{"nil config", nil, 1000},
		{"unmatched path", tierConfig(), 1000},
		{"custom default", &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, EndpointConfigs: DefaultEndpointConfigs()}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(tt.config)
			defer limiter.Stop()

			allowed, info := limiter.Allow("10.0.0.1", "/statements", "GET")
			if !allowed {
				t.Fatal("Expected request to be allowed")
			}
			if info.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, info.Limit)
			}
			if info.Remaining != tt.wantLimit-1 {
				t.Errorf("Expected remaining %d, got %d", tt.wantLimit-1, info.Remaining)
			}
		})
	}
}

func TestLimiter_ConcurrentSubmissions(t *testing.T) {
	limiter := NewLimiter(tierConfig())
	defer limiter.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := limiter.Allow("10.0.0.1", "/statements", "POST"); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Refill is 2/s, so only the burst gets through.
	if allowedCount != 20 {
		t.Errorf("Expected 20 allowed submissions, got %d", allowedCount)
	}
}

func TestNewLimiter_CleanupLoop(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		wantRunning bool
	}{
		{"enabled with interval", &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute, CleanupInterval: time.Minute}, true},
		{"enabled without interval", &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute}, false},
		{"disabled", &Config{Enabled: false, CleanupInterval: time.Minute}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(tt.config)
			defer limiter.Stop()

			if running := limiter.cleanupTicker != nil; running != tt.wantRunning {
				t.Errorf("Expected cleanup running=%v, got %v", tt.wantRunning, running)
			}
		})
	}
}

func TestLimiter_CleanupBuckets(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})
	defer limiter.Stop()
	defer limiter.Stop() // idempotent

	for i := 0; i < 3; i++ {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i), "/test", "GET")
	}
	if limiter.Len() != 3 {
		t.Fatalf("Expected 3 buckets, got %d", limiter.Len())
	}

	if removed := limiter.cleanupBuckets(time.Now().Add(-time.Hour)); removed != 0 {
		t.Errorf("Expected no recently used bucket to be removed, got %d", removed)
	}
	if removed := limiter.cleanupBuckets(time.Now().Add(time.Second)); removed != 3 {
		t.Errorf("Expected 3 stale buckets to be removed, got %d", removed)
	}
	if limiter.Len() != 0 {
		t.Errorf("Expected no buckets left, got %d", limiter.Len())
	}
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		path      string
		method    string
		wantLimit int
		wantNil   bool
	}{
		{"/health", "GET", 0, false},
		{"/statements", "POST", 120, false},
		{"/admin/preview", "POST", 30, false},
		{"/admin/abuse/origins/10.0.0.1", "DELETE", 60, false},
		{"/statements", "GET", 0, true},
		{"/statements/0b7e5a1c-8f52-4a4e-9f8a-2f0f5c9d1e11", "GET", 600, false},
		{"/statements/abc/extra", "GET", 0, true},
		{"/groups/abc", "GET", 300, false},
		{"/groups/", "GET", 0, true},
		{"/subjects/42/statements", "GET", 300, false},
		{"/subjects/42", "GET", 0, true},
		{"/admin/abuse/identities/a@b.c", "POST", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Expected no match, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Expected a match")
			}
			if got.Limit != tt.wantLimit {
				t.Errorf("Expected limit %d, got %d", tt.wantLimit, got.Limit)
			}
		})
	}
}

func TestLimiter_PatternSharesBucket(t *testing.T) {
	config := &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/statements/{id}", Method: "GET", Limit: 2, Window: time.Hour, Burst: 2},
		},
	}
	limiter := NewLimiter(config)
	defer limiter.Stop()

	for _, id := range []string{"a", "b"} {
		if allowed, _ := limiter.Allow("10.0.0.1", "/statements/"+id, "GET"); !allowed {
			t.Fatalf("Expected read of %s to be allowed", id)
		}
	}
	if allowed, _ := limiter.Allow("10.0.0.1", "/statements/c", "GET"); allowed {
		t.Error("Expected third read to share the exhausted bucket")
	}
	if limiter.Len() != 1 {
		t.Errorf("Expected 1 bucket, got %d", limiter.Len())
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "50")
	t.Setenv("RATE_LIMIT_WHITELIST", "127.0.0.1, ::1")

	config := LoadConfig()
	if !config.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}
	if config.DefaultLimit != 50 {
		t.Errorf("Expected default limit 50, got %d", config.DefaultLimit)
	}
	if !config.Whitelist["::1"] {
		t.Error("Expected ::1 to be whitelisted")
	}
	if len(config.EndpointConfigs) == 0 {
		t.Error("Expected endpoint configs")
	}

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	if LoadConfig().Enabled {
		t.Error("Expected rate limiting to be disabled")
	}
}
