package abuse

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0 // sweeps are triggered by hand in tests
	return cfg
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l := NewLimiter(cfg, WithClock(clock.Now))
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_OriginAxisLimit(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())
	windowEnd := clock.Now().Add(time.Hour)

	for i := 0; i < 5; i++ {
		d := l.CheckAndRecord("10.0.0.1", fmt.Sprintf("user%d@example.com", i))
		require.True(t, d.Allowed, "attempt %d", i+1)
		clock.Advance(time.Minute)
	}

	d := l.CheckAndRecord("10.0.0.1", "someone-new@example.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, AxisOrigin, d.Axis)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, windowEnd, d.ResetAt)
	assert.Equal(t, 55*time.Minute, d.RetryAfter)
}

func TestLimiter_OriginDenialShortCircuits(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		require.True(t, l.CheckAndRecord("10.0.0.1", fmt.Sprintf("u%d", i)).Allowed)
	}

	d := l.CheckAndRecord("10.0.0.1", "fresh-identity")
	require.False(t, d.Allowed)

	_, recorded := l.Lookup(AxisIdentity, "fresh-identity")
	assert.False(t, recorded, "identity axis must not record a call denied on origin")

	entry, ok := l.Lookup(AxisOrigin, "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, 5, entry.Count, "denial must not mutate the entry")
}

func TestLimiter_IdentityAxisLimit(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		// distinct origins so only the identity axis fills up
		d := l.CheckAndRecord(fmt.Sprintf("10.0.0.%d", i), "Alice@Example.com")
		require.True(t, d.Allowed, "attempt %d", i+1)
	}

	d := l.CheckAndRecord("10.0.1.1", "alice@example.COM")
	assert.False(t, d.Allowed)
	assert.Equal(t, AxisIdentity, d.Axis)
	assert.Equal(t, 10, d.Limit)

	// The origin of the denied call records nothing either.
	_, ok := l.Lookup(AxisOrigin, "10.0.1.1")
	assert.False(t, ok)
}

func TestLimiter_IdentityIsCaseInsensitive(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	l.CheckAndRecord("", "Bob@Example.com")
	l.CheckAndRecord("", "bob@example.com")

	entry, ok := l.Lookup(AxisIdentity, "BOB@EXAMPLE.COM")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Count)
}

func TestLimiter_NoOriginSkipsOriginAxis(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		require.True(t, l.CheckAndRecord("", "carol").Allowed)
	}
	assert.False(t, l.CheckAndRecord("", "carol").Allowed)
	assert.Equal(t, 0, l.Size(AxisOrigin))
}

func TestLimiter_WindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		l.CheckAndRecord("10.0.0.1", fmt.Sprintf("u%d", i))
	}
	require.False(t, l.CheckAndRecord("10.0.0.1", "late").Allowed)

	clock.Advance(time.Hour) // now == resetAt

	d := l.CheckAndRecord("10.0.0.1", "late")
	require.True(t, d.Allowed)

	entry, ok := l.Lookup(AxisOrigin, "10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Count)
	assert.Equal(t, clock.Now().Add(time.Hour), entry.ResetAt)
}

func TestLimiter_ExpiryWithoutSweep(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		l.CheckAndRecord("", "dave")
	}
	require.False(t, l.CheckAndRecord("", "dave").Allowed)

	clock.Advance(61 * time.Minute)
	// The stale entry is still stored; the decision must not care.
	assert.Equal(t, 1, l.Size(AxisIdentity))
	assert.True(t, l.CheckAndRecord("", "dave").Allowed)
}

func TestLimiter_AllowedDecisionReportsTighterAxis(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	d := l.CheckAndRecord("10.0.0.1", "erin")
	assert.True(t, d.Allowed)
	assert.Equal(t, AxisOrigin, d.Axis)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), d.ResetAt)

	d = l.CheckAndRecord("", "erin")
	assert.Equal(t, AxisIdentity, d.Axis)
	assert.Equal(t, 8, d.Remaining)
}

func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	l.CheckAndRecord("10.0.0.1", "old")
	clock.Advance(30 * time.Minute)
	l.CheckAndRecord("10.0.0.2", "new")

	clock.Advance(31 * time.Minute) // first window over, second still open
	removed := l.Sweep()

	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, l.Size(AxisOrigin))
	assert.Equal(t, 1, l.Size(AxisIdentity))
	_, ok := l.Lookup(AxisOrigin, "10.0.0.2")
	assert.True(t, ok)
}

func TestLimiter_BackgroundSweep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 10 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	l := NewLimiter(cfg)
	defer l.Stop()

	l.CheckAndRecord("10.0.0.1", "frank")
	require.Equal(t, 1, l.Size(AxisOrigin))

	assert.Eventually(t, func() bool {
		return l.Size(AxisOrigin) == 0 && l.Size(AxisIdentity) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestLimiter_ResetSingleKey(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 5; i++ {
		l.CheckAndRecord("10.0.0.1", fmt.Sprintf("u%d", i))
		l.CheckAndRecord("10.0.0.2", fmt.Sprintf("v%d", i))
	}
	require.False(t, l.CheckAndRecord("10.0.0.1", "x").Allowed)

	l.ResetOrigin("10.0.0.1")
	assert.True(t, l.CheckAndRecord("10.0.0.1", "x").Allowed)
	assert.False(t, l.CheckAndRecord("10.0.0.2", "y").Allowed, "other keys are untouched")

	l.ResetIdentity("U1")
	_, ok := l.Lookup(AxisIdentity, "u1")
	assert.False(t, ok)
	_, ok = l.Lookup(AxisIdentity, "u2")
	assert.True(t, ok)
}

func TestLimiter_Clear(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())
	ctx := context.Background()

	_, err := l.Admit(ctx, "10.0.0.9", "grace")
	require.NoError(t, err)

	require.NoError(t, l.Clear(ctx, AxisIdentity, "GRACE"))
	require.NoError(t, l.Clear(ctx, AxisOrigin, "10.0.0.9"))
	assert.Equal(t, 0, l.Size(AxisOrigin))
	assert.Equal(t, 0, l.Size(AxisIdentity))
}

func TestLimiter_ExemptOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.ExemptOrigins = map[string]bool{"127.0.0.1": true}
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 20; i++ {
		require.True(t, l.CheckAndRecord("127.0.0.1", fmt.Sprintf("admin%d", i)).Allowed)
	}
	assert.Equal(t, 0, l.Size(AxisOrigin))
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 50; i++ {
		require.True(t, l.CheckAndRecord("10.0.0.1", "henry").Allowed)
	}
	assert.Equal(t, 0, l.Size(AxisIdentity))
}

func TestLimiter_CustomLimits(t *testing.T) {
	cfg := testConfig()
	cfg.OriginLimit = 2
	cfg.IdentityLimit = 3
	cfg.Window = time.Minute
	l, clock := newTestLimiter(t, cfg)

	assert.True(t, l.CheckAndRecord("1.1.1.1", "ivy").Allowed)
	assert.True(t, l.CheckAndRecord("1.1.1.1", "ivy").Allowed)
	d := l.CheckAndRecord("1.1.1.1", "ivy")
	assert.False(t, d.Allowed)
	assert.Equal(t, 2, d.Limit)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestLimiter_Concurrent(t *testing.T) {
	cfg := testConfig()
	cfg.IdentityLimit = 100
	l, _ := newTestLimiter(t, cfg)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckAndRecord("", "shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	// Sweeps racing with admissions must be harmless.
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Sweep()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestNewLimiter_NilConfig(t *testing.T) {
	l := NewLimiter(nil)
	defer l.Stop()
	l.Stop() // idempotent

	d := l.CheckAndRecord("10.0.0.1", "jack")
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("ABUSE_ORIGIN_LIMIT", "7")
	t.Setenv("ABUSE_IDENTITY_LIMIT", "12")
	t.Setenv("ABUSE_WINDOW", "30m")
	t.Setenv("ABUSE_EXEMPT_ORIGINS", "127.0.0.1, 10.0.0.1")
	t.Setenv("ABUSE_BACKEND", "REDIS")

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 7, cfg.OriginLimit)
	assert.Equal(t, 12, cfg.IdentityLimit)
	assert.Equal(t, 30*time.Minute, cfg.Window)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.True(t, cfg.ExemptOrigins["10.0.0.1"])
}

func TestLoadConfig_InvalidFallsBack(t *testing.T) {
	t.Setenv("ABUSE_ORIGIN_LIMIT", "many")
	t.Setenv("ABUSE_WINDOW", "soon")

	cfg := LoadConfig()
	assert.Equal(t, 5, cfg.OriginLimit)
	assert.Equal(t, time.Hour, cfg.Window)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unlimited axes", func(c *Config) { c.OriginLimit, c.IdentityLimit = 0, 0 }, ""},
		{"negative origin limit", func(c *Config) { c.OriginLimit = -1 }, "non-negative"},
		{"negative identity limit", func(c *Config) { c.IdentityLimit = -3 }, "non-negative"},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }, "sweep interval"},
		{"zero window", func(c *Config) { c.Window = 0 }, "at least 1ms"},
		{"sub-millisecond window", func(c *Config) { c.Window = 500 * time.Microsecond }, "at least 1ms"},
		{"zero window when disabled", func(c *Config) { c.Enabled = false; c.Window = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_ZeroWindowFailsValidation(t *testing.T) {
	t.Setenv("ABUSE_WINDOW", "0s")

	cfg := LoadConfig()
	assert.Equal(t, time.Duration(0), cfg.Window)
	assert.Error(t, cfg.Validate())
}
