// Package abuse throttles statement submissions along two independent axes:
// the network origin address and the claimed identity. Each axis counts
// attempts per key inside a fixed window.
package abuse

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Axis names one throttling dimension.
type Axis string

const (
	AxisOrigin   Axis = "origin"
	AxisIdentity Axis = "identity"
)

// Decision is the result of one admission check.
//
// A denial carries the axis that refused, that axis' limit and the moment its
// window resets. An admission describes the axis with the fewest attempts
// left after recording.
type Decision struct {
	Allowed    bool
	Axis       Axis
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Gate admits or denies a submission attempt. Both the in-process Limiter and
// the shared RedisLimiter implement it.
type Gate interface {
	Admit(ctx context.Context, origin, identity string) (Decision, error)
	Clear(ctx context.Context, axis Axis, key string) error
	Stop()
}

// Entry is the state of one tracked key.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Option configures a limiter.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for window arithmetic.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IdentityKey is the case-insensitive key used for the identity axis.
func IdentityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Limiter is the in-process dual-axis limiter. Entries live only in memory
// for the lifetime of the instance.
type Limiter struct {
	config     *Config
	now        func() time.Time
	mu         sync.Mutex
	origins    map[string]*Entry
	identities map[string]*Entry

	sweepTicker *time.Ticker
	sweepStop   chan struct{}
	stopOnce    sync.Once
}

// NewLimiter creates a limiter and starts its background sweep. A nil config
// uses DefaultConfig. Call Stop to end the sweep.
func NewLimiter(config *Config, opts ...Option) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	o := buildOptions(opts)

	l := &Limiter{
		config:     config,
		now:        o.now,
		origins:    make(map[string]*Entry),
		identities: make(map[string]*Entry),
	}

	if config.Enabled && config.SweepInterval > 0 {
		l.sweepTicker = time.NewTicker(config.SweepInterval)
		l.sweepStop = make(chan struct{})
		go l.sweepLoop()
	}

	return l
}

// CheckAndRecord evaluates the origin axis (when origin is non-empty), then
// the identity axis. An origin denial returns immediately and records
// nothing on either axis. Only when both axes admit is the attempt counted on
// both.
func (l *Limiter) CheckAndRecord(origin, identity string) Decision {
	if !l.config.Enabled {
		return Decision{Allowed: true}
	}

	now := l.now()
	useOrigin := origin != "" && !l.config.ExemptOrigins[origin] && l.config.OriginLimit > 0
	useIdentity := l.config.IdentityLimit > 0
	idKey := IdentityKey(identity)

	l.mu.Lock()
	defer l.mu.Unlock()

	if useOrigin {
		if e := l.live(l.origins, origin, now); e != nil && e.Count >= l.config.OriginLimit {
			return denial(AxisOrigin, l.config.OriginLimit, e, now)
		}
	}
	if useIdentity {
		if e := l.live(l.identities, idKey, now); e != nil && e.Count >= l.config.IdentityLimit {
			return denial(AxisIdentity, l.config.IdentityLimit, e, now)
		}
	}

	decision := Decision{Allowed: true, Remaining: -1}
	if useOrigin {
		e := l.record(l.origins, origin, now)
		decision = tighter(decision, AxisOrigin, l.config.OriginLimit, e)
	}
	if useIdentity {
		e := l.record(l.identities, idKey, now)
		decision = tighter(decision, AxisIdentity, l.config.IdentityLimit, e)
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision
}

// Admit implements Gate.
func (l *Limiter) Admit(_ context.Context, origin, identity string) (Decision, error) {
	return l.CheckAndRecord(origin, identity), nil
}

// Clear implements Gate.
func (l *Limiter) Clear(_ context.Context, axis Axis, key string) error {
	switch axis {
	case AxisOrigin:
		l.ResetOrigin(key)
	case AxisIdentity:
		l.ResetIdentity(key)
	}
	return nil
}

// ResetOrigin drops the entry of one origin address.
func (l *Limiter) ResetOrigin(origin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.origins, origin)
}

// ResetIdentity drops the entry of one identity, matched case-insensitively.
func (l *Limiter) ResetIdentity(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.identities, IdentityKey(identity))
}

// Lookup returns the live entry of key on axis. Expired entries are reported
// as absent whether or not they have been swept yet.
func (l *Limiter) Lookup(axis Axis, key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.origins
	if axis == AxisIdentity {
		m = l.identities
		key = IdentityKey(key)
	}
	e, ok := m[key]
	if !ok || !l.now().Before(e.ResetAt) {
		return Entry{}, false
	}
	return *e, true
}

// Size returns the number of stored entries on axis, expired or not.
func (l *Limiter) Size(axis Axis) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if axis == AxisIdentity {
		return len(l.identities)
	}
	return len(l.origins)
}

// Sweep deletes every expired entry on both axes and returns how many were
// removed. Decisions never depend on it having run.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for _, m := range []map[string]*Entry{l.origins, l.identities} {
		for key, e := range m {
			if !now.Before(e.ResetAt) {
				delete(m, key)
				removed++
			}
		}
	}
	return removed
}

// Stop stops the sweep goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		if l.sweepTicker != nil {
			l.sweepTicker.Stop()
		}
		if l.sweepStop != nil {
			close(l.sweepStop)
		}
	})
}

func (l *Limiter) sweepLoop() {
	for {
		select {
		case <-l.sweepTicker.C:
			l.Sweep()
		case <-l.sweepStop:
			return
		}
	}
}

// live returns the entry for key, deleting it first if its window has passed.
func (l *Limiter) live(m map[string]*Entry, key string, now time.Time) *Entry {
	e, ok := m[key]
	if !ok {
		return nil
	}
	if !now.Before(e.ResetAt) {
		delete(m, key)
		return nil
	}
	return e
}

// record counts one attempt for key, opening a new window when needed.
func (l *Limiter) record(m map[string]*Entry, key string, now time.Time) *Entry {
	e := l.live(m, key, now)
	if e == nil {
		e = &Entry{ResetAt: now.Add(l.config.Window)}
		m[key] = e
	}
	e.Count++
	return e
}

func denial(axis Axis, limit int, e *Entry, now time.Time) Decision {
	retry := e.ResetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{
		Allowed:    false,
		Axis:       axis,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    e.ResetAt,
		RetryAfter: retry,
	}
}

// tighter keeps whichever axis has fewer attempts left.
func tighter(current Decision, axis Axis, limit int, e *Entry) Decision {
	remaining := limit - e.Count
	if current.Remaining >= 0 && current.Remaining <= remaining {
		return current
	}
	return Decision{
		Allowed:   true,
		Axis:      axis,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   e.ResetAt,
	}
}
