// Package ratelimit implements the per-client sliding window limiter that
// guards the calendar endpoints.
//
// State lives in process memory only and is cleared on restart. Multiple
// instances keep independent tables.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deadlinecal/deadlinecal/internal/config"
)

// ErrRateLimited is matched by errors.Is on a denied admission.
var ErrRateLimited = errors.New("rate limit exceeded")

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until the oldest counted request leaves the
	// window. Zero when Allowed.
	RetryAfter time.Duration

	// Remaining is the number of further requests the key may make in the
	// current window.
	Remaining int
}

// Err returns nil for an allowed decision and an error wrapping
// ErrRateLimited otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: retry after %s", ErrRateLimited, d.RetryAfter)
}

// Stats is a point-in-time view of limiter state.
type Stats struct {
	Enabled        bool
	TrackedClients int
	MaxRequests    int
	Window         time.Duration
}

// Limiter admits requests per client key against a sliding window.
type Limiter struct {
	enabled     bool
	maxRequests int
	window      time.Duration
	schedule    string

	// Clock supplies the current time for Allow and the sweeper.
	Clock func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	cronMu  sync.Mutex
	sweeper *cron.Cron
}

// New builds a limiter from configuration. A disabled configuration yields
// a limiter that admits everything.
func New(cfg config.RateLimitConfig) (*Limiter, error) {
	l := &Limiter{
		enabled:  cfg.Enabled,
		schedule: cfg.SweepSchedule,
		clients:  make(map[string][]time.Time),
	}
	if !cfg.Enabled {
		return l, nil
	}

	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("max requests must be positive, got %d", cfg.MaxRequests)
	}
	if cfg.Window() <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window())
	}

	l.maxRequests = cfg.MaxRequests
	l.window = cfg.Window()
	return l, nil
}

// Enabled reports whether the limiter enforces limits.
func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow is Admit at the limiter's clock time.
func (l *Limiter) Allow(key string) Decision {
	return l.Admit(key, l.now())
}

// Admit decides whether key may make a request at now and, when it may,
// records the request. The check and the record happen under one lock, so
// two concurrent callers never both take the last slot.
func (l *Limiter) Admit(key string, now time.Time) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.prune(key, now)
	if len(stamps) < l.maxRequests {
		stamps = append(stamps, now)
		l.clients[key] = stamps
		return Decision{Allowed: true, Remaining: l.maxRequests - len(stamps)}
	}

	retry := stamps[0].Add(l.window).Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

// prune drops timestamps that have left the window for key and returns what
// remains. An emptied key is removed from the map. Caller holds l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	stamps, ok := l.clients[key]
	if !ok {
		return nil
	}

	cut := 0
	for cut < len(stamps) && !inWindow(stamps[cut], now, l.window) {
		cut++
	}
	if cut == len(stamps) {
		delete(l.clients, key)
		return nil
	}
	if cut > 0 {
		stamps = append(stamps[:0], stamps[cut:]...)
		l.clients[key] = stamps
	}
	return stamps
}

// inWindow reports whether stamp still counts at now. A stamp leaves the
// window exactly window after it was recorded.
func inWindow(stamp, now time.Time, window time.Duration) bool {
	return stamp.Add(window).After(now)
}

// Sweep removes every key whose timestamps have all expired and returns the
// number of keys removed.
func (l *Limiter) Sweep(now time.Time) int {
	if !l.Enabled() {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, stamps := range l.clients {
		if len(stamps) == 0 || !inWindow(stamps[len(stamps)-1], now, l.window) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Stats returns the current limiter state.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Enabled:        l.enabled,
		TrackedClients: len(l.clients),
		MaxRequests:    l.maxRequests,
		Window:         l.window,
	}
}

// Reset forgets all tracked clients.
func (l *Limiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string][]time.Time)
}

// Start schedules the periodic sweep. onSweep, when non-nil, receives the
// number of keys removed by each run. Start on a disabled limiter is a no-op.
func (l *Limiter) Start(onSweep func(removed int)) error {
	if !l.Enabled() {
		return nil
	}

	l.cronMu.Lock()
	defer l.cronMu.Unlock()
	if l.sweeper != nil {
		return errors.New("rate limit sweeper already started")
	}

	schedule := l.schedule
	if schedule == "" {
		schedule = fmt.Sprintf("@every %s", l.window)
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		removed := l.Sweep(l.now())
		if onSweep != nil {
			onSweep(removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule rate limit sweep %q: %w", schedule, err)
	}

	c.Start()
	l.sweeper = c
	return nil
}

// Stop halts the sweeper and waits for a running sweep to finish.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.cronMu.Lock()
	c := l.sweeper
	l.sweeper = nil
	l.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
