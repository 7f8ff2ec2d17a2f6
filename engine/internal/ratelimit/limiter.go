// Package ratelimit enforces the per-organiser politeness setting spec
// §4.3 requires when a scraper fetches more than one page or API call
// within a single organiser's site (≥ 500ms between requests by
// default, adapting downward on errors and back up on sustained
// success). A sharded per-organiser token bucket paired with a
// failure-triggered circuit breaker, keyed on organiser name rather
// than request domain.
package ratelimit

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("ratelimit: circuit open")

// RateLimiter bounds request concurrency and pacing for a named
// organiser, adapting to the feedback it's given.
type RateLimiter interface {
	Acquire(ctx context.Context, organiser string) (Permit, error)
	Feedback(organiser string, fb Feedback)
	Snapshot() LimiterSnapshot
}

// Permit must be released once the paced request completes.
type Permit interface{ Release() }

// Feedback reports the outcome of a request made after Acquire, so the
// limiter can adapt its pacing and circuit-breaker state.
type Feedback struct {
	StatusCode int
	Latency    time.Duration
	Err        error
}

// LimiterSnapshot is a point-in-time view across all tracked organisers.
type LimiterSnapshot struct {
	TotalRequests    int64
	Throttled        int64
	Denied           int64
	OpenCircuits     int64
	HalfOpenCircuits int64
	Organisers       []OrganiserSummary
}

// OrganiserSummary is one organiser's current pacing/circuit state.
type OrganiserSummary struct {
	Organiser    string
	FillRate     float64
	CircuitState string
	LastActivity time.Time
}

// Config tunes an AdaptiveRateLimiter.
type Config struct {
	// Enabled, when false, makes Acquire a no-op: every call returns an
	// immediate permit. Useful for tests and for organisers scraped via
	// a single request where pacing has nothing to bound.
	Enabled bool

	// Shards is the number of lock stripes over tracked organisers;
	// rounded up to the next power of two. Default 16.
	Shards int

	// StateTTL is how long an organiser's pacing state survives without
	// activity before being evicted. Default 2 minutes.
	StateTTL time.Duration

	// InitialFillRatePerSecond seeds a newly seen organiser's token
	// refill rate. Default 2 (spec's 500ms-between-requests default).
	InitialFillRatePerSecond float64

	// MinFillRatePerSecond and MaxFillRatePerSecond bound how far
	// Feedback can push an organiser's fill rate.
	MinFillRatePerSecond float64
	MaxFillRatePerSecond float64
}

// DefaultConfig returns spec §4.3's default politeness setting: 500ms
// between requests per organiser, backing off on errors and recovering
// on success, enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		Shards:                   16,
		StateTTL:                 2 * time.Minute,
		InitialFillRatePerSecond: 2,
		MinFillRatePerSecond:     0.2,
		MaxFillRatePerSecond:     5,
	}
}

// AdaptiveRateLimiter is a sharded, per-organiser token bucket with a
// circuit breaker that opens after repeated failures.
type AdaptiveRateLimiter struct {
	cfg           Config
	clock         Clock
	shards        []*organiserShard
	mask          uint64
	metricsMu     sync.Mutex
	metrics       LimiterSnapshot
	stopCh        chan struct{}
	evictWG       sync.WaitGroup
	evictInterval time.Duration
	stopOnce      sync.Once
}

type organiserShard struct {
	mu         sync.RWMutex
	organisers map[string]*organiserState
}

// NewAdaptiveRateLimiter builds a limiter and starts its idle-eviction
// loop. Close stops that loop.
func NewAdaptiveRateLimiter(cfg Config) *AdaptiveRateLimiter {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	} else if cfg.Shards&(cfg.Shards-1) != 0 {
		n := 1
		for n < cfg.Shards {
			n <<= 1
		}
		cfg.Shards = n
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 2 * time.Minute
	}
	if cfg.InitialFillRatePerSecond <= 0 {
		cfg.InitialFillRatePerSecond = 2
	}
	if cfg.MinFillRatePerSecond <= 0 {
		cfg.MinFillRatePerSecond = 0.2
	}
	if cfg.MaxFillRatePerSecond <= 0 {
		cfg.MaxFillRatePerSecond = 5
	}
	shards := make([]*organiserShard, cfg.Shards)
	for i := range shards {
		shards[i] = &organiserShard{organisers: make(map[string]*organiserState)}
	}
	interval := cfg.StateTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	l := &AdaptiveRateLimiter{cfg: cfg, clock: realClock{}, shards: shards, mask: uint64(cfg.Shards - 1), stopCh: make(chan struct{}), evictInterval: interval}
	l.startEvictionLoop()
	return l
}

// WithClock overrides the limiter's time source, for tests.
func (l *AdaptiveRateLimiter) WithClock(clock Clock) *AdaptiveRateLimiter {
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *AdaptiveRateLimiter) shardIndex(organiser string) uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(organiser))
	return uint64(h.Sum32()) & l.mask
}

func (l *AdaptiveRateLimiter) getOrCreateOrganiserState(organiser string) *organiserState {
	idx := l.shardIndex(organiser)
	shard := l.shards[idx]
	shard.mu.RLock()
	state := shard.organisers[organiser]
	shard.mu.RUnlock()
	if state != nil {
		return state
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if state = shard.organisers[organiser]; state == nil {
		state = newOrganiserState(l.cfg, l.clock.Now())
		shard.organisers[organiser] = state
	}
	return state
}

func (l *AdaptiveRateLimiter) withMetrics(mutator func(*LimiterSnapshot)) {
	l.metricsMu.Lock()
	mutator(&l.metrics)
	l.metricsMu.Unlock()
}

// Acquire blocks (respecting ctx) until the named organiser's pacing
// allows another request, then returns a Permit. If the organiser's
// circuit is open, it returns ErrCircuitOpen immediately.
func (l *AdaptiveRateLimiter) Acquire(ctx context.Context, organiser string) (Permit, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.cfg.Enabled {
		return immediatePermit{}, nil
	}
	normalised, err := normaliseOrganiser(organiser)
	if err != nil {
		return nil, err
	}
	state := l.getOrCreateOrganiserState(normalised)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		now := l.clock.Now()
		wait, err := state.planRequest(now)
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				l.withMetrics(func(m *LimiterSnapshot) { m.Denied++ })
			}
			return nil, err
		}
		if wait <= 0 {
			l.withMetrics(func(m *LimiterSnapshot) { m.TotalRequests++ })
			return immediatePermit{}, nil
		}
		l.withMetrics(func(m *LimiterSnapshot) { m.Throttled++ })
		if !sleepWithContext(ctx, l.clock, wait) {
			return nil, ctx.Err()
		}
	}
}

// Feedback reports a completed request's outcome for the named
// organiser, adapting its pacing and circuit-breaker state.
func (l *AdaptiveRateLimiter) Feedback(organiser string, fb Feedback) {
	if !l.cfg.Enabled {
		return
	}
	normalised, err := normaliseOrganiser(organiser)
	if err != nil {
		return
	}
	state := l.getOrCreateOrganiserState(normalised)
	state.applyFeedback(l.cfg, fb, l.clock.Now())
}

// Snapshot returns current throughput metrics plus the ten
// most-recently-active organisers' pacing/circuit state.
func (l *AdaptiveRateLimiter) Snapshot() LimiterSnapshot {
	base := func() LimiterSnapshot { l.metricsMu.Lock(); defer l.metricsMu.Unlock(); return l.metrics }()
	var open, halfOpen int64
	var organisers []OrganiserSummary
	for _, shard := range l.shards {
		shard.mu.RLock()
		for name, state := range shard.organisers {
			state.mu.Lock()
			cs := "closed"
			switch state.breaker.state {
			case circuitOpen:
				cs = "open"
				open++
			case circuitHalfOpen:
				cs = "half-open"
				halfOpen++
			}
			organisers = append(organisers, OrganiserSummary{Organiser: name, FillRate: state.fillRate, CircuitState: cs, LastActivity: state.lastActivity})
			state.mu.Unlock()
		}
		shard.mu.RUnlock()
	}
	for i := 1; i < len(organisers); i++ {
		j := i
		for j > 0 && organisers[j-1].LastActivity.Before(organisers[j].LastActivity) {
			organisers[j-1], organisers[j] = organisers[j], organisers[j-1]
			j--
		}
	}
	if len(organisers) > 10 {
		organisers = append([]OrganiserSummary(nil), organisers[:10]...)
	}
	base.Organisers = organisers
	base.OpenCircuits = open
	base.HalfOpenCircuits = halfOpen
	return base
}

// Close stops the idle-eviction loop. Safe to call more than once.
func (l *AdaptiveRateLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh); l.evictWG.Wait() })
	return nil
}

type immediatePermit struct{}

func (immediatePermit) Release() {}

func (l *AdaptiveRateLimiter) startEvictionLoop() { l.evictWG.Add(1); go l.evictLoop() }

func (l *AdaptiveRateLimiter) evictLoop() {
	defer l.evictWG.Done()
	ticker := time.NewTicker(l.evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdleOrganisers()
		case <-l.stopCh:
			return
		}
	}
}

func (l *AdaptiveRateLimiter) evictIdleOrganisers() {
	now := l.clock.Now()
	for _, shard := range l.shards {
		shard.mu.Lock()
		for organiser, state := range shard.organisers {
			state.mu.Lock()
			idle := now.Sub(state.lastActivity)
			state.mu.Unlock()
			if idle >= l.cfg.StateTTL {
				delete(shard.organisers, organiser)
			}
		}
		shard.mu.Unlock()
	}
}

func sleepWithContext(ctx context.Context, clock Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

const (
	circuitClosed = iota
	circuitOpen
	circuitHalfOpen
)

type breakerState struct {
	state       int
	nextAttempt time.Time
	failures    int
	successes   int
}

// organiserState is one organiser's token bucket plus circuit breaker.
type organiserState struct {
	mu           sync.Mutex
	lastActivity time.Time
	fillRate     float64
	breaker      breakerState
	tokens       float64
	lastRefill   time.Time
}

func newOrganiserState(cfg Config, now time.Time) *organiserState {
	return &organiserState{lastActivity: now, fillRate: cfg.InitialFillRatePerSecond, tokens: 1, lastRefill: now}
}

func (s *organiserState) planRequest(now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if s.breaker.state == circuitOpen {
		if now.After(s.breaker.nextAttempt) {
			s.breaker.state = circuitHalfOpen
		} else {
			return 0, ErrCircuitOpen
		}
	}
	elapsed := now.Sub(s.lastRefill).Seconds()
	if elapsed > 0 {
		s.tokens += elapsed * s.fillRate
		if s.tokens > 10 {
			s.tokens = 10
		}
		s.lastRefill = now
	}
	if s.tokens >= 1 {
		s.tokens -= 1
		return 0, nil
	}
	waitSeconds := (1 - s.tokens) / math.Max(s.fillRate, 0.1)
	return time.Duration(waitSeconds * float64(time.Second)), nil
}

func (s *organiserState) applyFeedback(cfg Config, fb Feedback, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	if fb.Err != nil || fb.StatusCode >= 500 || fb.StatusCode == 429 {
		s.fillRate *= 0.8
		if s.fillRate < cfg.MinFillRatePerSecond {
			s.fillRate = cfg.MinFillRatePerSecond
		}
		s.breaker.failures++
	} else {
		s.fillRate *= 1.05
		if s.fillRate > cfg.MaxFillRatePerSecond {
			s.fillRate = cfg.MaxFillRatePerSecond
		}
		if s.breaker.state == circuitHalfOpen {
			s.breaker.successes++
		}
	}
	switch s.breaker.state {
	case circuitHalfOpen:
		if s.breaker.successes >= 3 {
			s.breaker = breakerState{state: circuitClosed}
		} else if s.breaker.failures > 0 {
			s.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(time.Second)}
		}
	case circuitClosed:
		if s.breaker.failures >= 5 {
			s.breaker = breakerState{state: circuitOpen, nextAttempt: now.Add(5 * time.Second)}
		}
	}
}

func normaliseOrganiser(organiser string) (string, error) {
	if organiser == "" {
		return "", errors.New("ratelimit: empty organiser")
	}
	return organiser, nil
}
