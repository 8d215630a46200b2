package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"runhub/internal/api"
	"runhub/pkg/logging"

	"github.com/sony/gobreaker"
)

// Settings parameterizes one circuit breaker.
type Settings struct {
	// FailureThreshold is the number of failures within the rolling window
	// that opens the breaker.
	FailureThreshold int
	// RollingWindow is the interval over which failures are counted while
	// the breaker is closed.
	RollingWindow time.Duration
	// OpenDuration is how long the breaker stays open before allowing
	// half-open probes.
	OpenDuration time.Duration
	// HalfOpenMaxProbes bounds concurrent probe calls in the half-open
	// state.
	HalfOpenMaxProbes int
	// Timeout is the per-call deadline applied to every wrapped call. A
	// call exceeding it counts as a failure.
	Timeout time.Duration
}

// DefaultSettings matches the remote-cache breaker defaults: five failures
// within a 30s window open the breaker for 30s.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold:  5,
		RollingWindow:     30 * time.Second,
		OpenDuration:      30 * time.Second,
		HalfOpenMaxProbes: 1,
		Timeout:           2 * time.Second,
	}
}

// Breaker guards one named upstream.
type Breaker struct {
	name     string
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker
	openedAt time.Time
	mu       sync.Mutex
}

// New creates a breaker for the named upstream.
func New(name string, s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultSettings().FailureThreshold
	}
	if s.HalfOpenMaxProbes <= 0 {
		s.HalfOpenMaxProbes = 1
	}

	b := &Breaker{name: name, timeout: s.Timeout}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(s.HalfOpenMaxProbes),
		Interval:    s.RollingWindow,
		Timeout:     s.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(s.FailureThreshold)
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	if to == gobreaker.StateOpen {
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	}
	logging.Info("Breaker", "Upstream %s transitioned %s -> %s", name, from, to)
	notifyTransition(name, from.String(), to.String())
}

// Name returns the upstream name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State reports the current breaker state as closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether calls would currently fail fast.
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// OpenedAt returns when the breaker last opened. Zero if it never opened.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// Do executes fn through the breaker, applying the breaker's per-call
// timeout on top of any deadline already present on ctx. Open-state
// rejections surface as circuit_open engine errors with no upstream call
// made.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		if err := fn(callCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, MarkTransient(err)
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return api.NewError(api.ErrCircuitOpen, "upstream %s is unavailable", b.name).WithCause(err)
	}
	return err
}

// Set is the process-wide collection of breakers, one per named upstream.
// Lookups create breakers lazily with the set's default settings.
type Set struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Settings
}

// NewSet creates a breaker set with the given default settings.
func NewSet(defaults Settings) *Set {
	return &Set{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Get returns the breaker for the named upstream, creating it on first
// use.
func (s *Set) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = New(name, s.defaults)
	s.breakers[name] = b
	return b
}

// Add installs a breaker with upstream-specific settings, replacing any
// lazily created one.
func (s *Set) Add(name string, settings Settings) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := New(name, settings)
	s.breakers[name] = b
	return b
}

// States returns a snapshot of all breaker states keyed by upstream name.
func (s *Set) States() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}

// transitionObserver receives breaker state transitions, used by the health
// monitor's metrics. Registered once during bootstrap.
var (
	observerMu         sync.RWMutex
	transitionObserver func(upstream, from, to string)
)

// OnTransition registers the process-wide transition observer.
func OnTransition(fn func(upstream, from, to string)) {
	observerMu.Lock()
	defer observerMu.Unlock()
	transitionObserver = fn
}

func notifyTransition(upstream, from, to string) {
	observerMu.RLock()
	fn := transitionObserver
	observerMu.RUnlock()
	if fn != nil {
		fn(upstream, from, to)
	}
}
