// Package loader wraps an asynchronous module fetch so that a failure
// consistent with a stale build reference (the running client holds a
// manifest whose assets were removed by a newer deployment) is converted
// into a single full-environment restart instead of a user-visible crash.
//
// The wrapper retries exactly once per cooldown window per session. The
// only state that survives the restart is one timestamp flag in a
// session-scoped store; the loader itself is stateless within a process
// lifetime.
package loader

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// DefaultCooldown is the window during which a second recovery restart is
// suppressed so a module broken for reasons other than staleness cannot
// cause a restart loop.
const DefaultCooldown = 10 * time.Second

// DefaultFlagKey is the session store key holding the timestamp of the
// most recent recovery restart, in milliseconds since epoch.
const DefaultFlagKey = "manifold-reload-at"

// ErrReloadPending is returned from Load only when the caller's context is
// canceled after a recovery restart has been requested. Absent
// cancellation the call never settles: the process is expected to be torn
// down and replaced before the caller could observe a result.
var ErrReloadPending = errors.New("environment reload pending")

// Module is a unit of code loaded on demand, referenced as a discrete,
// separately fetchable artifact.
type Module struct {
	Name     string
	Version  string
	SHA256   string
	Payload  []byte
	LoadedAt time.Time
}

// Provider attempts to obtain a module. It takes no arguments beyond the
// context and may fail with any error.
type Provider func(ctx context.Context) (*Module, error)

// Clock supplies the current time. Injected so the cooldown window is
// testable with a fake clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FlagStore is the session-scoped key-value store holding the recovery
// flag. Its lifecycle is owned by the hosting environment: the flag
// survives a restart within the same session and is cleared when the
// session ends.
type FlagStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Reloader triggers a full reload of the hosting environment. Once
// invoked it is assumed to eventually terminate and replace the current
// process; there is no path to abort it.
type Reloader interface {
	Reload() error
}

// Option configures a Loader
type Option func(*Loader)

// WithCooldown overrides the recovery cooldown window
func WithCooldown(d time.Duration) Option {
	return func(l *Loader) { l.cooldown = d }
}

// WithFlagKey overrides the session store key for the recovery flag
func WithFlagKey(key string) Option {
	return func(l *Loader) { l.flagKey = key }
}

// WithClock overrides the clock (tests)
func WithClock(c Clock) Option {
	return func(l *Loader) { l.clock = c }
}

// WithObserver registers a callback invoked after every attempt
func WithObserver(fn func(Outcome)) Option {
	return func(l *Loader) { l.observe = fn }
}

// OutcomeKind classifies how one Load invocation ended
type OutcomeKind string

const (
	OutcomeLoaded     OutcomeKind = "loaded"     // provider succeeded
	OutcomeRecovering OutcomeKind = "recovering" // restart requested, call will not settle
	OutcomePropagated OutcomeKind = "propagated" // failure inside cooldown, surfaced to caller
)

// Outcome describes one finished attempt for metrics and logging
type Outcome struct {
	Kind     OutcomeKind
	Module   string
	Err      error
	Duration time.Duration
}

// Loader wraps a Provider with staleness recovery
type Loader struct {
	provider Provider
	flags    FlagStore
	reloader Reloader
	clock    Clock
	cooldown time.Duration
	flagKey  string
	observe  func(Outcome)
	never    chan struct{} // read after a reload request; never closed
}

// New wraps provider. flags and reloader are required collaborators; the
// clock defaults to the system clock and the cooldown to DefaultCooldown.
func New(provider Provider, flags FlagStore, reloader Reloader, opts ...Option) *Loader {
	l := &Loader{
		provider: provider,
		flags:    flags,
		reloader: reloader,
		clock:    SystemClock{},
		cooldown: DefaultCooldown,
		flagKey:  DefaultFlagKey,
		never:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load invokes the wrapped provider.
//
// On success the module is returned as-is; the recovery flag is left
// untouched (the cooldown is time-based, not success-based).
//
// On failure, if no recovery restart happened within the cooldown window,
// the flag is written with the current time, the environment reload is
// triggered, and the call blocks until the process is replaced; it settles
// only if ctx is canceled first, with ErrReloadPending. If a recovery was
// already attempted within the window, the original provider error is
// returned unmodified so a surrounding fault boundary can present the
// terminal state.
func (l *Loader) Load(ctx context.Context) (*Module, error) {
	start := l.clock.Now()

	mod, err := l.provider(ctx)
	if err == nil {
		l.emit(Outcome{Kind: OutcomeLoaded, Module: mod.Name, Duration: l.clock.Now().Sub(start)})
		return mod, nil
	}

	now := l.clock.Now()
	if !l.recentRecovery(now) {
		// Fresh recovery opportunity: record it, restart the environment,
		// and never settle. A caller acting on a result here would be
		// acting on a module that is about to become invalid.
		if serr := l.flags.Set(l.flagKey, strconv.FormatInt(now.UnixMilli(), 10)); serr != nil {
			// A flag that cannot be written means the next failure would
			// restart again. Propagating is safer than looping.
			l.emit(Outcome{Kind: OutcomePropagated, Err: err, Duration: l.clock.Now().Sub(start)})
			return nil, err
		}
		l.emit(Outcome{Kind: OutcomeRecovering, Err: err, Duration: l.clock.Now().Sub(start)})
		_ = l.reloader.Reload()
		select {
		case <-l.never: // never closed
		case <-ctx.Done():
		}
		return nil, ErrReloadPending
	}

	l.emit(Outcome{Kind: OutcomePropagated, Err: err, Duration: l.clock.Now().Sub(start)})
	return nil, err
}

// recentRecovery reports whether a recovery restart was recorded within
// the cooldown window. An absent or malformed flag counts as "no recent
// recovery". The read-then-write around this check is deliberately not
// atomic: the restart tears the process down shortly after the write, so
// a racing invocation costs at most one extra restart.
func (l *Loader) recentRecovery(now time.Time) bool {
	raw, ok, err := l.flags.Get(l.flagKey)
	if err != nil || !ok {
		return false
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return false
	}
	elapsed := now.Sub(time.UnixMilli(ms))
	return elapsed >= 0 && elapsed <= l.cooldown
}

func (l *Loader) emit(o Outcome) {
	if l.observe != nil {
		l.observe(o)
	}
}
