package chain

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/armatureio/armature/pkg/domain"
)

// Contribution pairs a behavior contribution with the component that owns it.
type Contribution struct {
	ComponentID string
	domain.BehaviorContribution
}

// Terminal is the continuation at the very end of the chain. The default
// returns the context's current result unchanged.
type Terminal func(ctx context.Context, ec *domain.ExecutionContext) (any, error)

// Observer is notified after every link of a run: skipped constraints,
// successes, and faults. The duration covers the behavior plus everything
// it wrapped downstream.
type Observer func(ctx context.Context, c Contribution, outcome string, duration time.Duration, err error)

// Option configures chain construction.
type Option func(*Chain)

// WithTerminal replaces the default terminal continuation.
func WithTerminal(t Terminal) Option {
	return func(c *Chain) { c.terminal = t }
}

// WithObserver installs a per-link observer.
func WithObserver(o Observer) Option {
	return func(c *Chain) { c.observer = o }
}

// Chain is an immutable snapshot of the composed pipeline: an ordered array
// of behavior descriptors plus one index-based dispatcher, so length and
// order stay directly inspectable.
type Chain struct {
	links    []Contribution
	terminal Terminal
	observer Observer
}

// Build filters to enabled contributions, orders them by ascending priority
// (ties broken by contribution id, lexicographic), and returns the snapshot.
func Build(contributions []Contribution, opts ...Option) *Chain {
	c := &Chain{
		terminal: func(_ context.Context, ec *domain.ExecutionContext) (any, error) {
			return ec.Result(), nil
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, contrib := range contributions {
		if contrib.Enabled {
			c.links = append(c.links, contrib)
		}
	}
	sort.SliceStable(c.links, func(i, j int) bool {
		if c.links[i].Priority != c.links[j].Priority {
			return c.links[i].Priority < c.links[j].Priority
		}
		return c.links[i].ID < c.links[j].ID
	})

	return c
}

// Len returns the number of links in the chain.
func (c *Chain) Len() int {
	return len(c.links)
}

// Order returns the contribution ids in execution order.
func (c *Chain) Order() []string {
	out := make([]string, len(c.links))
	for i, l := range c.links {
		out[i] = l.ID
	}
	return out
}

// Run executes the chain against one request context. A behavior that never
// calls its continuation short-circuits the remainder, and the chain returns
// whatever that behavior returned.
func (c *Chain) Run(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	return c.dispatch(ctx, ec, 0)
}

// RunWithTimeout bounds a run with a deadline. If the chain has not
// completed by then, the in-flight execution is cancelled cooperatively
// (through the request context and the cancellation flag) and a typed
// timeout failure is reported instead of the chain's eventual result. A run
// that completes first returns its result unmodified and the timer is
// released.
func (c *Chain) RunWithTimeout(ctx context.Context, ec *domain.ExecutionContext, d time.Duration) (any, error) {
	if d <= 0 {
		return c.Run(ctx, ec)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.Run(tctx, ec)
		done <- outcome{result: result, err: err}
	}()

	// Single top-level watchdog: the deadline converts into a typed failure
	// here instead of racing the chain for a result.
	select {
	case out := <-done:
		return out.result, out.err
	case <-tctx.Done():
		ec.Cancel()
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrTimeout
		}
		return nil, domain.ErrCancelled
	}
}

// dispatch runs link i with a continuation that advances to i+1. The
// cancellation flag and the request context are checked before every
// behavior; a cancelled context returns immediately without invoking
// further behaviors.
func (c *Chain) dispatch(ctx context.Context, ec *domain.ExecutionContext, i int) (any, error) {
	if err := interrupted(ctx, ec); err != nil {
		return nil, err
	}

	if i >= len(c.links) {
		return c.terminal(ctx, ec)
	}

	link := c.links[i]
	next := domain.Next(func(ctx context.Context) (any, error) {
		return c.dispatch(ctx, ec, i+1)
	})

	// Constraint gate: evaluated immediately before the behavior would run.
	if !link.Allowed(ec) {
		c.observe(ctx, link, "skipped", 0, nil)
		return next(ctx)
	}

	start := time.Now()
	result, err := link.Behavior.Execute(ctx, ec, next)
	c.observe(ctx, link, classify(err), time.Since(start), err)
	return result, err
}

func (c *Chain) observe(ctx context.Context, link Contribution, outcome string, d time.Duration, err error) {
	if c.observer != nil {
		c.observer(ctx, link, outcome, d, err)
	}
}

// interrupted maps cooperative cancellation state to typed failures.
func interrupted(ctx context.Context, ec *domain.ExecutionContext) error {
	if ec.Cancelled() {
		return domain.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrTimeout
		}
		return domain.ErrCancelled
	}
	return nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	default:
		return "fault"
	}
}

// ErrorHandler converts a behavior's fault into a result value.
type ErrorHandler func(ctx context.Context, ec *domain.ExecutionContext, err error) (any, error)

// WithErrorHandler composes a behavior with a handler that intercepts faults
// raised by the behavior itself. Faults from the rest of the chain pass
// through untouched: the handler guards this link, not its downstream.
func WithErrorHandler(b domain.Behavior, h ErrorHandler) domain.Behavior {
	return domain.BehaviorFunc(func(ctx context.Context, ec *domain.ExecutionContext, next domain.Next) (any, error) {
		fromNext := false
		guarded := domain.Next(func(ctx context.Context) (any, error) {
			result, err := next(ctx)
			if err != nil {
				fromNext = true
			}
			return result, err
		})

		result, err := b.Execute(ctx, ec, guarded)
		if err == nil || fromNext {
			return result, err
		}

		ec.SetValue(domain.ValueLastError, err.Error())
		return h(ctx, ec, err)
	})
}
