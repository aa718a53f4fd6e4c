package signal

import (
	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/logging"
)

// Hooks observe bus activity. Every field is optional. Hooks run on the
// goroutine that triggered them, outside the registry lock, so they may call
// back into the bus. A panic in a hook is recovered and logged.
type Hooks struct {
	// OnSend runs for every accepted send, before delivery is attempted.
	OnSend func(e Event, payload any)
	// OnDeliver runs before each handler invocation.
	OnDeliver func(e Event, subscriptionID string)
	// OnFailure runs after a handler fails.
	OnFailure func(err *errors.HandlerError)
	// OnSubscribe runs after a subscription is registered.
	OnSubscribe func(topic, subscriptionID string)
	// OnUnsubscribe runs after a subscription is removed, including by Clear.
	OnUnsubscribe func(topic, subscriptionID string)
}

// Option configures a Bus.
type Option func(*Bus)

// WithScheduler sets the scheduler used for end-of-frame and timed sends.
// Without one, deferred sends fail with ErrNoScheduler.
func WithScheduler(s Scheduler) Option {
	return func(b *Bus) {
		b.scheduler = s
	}
}

// WithClock sets the clock used to stamp Event.SentAt. When unset, the bus
// uses the scheduler's clock if it exposes one, otherwise the wall clock.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) {
		b.clock = c
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithErrorHandler replaces the default error handler, which logs handler
// failures at ERROR level.
func WithErrorHandler(fn func(error)) Option {
	return func(b *Bus) {
		b.onError = fn
	}
}

// WithHooks adds an observer. It may be given more than once; hooks run in
// the order they were added.
func WithHooks(h Hooks) Option {
	return func(b *Bus) {
		b.hooks = append(b.hooks, h)
	}
}

// WithStackCapture attaches the goroutine stack to every HandlerError.
func WithStackCapture(enabled bool) Option {
	return func(b *Bus) {
		b.captureStacks = enabled
	}
}
