// Package signal implements an in-process publish/subscribe bus with three
// delivery modes and owner-scoped subscriptions.
//
// # Delivery Modes
//
// The delay passed to [Bus.SendAfter] picks the mode:
//
//   - negative ([Immediate]): handlers run before SendAfter returns
//   - zero: handlers run at the end of the current frame, via [Scheduler.Defer]
//   - positive: handlers run once the delay has elapsed, via [Scheduler.AfterFunc]
//
// [Bus.Send] is shorthand for an immediate send.
//
// Deferred deliveries look up subscribers when they fire, not when they are
// scheduled. A subscription removed in between is skipped, and one added in
// between is included. Scheduled timers are never cancelled; a timer whose
// topic has no live subscribers simply does nothing.
//
// # Failure Isolation
//
// A panicking handler is recovered and reported as an [errors.HandlerError]
// to the bus error handler and to any OnFailure hooks. The remaining handlers
// of the same dispatch still run, and the sender never sees the failure.
//
// # Usage
//
//	l := loop.New()
//	bus := signal.New(signal.WithScheduler(l))
//
//	scope := lifecycle.NewScope("panel")
//	_, _ = bus.SubscribeScoped(scope, "ui.refresh", func(e signal.Event, payload any) {
//	    render(payload)
//	})
//
//	_ = bus.SendAfter("ui.refresh", state, 0) // end of frame
//	_ = scope.Destroy()                        // handler will not run
//
// Typed topics avoid payload assertions:
//
//	var refresh = signal.NewTopic[State]("ui.refresh")
//	_, _ = refresh.Subscribe(bus, func(e signal.Event, s State) { render(s) })
//	_ = refresh.Send(bus, state)
package signal
