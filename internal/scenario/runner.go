package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/lifecycle"
	"github.com/Iron-Ham/coms/internal/logging"
	"github.com/Iron-Ham/coms/internal/loop"
	"github.com/Iron-Ham/coms/internal/signal"
	"github.com/Iron-Ham/coms/internal/trace"
)

// Options configures a playback.
type Options struct {
	// Realtime plays against the wall clock. Otherwise playback runs in
	// virtual time and returns as soon as the last timer has fired.
	Realtime bool
	// Speed divides offsets and delays in realtime playback. Zero means 1.
	Speed float64
	// Logger receives playback and bus diagnostics.
	Logger *logging.Logger
	// Hooks are attached to the bus after the recorder's.
	Hooks []signal.Hooks
	// Sink receives each trace record as it happens.
	Sink func(trace.Record)
	// CaptureStacks attaches goroutine stacks to handler failures.
	CaptureStacks bool
}

// Result summarizes a playback.
type Result struct {
	Name    string
	Records []trace.Record
	// Deliveries counts handler invocations per subscription id.
	Deliveries map[string]int
	Failures   int
	// Live counts the subscriptions per topic still registered when the
	// last step ran. They are released before Run returns.
	Live map[string]int
	// Elapsed is measured on the playback clock.
	Elapsed time.Duration
}

// runner holds the state of one playback. All of its fields are touched
// only from loop tasks.
type runner struct {
	sc     *Scenario
	opts   Options
	logger *logging.Logger

	bus      *signal.Bus
	recorder *trace.Recorder
	scopes   map[string]*lifecycle.Scope
	unsubs   map[string]signal.Unsubscribe

	// pending labels the subscription being registered so the recorder can
	// show its scenario id.
	pending *SubscribeStep

	deliveries map[string]int
	failures   int
	errs       []error
}

// Run plays sc and returns what happened. It returns an error if the
// scenario is invalid or ctx ends first; failures inside handlers are
// counted in the Result instead.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("scenario").With("scenario", sc.Name)

	var clk clock.Clock
	var mock *clock.Mock
	if opts.Realtime {
		clk = clock.New()
	} else {
		mock = clock.NewMock()
		clk = mock
	}

	l := loop.New(loop.WithClock(clk), loop.WithLogger(logger))
	defer l.Close()

	r := &runner{
		sc:         sc,
		opts:       opts,
		logger:     logger,
		recorder:   trace.NewRecorder(clk),
		scopes:     make(map[string]*lifecycle.Scope),
		unsubs:     make(map[string]signal.Unsubscribe),
		deliveries: make(map[string]int),
	}
	r.recorder.SetSink(opts.Sink)

	busOpts := []signal.Option{
		signal.WithScheduler(l),
		signal.WithLogger(logger),
		signal.WithStackCapture(opts.CaptureStacks),
		signal.WithHooks(r.labelHooks()),
		signal.WithHooks(r.recorder.Hooks()),
	}
	for _, h := range opts.Hooks {
		busOpts = append(busOpts, signal.WithHooks(h))
	}
	r.bus = signal.New(busOpts...)

	for _, decl := range sc.Scopes {
		if decl.Parent != "" {
			r.scopes[decl.Name] = r.scopes[decl.Parent].NewChild(decl.Name)
		} else {
			r.scopes[decl.Name] = lifecycle.NewScope(decl.Name)
		}
	}

	for i, step := range sc.Steps {
		if err := l.AfterFunc(r.scale(step.At.Std()), func() { r.apply(i, step) }); err != nil {
			return nil, fmt.Errorf("scheduling step %d: %w", i, err)
		}
	}

	logger.Info("scenario started",
		"steps", len(sc.Steps),
		"scopes", len(sc.Scopes),
		"realtime", opts.Realtime,
		"speed", opts.Speed)

	start := clk.Now()
	if err := r.drive(ctx, l, mock); err != nil {
		return nil, err
	}

	result := &Result{
		Name:       sc.Name,
		Records:    r.recorder.Records(),
		Deliveries: r.deliveries,
		Failures:   r.failures,
		Live:       r.liveSubscribers(),
		Elapsed:    clk.Since(start),
	}
	r.teardown()
	logger.Info("scenario finished",
		"records", len(result.Records),
		"failures", result.Failures,
		"elapsed", result.Elapsed.String())

	return result, errors.Join(r.errs...)
}

// drive runs the loop until every step and delivery has happened.
func (r *runner) drive(ctx context.Context, l *loop.Loop, mock *clock.Mock) error {
	if mock != nil {
		_, err := l.RunUntilIdle(mock)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(runCtx) }()

	waitErr := l.WaitIdle(ctx)
	l.Close()
	<-done
	return waitErr
}

// scale shortens d for realtime playback. A positive delay stays positive
// so a timed send is never turned into an end-of-frame one.
func (r *runner) scale(d time.Duration) time.Duration {
	if !r.opts.Realtime || d <= 0 {
		return d
	}
	return max(time.Duration(float64(d)/r.opts.Speed), time.Nanosecond)
}

func (r *runner) apply(i int, step Step) {
	field := fmt.Sprintf("steps[%d]", i)

	switch {
	case step.Subscribe != nil:
		r.subscribe(field, step.Subscribe)
	case step.Send != nil:
		r.send(field+".send", step.Send)
	case step.Unsubscribe != "":
		unsubscribe, ok := r.unsubs[step.Unsubscribe]
		if !ok {
			r.logger.Warn("unsubscribe before subscribe", "step", field, "id", step.Unsubscribe)
			return
		}
		unsubscribe()
	case step.Destroy != "":
		r.destroy(step.Destroy)
	}
}

func (r *runner) subscribe(field string, s *SubscribeStep) {
	handler := func(e signal.Event, payload any) {
		r.deliveries[s.ID]++
		if s.Fail != "" {
			panic(s.Fail)
		}
		if s.Forward != nil {
			r.send(field+".subscribe.forward", s.Forward)
		}
	}

	var owner lifecycle.Owner
	if s.Scope != "" {
		owner = r.scopes[s.Scope]
	}

	r.pending = s
	unsubscribe, err := r.bus.SubscribeScoped(owner, s.Topic, handler)
	r.pending = nil
	if err != nil {
		r.fail(field, err)
		return
	}
	r.unsubs[s.ID] = unsubscribe
}

func (r *runner) send(field string, s *SendStep) {
	delay := r.scale(s.DelayValue())
	if err := r.bus.SendAfter(s.Topic, s.Payload, delay); err != nil {
		r.fail(field, err)
	}
}

func (r *runner) destroy(name string) {
	scope, ok := r.scopes[name]
	if !ok {
		return
	}
	r.recorder.Note(trace.KindDestroy, name, "")
	if err := scope.Destroy(); err != nil {
		r.logger.WithScope(name).Warn("scope destroy reported errors", "error", err.Error())
	}
}

func (r *runner) liveSubscribers() map[string]int {
	live := make(map[string]int)
	for _, topic := range r.bus.Topics() {
		live[topic] = r.bus.Subscribers(topic)
	}
	return live
}

// teardown releases whatever the scenario left subscribed. The trace is
// complete by now, so the releases are not streamed to the sink.
func (r *runner) teardown() {
	r.recorder.SetSink(nil)
	if n := r.bus.SubscriptionCount(); n > 0 {
		r.logger.Debug("releasing subscriptions left at end", "count", n)
	}
	r.bus.Clear()
}

func (r *runner) fail(field string, err error) {
	r.logger.Error("scenario step failed", "step", field, "error", err.Error())
	r.errs = append(r.errs, fmt.Errorf("%s: %w", field, err))
}

// labelHooks aliases bus subscription ids to scenario ids and counts
// handler failures.
func (r *runner) labelHooks() signal.Hooks {
	return signal.Hooks{
		OnSubscribe: func(_, id string) {
			if r.pending != nil {
				r.recorder.Alias(id, r.pending.ID, r.pending.Scope)
			}
		},
		OnFailure: func(*errors.HandlerError) {
			r.failures++
		},
	}
}
