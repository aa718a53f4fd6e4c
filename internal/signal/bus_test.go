package signal

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/lifecycle"
	"github.com/Iron-Ham/coms/internal/logging"
	"github.com/Iron-Ham/coms/internal/loop"
)

// newLoopBus returns a bus scheduled on a manually driven loop.
func newLoopBus(t *testing.T, opts ...Option) (*Bus, *loop.Loop, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	l := loop.New(loop.WithClock(mock))
	t.Cleanup(l.Close)
	opts = append([]Option{WithScheduler(l)}, opts...)
	return New(opts...), l, mock
}

// collect records delivered payloads.
type collect struct {
	mu       sync.Mutex
	payloads []any
	events   []Event
}

func (c *collect) handler(e Event, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	c.payloads = append(c.payloads, payload)
}

func (c *collect) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestBus_Subscribe(t *testing.T) {
	bus := New()

	called := false
	unsubscribe, err := bus.Subscribe("test.event", func(Event, any) {
		called = true
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if unsubscribe == nil {
		t.Fatal("Subscribe should return an Unsubscribe")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until a signal is sent")
	}
}

func TestBus_SubscribeValidation(t *testing.T) {
	bus := New()

	tests := []struct {
		name    string
		topic   string
		handler Handler
		want    error
	}{
		{"empty topic", "", func(Event, any) {}, errors.ErrInvalidTopic},
		{"nil handler", "t", nil, errors.ErrNilHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsubscribe, err := bus.Subscribe(tt.topic, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
			if unsubscribe != nil {
				t.Error("Subscribe() returned an Unsubscribe on error")
			}
		})
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after rejected subscribes, want 0", bus.SubscriptionCount())
	}
}

func TestBus_SendImmediate(t *testing.T) {
	bus := New()
	c := &collect{}
	_, _ = bus.Subscribe("instance.started", c.handler)

	if err := bus.Send("instance.started", "inst-1"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if c.count() != 1 {
		t.Fatalf("handler called %d times, want 1", c.count())
	}
	if c.payloads[0] != "inst-1" {
		t.Errorf("payload = %v, want %q", c.payloads[0], "inst-1")
	}
	e := c.events[0]
	if e.Topic != "instance.started" || e.Mode != ModeImmediate || e.Seq != 1 {
		t.Errorf("event = %+v, want topic instance.started, immediate, seq 1", e)
	}
}

func TestBus_SendNilPayloadDefaultsToEmpty(t *testing.T) {
	bus := New()
	c := &collect{}
	_, _ = bus.Subscribe("t", c.handler)

	_ = bus.Send("t", nil)

	if _, ok := c.payloads[0].(Empty); !ok {
		t.Errorf("payload = %#v, want Empty{}", c.payloads[0])
	}
}

func TestBus_SendEmptyTopic(t *testing.T) {
	bus := New()

	err := bus.Send("", "x")
	var te *errors.TopicError
	if !errors.As(err, &te) {
		t.Fatalf("Send(\"\") error = %v, want *TopicError", err)
	}
	if te.Op != "send" {
		t.Errorf("Op = %q, want %q", te.Op, "send")
	}
}

func TestBus_SendNoSubscribers(t *testing.T) {
	bus, l, mock := newLoopBus(t)

	for _, delay := range []time.Duration{Immediate, 0, 50 * time.Millisecond} {
		if err := bus.SendAfter("nobody.home", "x", delay); err != nil {
			t.Errorf("SendAfter(delay=%v) error = %v", delay, err)
		}
	}
	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := New()

	var order []string
	_, _ = bus.Subscribe("t", func(Event, any) { order = append(order, "h1") })
	_, _ = bus.Subscribe("t", func(Event, any) { order = append(order, "h2") })
	_, _ = bus.Subscribe("t", func(Event, any) { order = append(order, "h3") })

	_ = bus.Send("t", nil)

	if len(order) != 3 || order[0] != "h1" || order[1] != "h2" || order[2] != "h3" {
		t.Errorf("order = %v, want [h1 h2 h3]", order)
	}
}

func TestBus_NoMatchingHandlers(t *testing.T) {
	bus := New()

	_, _ = bus.Subscribe("other.event", func(Event, any) {
		t.Error("Handler should not be called for another topic")
	})

	_ = bus.Send("test.event", nil)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	c := &collect{}
	unsubscribe, _ := bus.Subscribe("t", c.handler)

	unsubscribe()
	unsubscribe()

	_ = bus.Send("t", nil)
	if c.count() != 0 {
		t.Errorf("handler called %d times after unsubscribe, want 0", c.count())
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestBus_UnsubscribeRemovesOnlyItsSubscription(t *testing.T) {
	bus := New()
	first := &collect{}
	second := &collect{}
	unsubscribe, _ := bus.Subscribe("t", first.handler)
	_, _ = bus.Subscribe("t", second.handler)

	unsubscribe()
	_ = bus.Send("t", nil)

	if first.count() != 0 || second.count() != 1 {
		t.Errorf("calls = (%d, %d), want (0, 1)", first.count(), second.count())
	}
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	var reported []error
	bus := New(WithErrorHandler(func(err error) { reported = append(reported, err) }))

	after := &collect{}
	_, _ = bus.Subscribe("t", func(Event, any) { panic("boom") })
	_, _ = bus.Subscribe("t", after.handler)

	if err := bus.Send("t", nil); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if after.count() != 1 {
		t.Errorf("later handler called %d times, want 1", after.count())
	}
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}

	var herr *errors.HandlerError
	if !errors.As(reported[0], &herr) {
		t.Fatalf("reported error = %T, want *HandlerError", reported[0])
	}
	if herr.Topic != "t" || herr.Recovered != "boom" || herr.Mode != "immediate" {
		t.Errorf("HandlerError = %+v", herr)
	}
	if len(herr.Stack) != 0 {
		t.Error("stack captured without WithStackCapture")
	}
}

func TestBus_StackCapture(t *testing.T) {
	var herr *errors.HandlerError
	bus := New(
		WithStackCapture(true),
		WithErrorHandler(func(err error) { _ = errors.As(err, &herr) }),
	)
	_, _ = bus.Subscribe("t", func(Event, any) { panic("boom") })

	_ = bus.Send("t", nil)

	if herr == nil || len(herr.Stack) == 0 {
		t.Error("expected a captured stack on the HandlerError")
	}
}

func TestBus_HandlerRemovedBySiblingIsSkipped(t *testing.T) {
	bus := New()
	second := &collect{}

	var unsubscribeSecond Unsubscribe
	_, _ = bus.Subscribe("t", func(Event, any) { unsubscribeSecond() })
	unsubscribeSecond, _ = bus.Subscribe("t", second.handler)

	_ = bus.Send("t", nil)

	if second.count() != 0 {
		t.Errorf("removed handler called %d times, want 0", second.count())
	}
}

func TestBus_HandlerAddedDuringDispatchWaitsForNextSend(t *testing.T) {
	bus := New()
	late := &collect{}

	added := false
	_, _ = bus.Subscribe("t", func(Event, any) {
		if !added {
			added = true
			_, _ = bus.Subscribe("t", late.handler)
		}
	})

	_ = bus.Send("t", nil)
	if late.count() != 0 {
		t.Fatalf("handler added mid-dispatch called %d times, want 0", late.count())
	}

	_ = bus.Send("t", nil)
	if late.count() != 1 {
		t.Errorf("handler added mid-dispatch called %d times on next send, want 1", late.count())
	}
}

func TestBus_HandlerCanSendReentrantly(t *testing.T) {
	bus := New()
	inner := &collect{}
	_, _ = bus.Subscribe("inner", inner.handler)
	_, _ = bus.Subscribe("outer", func(Event, any) { _ = bus.Send("inner", "nested") })

	_ = bus.Send("outer", nil)

	if inner.count() != 1 {
		t.Errorf("nested send delivered %d times, want 1", inner.count())
	}
}

func TestBus_DeferredWithoutScheduler(t *testing.T) {
	bus := New()

	for _, delay := range []time.Duration{0, time.Second} {
		err := bus.SendAfter("t", nil, delay)
		if !errors.Is(err, errors.ErrNoScheduler) {
			t.Errorf("SendAfter(delay=%v) error = %v, want ErrNoScheduler", delay, err)
		}
	}
}

func TestBus_EndOfFrame(t *testing.T) {
	bus, l, _ := newLoopBus(t)
	c := &collect{}
	_, _ = bus.Subscribe("t", c.handler)

	var sawBeforeReturn int
	_ = l.Post(func() {
		_ = bus.SendAfter("t", "x", 0)
		sawBeforeReturn = c.count()
	})
	if _, err := l.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if sawBeforeReturn != 0 {
		t.Error("end-of-frame send delivered before the sending task finished")
	}
	if c.count() != 1 {
		t.Fatalf("handler called %d times, want 1", c.count())
	}
	if c.events[0].Mode != ModeEndOfFrame {
		t.Errorf("Mode = %v, want %v", c.events[0].Mode, ModeEndOfFrame)
	}
}

func TestBus_EndOfFrameBeforeTimers(t *testing.T) {
	bus, l, mock := newLoopBus(t)

	var order []any
	_, _ = bus.Subscribe("t", func(_ Event, payload any) { order = append(order, payload) })

	_ = l.Post(func() {
		_ = bus.SendAfter("t", "timed", 50*time.Millisecond)
		_ = bus.SendAfter("t", "frame", 0)
		_ = bus.Send("t", "now")
	})
	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}

	want := []any{"now", "frame", "timed"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestBus_TimedOrderFollowsFireTime(t *testing.T) {
	bus, l, mock := newLoopBus(t)

	var order []any
	_, _ = bus.Subscribe("t", func(_ Event, payload any) { order = append(order, payload) })

	_ = bus.SendAfter("t", "slow", 200*time.Millisecond)
	_ = bus.SendAfter("t", "fast", 20*time.Millisecond)

	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if len(order) != 2 || order[0] != "fast" || order[1] != "slow" {
		t.Errorf("order = %v, want [fast slow]", order)
	}
}

func TestBus_TimedNotBeforeDelay(t *testing.T) {
	bus, l, mock := newLoopBus(t)
	c := &collect{}
	_, _ = bus.Subscribe("t", c.handler)

	start := mock.Now()
	_ = bus.SendAfter("t", "x", 100*time.Millisecond)

	mock.Add(99 * time.Millisecond)
	_, _ = l.Flush()
	if c.count() != 0 {
		t.Fatal("timed send delivered before its delay")
	}

	mock.Add(time.Millisecond)
	_, _ = l.Flush()
	if c.count() != 1 {
		t.Fatalf("handler called %d times, want 1", c.count())
	}

	e := c.events[0]
	if e.Mode != ModeTimed || e.Delay != 100*time.Millisecond || !e.SentAt.Equal(start) {
		t.Errorf("event = %+v, want timed 100ms sent at %v", e, start)
	}
}

func TestBus_UnsubscribeBeforeTimerFires(t *testing.T) {
	bus, l, mock := newLoopBus(t)
	c := &collect{}
	unsubscribe, _ := bus.Subscribe("t", c.handler)

	_ = bus.SendAfter("t", "x", 100*time.Millisecond)
	_ = l.AfterFunc(50*time.Millisecond, unsubscribe)

	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if c.count() != 0 {
		t.Errorf("handler called %d times after unsubscribing at 50ms, want 0", c.count())
	}
}

func TestBus_DeferredSeesSubscriberAddedBeforeFire(t *testing.T) {
	bus, l, mock := newLoopBus(t)
	c := &collect{}

	_ = bus.SendAfter("t", "x", 100*time.Millisecond)
	_ = l.AfterFunc(50*time.Millisecond, func() {
		_, _ = bus.Subscribe("t", c.handler)
	})

	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if c.count() != 1 {
		t.Errorf("late subscriber called %d times, want 1", c.count())
	}
}

func TestBus_ClearCancelsPendingDelivery(t *testing.T) {
	bus, l, mock := newLoopBus(t)
	c := &collect{}
	unsubscribe, _ := bus.Subscribe("t", c.handler)

	_ = bus.SendAfter("t", "x", 0)
	_ = bus.SendAfter("t", "y", time.Second)
	bus.Clear()

	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if c.count() != 0 {
		t.Errorf("handler called %d times after Clear, want 0", c.count())
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear, want 0", bus.SubscriptionCount())
	}
	unsubscribe()
}

func TestBus_SchedulerErrorIsReturned(t *testing.T) {
	bus, l, _ := newLoopBus(t)
	l.Close()

	err := bus.SendAfter("t", nil, time.Second)
	if !errors.Is(err, errors.ErrLoopClosed) {
		t.Errorf("SendAfter() on closed loop = %v, want ErrLoopClosed", err)
	}
}

func TestBus_SubscribeScoped(t *testing.T) {
	bus, l, mock := newLoopBus(t)
	scope := lifecycle.NewScope("panel")
	c := &collect{}

	if _, err := bus.SubscribeScoped(scope, "t", c.handler); err != nil {
		t.Fatalf("SubscribeScoped() error = %v", err)
	}

	_ = bus.SendAfter("t", "pending", 100*time.Millisecond)
	_ = scope.Destroy()
	_ = bus.Send("t", "after")

	if _, err := l.RunUntilIdle(mock); err != nil {
		t.Fatalf("RunUntilIdle() error = %v", err)
	}
	if c.count() != 0 {
		t.Errorf("handler called %d times after owner destroyed, want 0", c.count())
	}
	if bus.Subscribers("t") != 0 {
		t.Errorf("Subscribers() = %d, want 0", bus.Subscribers("t"))
	}
}

func TestBus_SubscribeScopedChildScope(t *testing.T) {
	bus := New()
	root := lifecycle.NewScope("root")
	child := root.NewChild("child")
	c := &collect{}
	_, _ = bus.SubscribeScoped(child, "t", c.handler)

	_ = root.Destroy()
	_ = bus.Send("t", nil)

	if c.count() != 0 {
		t.Errorf("handler on child scope called %d times after root destroyed, want 0", c.count())
	}
}

func TestBus_SubscribeScopedDestroyedOwner(t *testing.T) {
	bus := New()
	scope := lifecycle.NewScope("gone")
	_ = scope.Destroy()

	c := &collect{}
	unsubscribe, err := bus.SubscribeScoped(scope, "t", c.handler)
	if err != nil {
		t.Fatalf("SubscribeScoped() error = %v", err)
	}
	_ = bus.Send("t", nil)

	if c.count() != 0 {
		t.Error("subscription on a destroyed owner should be released immediately")
	}
	unsubscribe()
}

func TestBus_SubscribeScopedNilOwner(t *testing.T) {
	bus := New()
	c := &collect{}
	_, _ = bus.SubscribeScoped(nil, "t", c.handler)

	_ = bus.Send("t", nil)
	if c.count() != 1 {
		t.Errorf("handler called %d times, want 1", c.count())
	}
}

func TestBus_Introspection(t *testing.T) {
	bus := New()
	_, _ = bus.Subscribe("b", func(Event, any) {})
	_, _ = bus.Subscribe("a", func(Event, any) {})
	unsubscribe, _ := bus.Subscribe("a", func(Event, any) {})

	topics := bus.Topics()
	if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Errorf("Topics() = %v, want [a b]", topics)
	}
	if bus.Subscribers("a") != 2 {
		t.Errorf("Subscribers(a) = %d, want 2", bus.Subscribers("a"))
	}

	unsubscribe()
	if bus.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", bus.SubscriptionCount())
	}
}

func TestBus_Hooks(t *testing.T) {
	var log []string
	hooks := Hooks{
		OnSend:    func(e Event, _ any) { log = append(log, "send:"+e.Topic) },
		OnDeliver: func(e Event, id string) { log = append(log, "deliver:"+id) },
		OnFailure: func(err *errors.HandlerError) { log = append(log, "fail:"+err.SubscriptionID) },
		OnSubscribe: func(topic, id string) {
			log = append(log, "sub:"+topic+":"+id)
		},
		OnUnsubscribe: func(topic, id string) {
			log = append(log, "unsub:"+topic+":"+id)
		},
	}
	bus := New(WithHooks(hooks), WithErrorHandler(func(error) {}))

	unsubscribe, _ := bus.Subscribe("t", func(Event, any) { panic("x") })
	_ = bus.Send("t", nil)
	unsubscribe()
	unsubscribe()

	want := []string{"sub:t:sub-1", "send:t", "deliver:sub-1", "fail:sub-1", "unsub:t:sub-1"}
	if len(log) != len(want) {
		t.Fatalf("hook log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("hook log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestBus_PanickingHookIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	observed := 0
	bus := New(
		WithLogger(logging.NewWriterLogger(&buf, "error")),
		WithHooks(Hooks{
			OnSend:    func(Event, any) { panic("send hook") },
			OnDeliver: func(Event, string) { panic("deliver hook") },
		}),
		WithHooks(Hooks{
			OnDeliver: func(Event, string) { observed++ },
		}),
	)

	first, second := &collect{}, &collect{}
	_, _ = bus.Subscribe("t", first.handler)
	_, _ = bus.Subscribe("t", second.handler)

	if err := bus.Send("t", nil); err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Errorf("handlers called %d and %d times, want 1 each", first.count(), second.count())
	}
	if observed != 2 {
		t.Errorf("later hook saw %d deliveries, want 2", observed)
	}
	if got := strings.Count(buf.String(), "signal hook panicked"); got != 3 {
		t.Errorf("logged %d hook panics, want 3:\n%s", got, buf.String())
	}
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unsubscribe, _ := bus.Subscribe("t", func(Event, any) {})
				_ = bus.Send("t", j)
				unsubscribe()
			}
		}()
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  Mode
	}{
		{Immediate, ModeImmediate},
		{-time.Hour, ModeImmediate},
		{0, ModeEndOfFrame},
		{time.Nanosecond, ModeTimed},
		{time.Second, ModeTimed},
	}
	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			if got := ModeFor(tt.delay); got != tt.want {
				t.Errorf("ModeFor(%v) = %v, want %v", tt.delay, got, tt.want)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeImmediate, "immediate"},
		{ModeEndOfFrame, "end-of-frame"},
		{ModeTimed, "timed"},
		{Mode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestNew_UsesSchedulerClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	l := loop.New(loop.WithClock(mock))
	defer l.Close()

	bus := New(WithScheduler(l))
	c := &collect{}
	_, _ = bus.Subscribe("t", c.handler)
	_ = bus.Send("t", nil)

	if !c.events[0].SentAt.Equal(mock.Now()) {
		t.Errorf("SentAt = %v, want scheduler clock time %v", c.events[0].SentAt, mock.Now())
	}
}
