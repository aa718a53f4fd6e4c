package signal

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/lifecycle"
	"github.com/Iron-Ham/coms/internal/logging"
)

// subscription is one registered handler. active is cleared exactly once.
type subscription struct {
	id      string
	topic   string
	handler Handler
	active  atomic.Bool
}

// Bus is a synchronous publish/subscribe signal bus.
// It is safe for concurrent use.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*subscription // topic -> subscriptions in registration order
	nextID        atomic.Uint64
	seq           atomic.Uint64

	scheduler     Scheduler
	clock         clock.Clock
	logger        *logging.Logger
	onError       func(error)
	hooks         []Hooks
	captureStacks bool
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]*subscription),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.clock == nil {
		if c, ok := b.scheduler.(interface{ Clock() clock.Clock }); ok {
			b.clock = c.Clock()
		} else {
			b.clock = clock.New()
		}
	}
	b.logger = b.logger.WithComponent("bus")
	if b.onError == nil {
		b.onError = b.logFailure
	}
	return b
}

// Subscribe registers handler for topic. Handlers for one topic run in the
// order they subscribed.
func (b *Bus) Subscribe(topic string, handler Handler) (Unsubscribe, error) {
	if topic == "" {
		return nil, errors.NewTopicError("subscribe")
	}
	if handler == nil {
		return nil, errors.ErrNilHandler
	}

	sub := &subscription{
		id:      b.generateID(),
		topic:   topic,
		handler: handler,
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subscriptions[topic] = append(b.subscriptions[topic], sub)
	b.mu.Unlock()

	b.each(func(h Hooks) {
		if h.OnSubscribe != nil {
			h.OnSubscribe(topic, sub.id)
		}
	})
	return b.unsubscriber(sub), nil
}

// SubscribeScoped is Subscribe with the subscription released when owner is
// destroyed. A nil owner behaves like Subscribe. The returned Unsubscribe
// may still be called early.
func (b *Bus) SubscribeScoped(owner lifecycle.Owner, topic string, handler Handler) (Unsubscribe, error) {
	unsubscribe, err := b.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	lifecycle.Bind(owner, unsubscribe)
	return unsubscribe, nil
}

// Send delivers payload to every subscriber of topic before returning.
// A nil payload is delivered as Empty{}.
func (b *Bus) Send(topic string, payload any) error {
	return b.SendAfter(topic, payload, Immediate)
}

// SendAfter delivers payload in the mode selected by delay (see ModeFor).
// Errors are limited to invalid arguments and scheduling failures; handler
// failures are never returned.
func (b *Bus) SendAfter(topic string, payload any, delay time.Duration) error {
	if payload == nil {
		payload = Empty{}
	}
	return b.send(topic, payload, delay)
}

func (b *Bus) send(topic string, payload any, delay time.Duration) error {
	if topic == "" {
		return errors.NewTopicError("send")
	}

	mode := ModeFor(delay)
	if mode != ModeImmediate && b.scheduler == nil {
		return fmt.Errorf("send %q (%s): %w", topic, mode, errors.ErrNoScheduler)
	}
	if mode == ModeImmediate {
		delay = 0
	}

	e := Event{
		Topic:  topic,
		Mode:   mode,
		Delay:  delay,
		SentAt: b.clock.Now(),
		Seq:    b.seq.Add(1),
	}
	b.each(func(h Hooks) {
		if h.OnSend != nil {
			h.OnSend(e, payload)
		}
	})

	fire := func() { b.dispatch(e, payload) }

	var err error
	switch mode {
	case ModeImmediate:
		fire()
	case ModeEndOfFrame:
		err = b.scheduler.Defer(fire)
	case ModeTimed:
		err = b.scheduler.AfterFunc(delay, fire)
	}
	if err != nil {
		return fmt.Errorf("send %q (%s): %w", topic, mode, err)
	}
	return nil
}

// dispatch invokes the subscribers registered for e.Topic at this moment.
// Subscriptions added during the dispatch wait for the next one; those
// removed during it are skipped.
func (b *Bus) dispatch(e Event, payload any) {
	b.mu.RLock()
	subs := slices.Clone(b.subscriptions[e.Topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.each(func(h Hooks) {
			if h.OnDeliver != nil {
				h.OnDeliver(e, sub.id)
			}
		})
		if herr := b.safeCall(sub, e, payload); herr != nil {
			b.fail(herr)
		}
	}
}

// safeCall invokes a handler and recovers from any panic so one misbehaving
// handler cannot block delivery to the others.
func (b *Bus) safeCall(sub *subscription, e Event, payload any) (herr *errors.HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = errors.NewHandlerError(e.Topic, sub.id, r).WithMode(e.Mode.String())
			if b.captureStacks {
				herr = herr.WithStack(debug.Stack())
			}
		}
	}()
	sub.handler(e, payload)
	return nil
}

func (b *Bus) fail(herr *errors.HandlerError) {
	b.each(func(h Hooks) {
		if h.OnFailure != nil {
			h.OnFailure(herr)
		}
	})
	b.onError(herr)
}

func (b *Bus) logFailure(err error) {
	var herr *errors.HandlerError
	if !errors.As(err, &herr) {
		b.logger.Error("signal handler failed", "error", err.Error())
		return
	}
	args := []any{
		"subscription", herr.SubscriptionID,
		"mode", herr.Mode,
		"error", fmt.Sprint(herr.Recovered),
	}
	if len(herr.Stack) > 0 {
		args = append(args, "stack", string(herr.Stack))
	}
	b.logger.WithTopic(herr.Topic).Error("signal handler failed", args...)
}

func (b *Bus) unsubscriber(sub *subscription) Unsubscribe {
	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}

		b.mu.Lock()
		b.remove(sub)
		b.mu.Unlock()

		b.each(func(h Hooks) {
			if h.OnUnsubscribe != nil {
				h.OnUnsubscribe(sub.topic, sub.id)
			}
		})
	}
}

// remove deletes sub from the registry. Callers hold b.mu.
// The slice is rebuilt so snapshots held by running dispatches stay intact.
func (b *Bus) remove(sub *subscription) {
	subs := b.subscriptions[sub.topic]
	kept := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subscriptions, sub.topic)
		return
	}
	b.subscriptions[sub.topic] = kept
}

// each runs fn for every registered hook set. A panicking hook is logged
// and skipped; delivery and the remaining hooks carry on.
func (b *Bus) each(fn func(Hooks)) {
	for i, h := range b.hooks {
		b.safeHook(i, h, fn)
	}
}

func (b *Bus) safeHook(i int, h Hooks, fn func(Hooks)) {
	defer func() {
		if r := recover(); r != nil {
			args := []any{"hook", i, "panic", fmt.Sprint(r)}
			if b.captureStacks {
				args = append(args, "stack", string(debug.Stack()))
			}
			b.logger.Error("signal hook panicked", args...)
		}
	}()
	fn(h)
}

// generateID creates a unique subscription ID.
func (b *Bus) generateID() string {
	return fmt.Sprintf("sub-%d", b.nextID.Add(1))
}

// Clear removes all subscriptions. Pending deferred dispatches deliver to
// nobody.
func (b *Bus) Clear() {
	b.mu.Lock()
	var removed []*subscription
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if sub.active.CompareAndSwap(true, false) {
				removed = append(removed, sub)
			}
		}
	}
	b.subscriptions = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, sub := range removed {
		b.each(func(h Hooks) {
			if h.OnUnsubscribe != nil {
				h.OnUnsubscribe(sub.topic, sub.id)
			}
		})
	}
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

// Subscribers returns the number of active subscriptions for topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[topic])
}

// Topics returns the topics that currently have subscribers, sorted.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	topics := make([]string, 0, len(b.subscriptions))
	for topic := range b.subscriptions {
		topics = append(topics, topic)
	}
	b.mu.RUnlock()

	sort.Strings(topics)
	return topics
}
