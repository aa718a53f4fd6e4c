package signal

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/lifecycle"
)

// Topic is a topic name bound to a payload type.
type Topic[T any] struct {
	name string
}

// NewTopic returns a typed topic. The name shares the bus namespace with
// untyped topics.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

// Send delivers payload immediately.
func (t Topic[T]) Send(b *Bus, payload T) error {
	return b.send(t.name, payload, Immediate)
}

// SendAfter delivers payload in the mode selected by delay.
func (t Topic[T]) SendAfter(b *Bus, payload T, delay time.Duration) error {
	return b.send(t.name, payload, delay)
}

// Subscribe registers a typed handler. An untyped send carrying another
// payload type is reported as a handler failure wrapping ErrPayloadType.
func (t Topic[T]) Subscribe(b *Bus, handler func(Event, T)) (Unsubscribe, error) {
	if handler == nil {
		return nil, errors.ErrNilHandler
	}
	return b.Subscribe(t.name, t.adapt(handler))
}

// SubscribeScoped is Subscribe bound to owner.
func (t Topic[T]) SubscribeScoped(b *Bus, owner lifecycle.Owner, handler func(Event, T)) (Unsubscribe, error) {
	if handler == nil {
		return nil, errors.ErrNilHandler
	}
	return b.SubscribeScoped(owner, t.name, t.adapt(handler))
}

func (t Topic[T]) adapt(handler func(Event, T)) Handler {
	return func(e Event, payload any) {
		var value T
		if payload != nil {
			v, ok := payload.(T)
			if !ok {
				panic(fmt.Errorf("%w: topic %q got %T, want %T",
					errors.ErrPayloadType, t.name, payload, value))
			}
			value = v
		}
		handler(e, value)
	}
}
