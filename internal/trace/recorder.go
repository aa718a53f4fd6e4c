// Package trace records bus activity as a timeline and renders it for the
// terminal.
//
// A [Recorder] plugs into a bus through [Recorder.Hooks] and stamps every
// record with its offset from the recorder's start on the supplied clock, so
// a virtual-time playback produces the same timeline on every run.
package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/signal"
)

// Kind identifies what a Record describes.
type Kind string

// Record kinds.
const (
	KindSend        Kind = "send"
	KindDeliver     Kind = "deliver"
	KindFail        Kind = "fail"
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindDestroy     Kind = "destroy"
)

// Record is one entry of a dispatch timeline.
type Record struct {
	At           time.Duration
	Kind         Kind
	Topic        string
	Mode         signal.Mode
	Delay        time.Duration
	Subscription string
	Scope        string
	Payload      any
	Err          string
}

// alias is the display identity of a bus subscription.
type alias struct {
	label string
	scope string
}

// Recorder collects Records. It is safe for concurrent use.
type Recorder struct {
	clock clock.Clock
	start time.Time

	mu      sync.Mutex
	records []Record
	aliases map[string]alias
	sink    func(Record)
}

// NewRecorder creates a recorder whose offsets are measured from now on c.
// A nil clock means the wall clock.
func NewRecorder(c clock.Clock) *Recorder {
	if c == nil {
		c = clock.New()
	}
	return &Recorder{
		clock:   c,
		start:   c.Now(),
		aliases: make(map[string]alias),
	}
}

// Alias makes records for the bus subscription id show label and scope
// instead of the generated id.
func (r *Recorder) Alias(subscriptionID, label, scope string) {
	r.mu.Lock()
	r.aliases[subscriptionID] = alias{label: label, scope: scope}
	r.mu.Unlock()
}

// SetSink registers fn to receive every record as it is added. It replaces
// any previous sink; nil removes it.
func (r *Recorder) SetSink(fn func(Record)) {
	r.mu.Lock()
	r.sink = fn
	r.mu.Unlock()
}

// Hooks returns bus hooks that feed the recorder.
func (r *Recorder) Hooks() signal.Hooks {
	return signal.Hooks{
		OnSend: func(e signal.Event, payload any) {
			r.add(Record{Kind: KindSend, Topic: e.Topic, Mode: e.Mode, Delay: e.Delay, Payload: payload})
		},
		OnDeliver: func(e signal.Event, id string) {
			r.add(Record{Kind: KindDeliver, Topic: e.Topic, Mode: e.Mode, Delay: e.Delay, Subscription: id})
		},
		OnFailure: func(err *errors.HandlerError) {
			rec := Record{Kind: KindFail, Topic: err.Topic, Subscription: err.SubscriptionID}
			if err.Recovered != nil {
				rec.Err = errorText(err.Recovered)
			}
			r.add(rec)
		},
		OnSubscribe: func(topic, id string) {
			r.add(Record{Kind: KindSubscribe, Topic: topic, Subscription: id})
		},
		OnUnsubscribe: func(topic, id string) {
			r.add(Record{Kind: KindUnsubscribe, Topic: topic, Subscription: id})
		},
	}
}

// Note adds a record that does not come from the bus, such as a scope
// being destroyed. detail is stored in Err.
func (r *Recorder) Note(kind Kind, scope, detail string) {
	r.add(Record{Kind: kind, Scope: scope, Err: detail})
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Recorder) add(rec Record) {
	rec.At = r.clock.Since(r.start)

	r.mu.Lock()
	if a, ok := r.aliases[rec.Subscription]; ok && rec.Subscription != "" {
		rec.Subscription = a.label
		if rec.Scope == "" {
			rec.Scope = a.scope
		}
	}
	r.records = append(r.records, rec)
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(rec)
	}
}

func errorText(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
