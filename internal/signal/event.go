package signal

import "time"

// Immediate is the delay that requests synchronous delivery.
// Any negative delay behaves the same way.
const Immediate time.Duration = -1

// Mode is the timing mode of a single dispatch.
type Mode int

const (
	// ModeImmediate delivers inside the send call.
	ModeImmediate Mode = iota
	// ModeEndOfFrame delivers after the current task, before any timer.
	ModeEndOfFrame
	// ModeTimed delivers once the requested delay has elapsed.
	ModeTimed
)

// ModeFor returns the mode selected by delay.
func ModeFor(delay time.Duration) Mode {
	switch {
	case delay < 0:
		return ModeImmediate
	case delay == 0:
		return ModeEndOfFrame
	default:
		return ModeTimed
	}
}

// String returns the mode name used in logs, metrics, and traces.
func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeEndOfFrame:
		return "end-of-frame"
	case ModeTimed:
		return "timed"
	default:
		return "unknown"
	}
}

// Event is the metadata delivered to every handler alongside the payload.
type Event struct {
	Topic  string
	Mode   Mode
	Delay  time.Duration
	SentAt time.Time
	// Seq increases by one for every accepted send on a bus.
	Seq uint64
}

// Empty is the payload delivered when an untyped send passes nil.
type Empty struct{}

// Handler receives a dispatched signal.
type Handler func(e Event, payload any)

// Unsubscribe removes exactly one subscription. Calls after the first do
// nothing. It is safe to call from inside a handler.
type Unsubscribe func()

// Scheduler is the host collaborator that runs deferred deliveries.
// *loop.Loop implements it.
type Scheduler interface {
	// Defer runs task after the current synchronous work, before idle.
	Defer(task func()) error
	// AfterFunc runs task once d has elapsed.
	AfterFunc(d time.Duration, task func()) error
}
