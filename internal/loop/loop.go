package loop

import (
	"container/heap"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/logging"
)

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the time source used for timer deadlines.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Stats is a point-in-time count of queued work.
type Stats struct {
	Deferred int
	Posted   int
	Timers   int
}

// Empty reports whether no work is queued.
func (s Stats) Empty() bool {
	return s.Deferred == 0 && s.Posted == 0 && s.Timers == 0
}

// Loop is a cooperative task loop. See the package documentation for the
// ordering guarantees.
type Loop struct {
	clock  clock.Clock
	logger *logging.Logger

	mu       sync.Mutex
	deferred []func()
	posted   []func()
	timers   timerHeap
	seq      uint64
	busy     bool
	closed   bool
	waiters  []chan struct{}

	running   atomic.Bool
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an idle Loop. Nothing runs until Run, Flush, or RunUntilIdle
// is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  clock.New(),
		logger: logging.NopLogger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("loop")
	return l
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post queues a task to run after all currently queued posted tasks.
func (l *Loop) Post(task func()) error {
	return l.enqueue("post", func() {
		l.posted = append(l.posted, task)
	})
}

// Defer queues a task to run at the end of the current frame: after the
// running task returns and before any timer or posted task.
func (l *Loop) Defer(task func()) error {
	return l.enqueue("defer", func() {
		l.deferred = append(l.deferred, task)
	})
}

// AfterFunc schedules a task to run once d has elapsed on the loop clock.
// A non-positive d makes the task due immediately, still behind the
// end-of-frame queue. Scheduled timers cannot be cancelled.
func (l *Loop) AfterFunc(d time.Duration, task func()) error {
	if d < 0 {
		d = 0
	}
	deadline := l.clock.Now().Add(d)
	return l.enqueue("after", func() {
		l.seq++
		heap.Push(&l.timers, &timer{deadline: deadline, seq: l.seq, task: task})
	})
}

func (l *Loop) enqueue(op string, push func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.NewLoopError(op, errors.ErrLoopClosed)
	}
	push()
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do posts a task and blocks until it has run. It must not be called from
// inside a loop task, which would deadlock.
func (l *Loop) Do(ctx context.Context, task func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return errors.NewLoopError("do", errors.ErrLoopClosed)
		}
	}
}

// Run processes work on the calling goroutine until ctx is cancelled or
// Close is called. It returns nil after Close and ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.NewLoopError("run", errors.ErrLoopRunning)
	}
	defer l.running.Store(false)

	for {
		select {
		case <-l.done:
			return nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		l.runReady(ctx)

		wait, pending := l.settle()
		if pending && wait <= 0 {
			continue
		}

		var t *clock.Timer
		var fire <-chan time.Time
		if pending {
			t = l.clock.Timer(wait)
			fire = t.C
		}

		select {
		case <-ctx.Done():
		case <-l.done:
		case <-l.wake:
		case <-fire:
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Flush runs every piece of work that is ready at the current clock time on
// the calling goroutine and returns how many tasks ran. Work queued by those
// tasks runs too if it becomes ready.
func (l *Loop) Flush() (int, error) {
	if l.isClosed() {
		return 0, errors.NewLoopError("flush", errors.ErrLoopClosed)
	}
	if !l.running.CompareAndSwap(false, true) {
		return 0, errors.NewLoopError("flush", errors.ErrLoopRunning)
	}
	defer l.running.Store(false)

	n := l.runReady(context.Background())
	l.settle()
	return n, nil
}

// RunUntilIdle drives the loop in virtual time: it flushes ready work, moves
// mock to the next timer deadline, and repeats until nothing is queued.
// mock must be the clock the loop was built with.
func (l *Loop) RunUntilIdle(mock *clock.Mock) (int, error) {
	total := 0
	for {
		n, err := l.Flush()
		total += n
		if err != nil {
			return total, err
		}

		next, ok := l.NextDeadline()
		if !ok {
			return total, nil
		}
		if next.After(mock.Now()) {
			mock.Set(next)
		}
	}
}

// WaitIdle blocks until the loop has no queued work and is not running a
// task, or until ctx is done. It returns immediately once the loop is closed.
func (l *Loop) WaitIdle(ctx context.Context) error {
	l.mu.Lock()
	if l.closed || (!l.busy && l.statsLocked().Empty()) {
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops Run, drops queued work, and rejects further scheduling.
// It is safe to call more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		dropped := l.statsLocked()
		l.deferred = nil
		l.posted = nil
		l.timers = nil
		l.releaseWaitersLocked()
		l.mu.Unlock()

		close(l.done)
		if !dropped.Empty() {
			l.logger.Debug("loop closed with queued work",
				"deferred", dropped.Deferred,
				"posted", dropped.Posted,
				"timers", dropped.Timers)
		}
	})
}

// Pending returns the amount of queued work.
func (l *Loop) Pending() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statsLocked()
}

// NextDeadline returns the deadline of the earliest pending timer.
func (l *Loop) NextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].deadline, true
}

// runReady executes ready work until none is left or ctx is done.
func (l *Loop) runReady(ctx context.Context) int {
	l.setBusy(true)
	defer l.setBusy(false)

	n := 0
	for ctx.Err() == nil {
		n += l.drainDeferred()

		if task := l.popDueTimer(); task != nil {
			l.runTask(task)
			n++
			continue
		}
		if task := l.popPosted(); task != nil {
			l.runTask(task)
			n++
			continue
		}
		break
	}
	return n
}

// drainDeferred runs the end-of-frame queue until it stays empty.
func (l *Loop) drainDeferred() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.deferred
		l.deferred = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, task := range batch {
			l.runTask(task)
			n++
		}
	}
}

func (l *Loop) popDueTimer() func() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
		return nil
	}
	return heap.Pop(&l.timers).(*timer).task
}

func (l *Loop) popPosted() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.posted) == 0 {
		return nil
	}
	task := l.posted[0]
	l.posted[0] = nil
	l.posted = l.posted[1:]
	return task
}

func (l *Loop) runTask(task func()) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	task()
}

// settle reports how long Run may sleep before the next timer is due.
// pending is false when nothing at all is queued, in which case idle
// waiters are released.
func (l *Loop) settle() (wait time.Duration, pending bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.deferred) > 0 || len(l.posted) > 0 {
		return 0, true
	}
	if len(l.timers) == 0 {
		l.releaseWaitersLocked()
		return 0, false
	}
	return l.timers[0].deadline.Sub(l.clock.Now()), true
}

func (l *Loop) releaseWaitersLocked() {
	for _, ch := range l.waiters {
		close(ch)
	}
	l.waiters = nil
}

func (l *Loop) statsLocked() Stats {
	return Stats{
		Deferred: len(l.deferred),
		Posted:   len(l.posted),
		Timers:   len(l.timers),
	}
}

func (l *Loop) setBusy(busy bool) {
	l.mu.Lock()
	l.busy = busy
	l.mu.Unlock()
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
