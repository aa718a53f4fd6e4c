// Package loop provides a cooperative, single-threaded task loop that hosts
// deferred signal delivery.
//
// A [Loop] owns three queues:
//
//   - the end-of-frame queue, fed by [Loop.Defer]
//   - the timer heap, fed by [Loop.AfterFunc]
//   - the posted task queue, fed by [Loop.Post] and [Loop.Do]
//
// Every unit of work runs on one logical thread. After each task the
// end-of-frame queue is drained completely, including work it enqueues
// itself, before any timer or posted task gets a turn. Timers run in
// increasing deadline order; equal deadlines run in scheduling order.
//
// # Driving the Loop
//
// A host either gives the loop a goroutine:
//
//	l := loop.New()
//	go l.Run(ctx)
//	defer l.Close()
//
// or drives it by hand, which is how deterministic playback works:
//
//	mock := clock.NewMock()
//	l := loop.New(loop.WithClock(mock))
//	_ = l.AfterFunc(100*time.Millisecond, fire)
//	l.RunUntilIdle(mock) // advances mock time to each deadline in turn
//
// Tasks that panic are recovered and logged; the loop keeps going.
package loop
