package hostexec

type action int

const (
	_ action = iota
	doSuspend
	doTransition
	doEnd
)

const (
	flagEnded = 1 << iota
	flagCanceled
	flagRecyclable
	flagRecycled
)

// A Coroutine is one asynchronous computation, similar to a goroutine
// but cooperative and stackless.
//
// A coroutine is created with a function called [Task].
// A coroutine's job is to end the task.
// When an [Executor] spawns a coroutine with a task, it steps the
// coroutine by calling the task function with the coroutine as the
// argument. The return value determines whether to end the coroutine
// or to suspend it so that it could resume later.
//
// A suspended coroutine resumes only when a [Waker] for it fires.
// The task function obtains the waker for the current step from the
// Waker method and hands it to whatever external event will eventually
// deliver the wake, typically the reply callback of an outbound call.
//
// A coroutine can also make a transition to work on another task
// according to the return value of the task function. Transitions run
// within the same step; ordinary synchronous code between suspensions
// runs to completion without yielding.
type Coroutine struct {
	flag     uint8
	executor *Executor
	id       TaskID
	waker    Waker
	task     Task
	defers   []func()
}

func (e *Executor) newCoroutine() *Coroutine {
	if co := e.pool.Get(); co != nil {
		return co.(*Coroutine)
	}
	return new(Coroutine)
}

func (e *Executor) freeCoroutine(co *Coroutine) {
	if co.flag&(flagRecyclable|flagRecycled) == flagRecyclable {
		co.flag |= flagRecycled
		co.executor = nil
		co.id = TaskID{}
		co.waker = Waker{}
		co.task = nil
		e.pool.Put(co)
	}
}

func (co *Coroutine) init(e *Executor, t Task) *Coroutine {
	co.flag = flagRecyclable
	co.executor = e
	co.task = t
	return co
}

// step advances co until it suspends or ends, looping over transitions.
func (co *Coroutine) step() Result {
	for {
		res := co.task(co)
		if res.task != nil {
			co.task = res.task
		}
		if res.action != doTransition {
			return res
		}
	}
}

// finish runs the deferred teardown of co in LIFO order.
// Panics from individual hooks are collected into ts; the remaining
// hooks still run.
func (co *Coroutine) finish(canceled bool, ts *trapstack) {
	if co.flag&flagEnded != 0 {
		return
	}
	co.flag |= flagEnded
	if canceled {
		co.flag |= flagCanceled
	}
	defers := co.defers
	co.defers = defers[:0]
	for i := len(defers) - 1; i >= 0; i-- {
		ts.Try(defers[i])
	}
	clear(defers)
}

// Executor returns the [Executor] that spawned co.
func (co *Coroutine) Executor() *Executor {
	return co.executor
}

// ID returns the identity of co.
//
// Since co can be recycled by an [Executor] when it ends, it is
// recommended to save the return value in a variable first.
func (co *Coroutine) ID() TaskID {
	return co.id
}

// Waker returns a wake handle for the current step of co.
//
// The handle stays valid across steps: firing it after a later
// suspension still resumes co. Firing it after co has completed or
// been canceled is silently absorbed.
func (co *Coroutine) Waker() Waker {
	return co.waker
}

// Defer adds a function call for when co ends or is canceled.
// Deferred calls run in last-in-first-out (LIFO) order.
//
// This is the place to release anything acquired across a suspension:
// on cancellation the task function is never called again, and the
// deferred calls are all that runs. Use [Coroutine.Canceled] or
// [Executor.RecoveringFromTrap] inside f to tell the two apart.
func (co *Coroutine) Defer(f func()) {
	if co.flag&flagEnded != 0 {
		panic("hostexec: coroutine has already ended")
	}
	if f == nil {
		return
	}
	co.defers = append(co.defers, f)
}

// Canceled reports whether co was canceled.
// It only turns true once co's deferred teardown is running.
func (co *Coroutine) Canceled() bool {
	return co.flag&flagCanceled != 0
}

// Suspend returns a [Result] that will cause co to yield until a
// [Waker] for it fires. When co is resumed, the current task function
// is called again.
func (co *Coroutine) Suspend() Result {
	return Result{action: doSuspend}
}

// SuspendTo returns a [Result] that will cause co to yield and, when
// co is resumed, make a transition to work on t.
func (co *Coroutine) SuspendTo(t Task) Result {
	return Result{action: doSuspend, task: must(t)}
}

// Transition returns a [Result] that will cause co to make a
// transition to work on t within the same step.
func (co *Coroutine) Transition(t Task) Result {
	return Result{action: doTransition, task: must(t)}
}

// End returns a [Result] that will cause co to end its current task.
func (co *Coroutine) End() Result {
	return Result{action: doEnd}
}

// Result is the type of the return value of a [Task] function.
// A Result determines what next for a coroutine to do after one step:
// suspend, transition to another task, or end.
type Result struct {
	action action
	task   Task
}

// A Task is a piece of work that a coroutine is given to do when it is
// spawned. The return value of a task, a [Result], determines what
// next for a coroutine to do.
//
// The argument co must not escape to another goroutine, because co may
// be recycled by an [Executor] when it ends.
type Task func(co *Coroutine) Result

// Then returns a [Task] that first works on t, then next after t ends.
func (t Task) Then(next Task) Task {
	if next == nil {
		panic("hostexec: Then(nil): undefined behavior")
	}
	return func(co *Coroutine) Result {
		switch res := t(co); res.action {
		case doEnd:
			return Result{action: doTransition, task: next}
		case doSuspend, doTransition:
			cont := t
			if res.task != nil {
				cont = res.task
			}
			return Result{action: res.action, task: cont.Then(next)}
		default:
			panic("hostexec: internal error: unknown action")
		}
	}
}

// Do returns a [Task] that calls f, and then ends.
func Do(f func()) Task {
	return func(co *Coroutine) Result {
		f()
		return co.End()
	}
}

// Never returns a [Task] that suspends forever.
// A protected coroutine working on it only goes away when its owning
// context cancels it.
func Never() Task {
	return func(co *Coroutine) Result {
		return co.Suspend()
	}
}

func must(t Task) Task {
	if t == nil {
		panic("hostexec: nil Task")
	}
	return t
}
