package hostexec

// A Completion carries a value that arrives from outside the
// executor, typically the decoded reply of an outbound call. It is
// the out-of-band channel through which a task communicates a result:
// the scheduler itself never sees task return values.
//
// A task that needs the value watches the completion and suspends; the
// host glue completes it from a callback context, which wakes every
// watcher. A Completion must not be shared by more than one
// [Executor].
type Completion[T any] struct {
	value    T
	done     bool
	watchers []Waker
}

// Done reports whether the value has arrived.
func (c *Completion[T]) Done() bool {
	return c.done
}

// Value returns the completed value. It panics if the value has not
// arrived yet; check [Completion.Done] or watch first.
func (c *Completion[T]) Value() T {
	if !c.done {
		panic("hostexec(Completion): value not yet completed")
	}
	return c.value
}

// Watch registers the current step's waker, so that co resumes when
// the value arrives. Watching an already-completed completion wakes
// co again immediately.
func (c *Completion[T]) Watch(co *Coroutine) {
	if c.done {
		co.Waker().Wake()
		return
	}
	c.watchers = append(c.watchers, co.Waker())
}

// Complete delivers the value and wakes every watcher. Completing
// twice panics: a call has exactly one reply.
func (c *Completion[T]) Complete(v T) {
	if c.done {
		panic("hostexec(Completion): completed twice")
	}
	c.value = v
	c.done = true
	watchers := c.watchers
	c.watchers = nil
	for _, w := range watchers {
		w.Wake()
	}
}

// Await returns a [Task] that suspends until the value arrives, and
// then ends.
func (c *Completion[T]) Await() Task {
	return func(co *Coroutine) Result {
		if !c.done {
			c.Watch(co)
			return co.Suspend()
		}
		return co.End()
	}
}
