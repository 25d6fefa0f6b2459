package hostexec

// A WaitGroup is a counter that wakes its watchers when it reaches
// zero. It is the join primitive for fan-out: charge it once per
// outstanding piece of work, complete each piece with Done, and have
// the joining task suspend on Await.
//
// A WaitGroup must not be shared by more than one [Executor].
type WaitGroup struct {
	n        int
	watchers []Waker
}

// Add adds delta, which may be negative, to the [WaitGroup] counter.
// If the counter becomes zero, Add wakes every watcher.
// If the counter goes negative, Add panics.
func (wg *WaitGroup) Add(delta int) {
	wg.n += delta
	if wg.n < 0 {
		panic("hostexec(WaitGroup): negative counter")
	}
	if wg.n == 0 && delta != 0 {
		watchers := wg.watchers
		wg.watchers = nil
		for _, w := range watchers {
			w.Wake()
		}
	}
}

// Done decrements the [WaitGroup] counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Await returns a [Task] that suspends until the counter becomes
// zero, and then ends.
func (wg *WaitGroup) Await() Task {
	return func(co *Coroutine) Result {
		if wg.n != 0 {
			wg.watchers = append(wg.watchers, co.Waker())
			return co.Suspend()
		}
		return co.End()
	}
}
