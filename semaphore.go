package hostexec

import "slices"

// Semaphore provides a way to bound how much of a resource the tasks
// of one executor hold at a time, most usefully the number of
// outstanding outbound calls. The callers can request access with a
// given weight.
//
// Waiters are granted in FIFO order. A waiting task that is canceled
// gives up its place in line.
//
// A Semaphore must not be shared by more than one [Executor].
type Semaphore struct {
	size    int64
	cur     int64
	waiters []*semWaiter
}

// NewSemaphore creates a new weighted semaphore with the given
// maximum combined weight.
func NewSemaphore(n int64) *Semaphore {
	return &Semaphore{size: n}
}

// Acquire returns a [Task] that suspends until a weight of n is
// acquired from the semaphore, and then ends.
func (s *Semaphore) Acquire(n int64) Task {
	if n < 0 {
		panic("hostexec(Semaphore): negative weight")
	}
	var w *semWaiter
	return func(co *Coroutine) Result {
		if w != nil {
			if !w.granted {
				return co.Suspend() // spurious wake
			}
			return co.End()
		}
		if s.size-s.cur >= n && len(s.waiters) == 0 {
			s.cur += n
			return co.End()
		}
		if n > s.size {
			return co.Suspend() // impossible to satisfy
		}
		w = &semWaiter{n: n, waker: co.Waker()}
		s.waiters = append(s.waiters, w)
		co.Defer(func() {
			if !w.granted {
				s.removeWaiter(w)
			}
		})
		return co.Suspend()
	}
}

// Release releases the semaphore with a weight of n, granting as many
// waiters as now fit, in order.
func (s *Semaphore) Release(n int64) {
	if n < 0 {
		panic("hostexec(Semaphore): negative weight")
	}
	s.cur -= n
	if s.cur < 0 {
		panic("hostexec(Semaphore): released more than held")
	}
	s.notifyWaiters()
}

func (s *Semaphore) notifyWaiters() {
	i := 0
	for i = range s.waiters {
		w := s.waiters[i]
		if s.size-s.cur < w.n {
			break
		}
		s.cur += w.n
		w.granted = true
		w.waker.Wake()
	}
	if i < len(s.waiters) && !s.waiters[i].granted {
		s.waiters = slices.Delete(s.waiters, 0, i)
	} else {
		s.waiters = s.waiters[:0]
	}
}

type semWaiter struct {
	n       int64
	waker   Waker
	granted bool
}

func (s *Semaphore) removeWaiter(w *semWaiter) {
	if i := slices.Index(s.waiters, w); i != -1 {
		s.waiters = slices.Delete(s.waiters, i, i+1)
	}
}
