package hostexec

import (
	"fortio.org/safecast"

	"go.uber.org/zap"
)

// A Waker is an opaque, copyable handle used to request that a
// specific task be stepped again.
//
// A Waker carries identities, not live references: it can be copied
// and held anywhere, survives being packed into a raw integer for the
// host boundary, and firing it after its task is gone is silently
// absorbed. The host side guarantees neither ordering nor
// deduplication of deliveries, and neither is required.
//
// The zero Waker fires into the void.
type Waker struct {
	executor *Executor
	task     TaskID

	// source is the context that was current when the handle was
	// made. Only the legacy callback surface consults it.
	source MethodID
}

// Wake requests that the waker's task be stepped again. The task runs
// before the current entry wrapper returns, in the order wakes were
// received.
//
// While trap recovery is in progress, a wake instead records that the
// task was interrupted: the task is canceled in place, its deferred
// teardown runs, and no further step of it ever occurs. A second wake
// arriving for the same call chain during the same recovery observes
// that the task is already gone and does nothing.
//
// A wake landing on an interrupted chain outside of recovery
// indicates double-use of a single call's continuation and panics.
func (w Waker) Wake() {
	e := w.executor
	if e == nil {
		return
	}
	e.legacyInferWake(w)
	if e.recovering {
		if _, ok := e.trapped[w.task]; ok {
			// The chain was already interrupted by a previous
			// cleanup; this is the other half of a fan-out.
			return
		}
		if e.cancelTask(w.task) {
			e.markTrapped(w.task)
		}
		return
	}
	if _, ok := e.trapped[w.task]; ok {
		delete(e.trapped, w.task)
		panic("hostexec: call already trapped: wake delivered for a continuation canceled by trap recovery")
	}
	s := e.tasks.slot(w.task)
	if s == nil {
		// Completed, or canceled after its context returned early.
		Logger().Debug("hostexec: absorbed wake for missing task", zap.Stringer("task", w.task))
		return
	}
	switch {
	case s.binding.isNull():
		e.migratory.Push(w.task)
	case e.methods.get(s.binding) != nil:
		e.protectedQueue(s.binding).Push(w.task)
	default:
		// The owning context is gone; the task is doomed anyway.
	}
}

// Raw packs the waker into an opaque 64-bit token for crossing a
// boundary that only passes plain integers. Rebuild it with
// [Executor.WakerFromRaw]; the token may be copied and presented any
// number of times.
func (w Waker) Raw() uint64 {
	return uint64(w.task.index)<<32 | uint64(w.task.gen)
}

// WakerFromRaw rebuilds a [Waker] from a token produced by
// [Waker.Raw]. A token for a task that no longer exists rebuilds into
// a waker whose wakes are absorbed like any other stale wake.
func (e *Executor) WakerFromRaw(raw uint64) Waker {
	index, err := safecast.Conv[uint32](raw >> 32)
	if err != nil {
		panic("hostexec: invalid waker token")
	}
	gen, err := safecast.Conv[uint32](raw & 0xFFFFFFFF)
	if err != nil {
		panic("hostexec: invalid waker token")
	}
	w := Waker{executor: e, task: TaskID{index: index, gen: gen}}
	if s := e.tasks.slot(w.task); s != nil {
		w.source = s.binding
	}
	return w
}
