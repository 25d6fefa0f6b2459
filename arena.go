package hostexec

import (
	"fmt"

	"fortio.org/safecast"
)

// A TaskID names a spawned task.
//
// A TaskID is a stable identity: it remains meaningful after the task
// itself has been moved, suspended, completed or canceled. Slot indexes
// are versioned, so an identity is never confused with that of a later
// task reusing the same slot.
//
// The zero TaskID names no task.
type TaskID struct {
	index uint32
	gen   uint32
}

// String returns a short description of id for diagnostics.
func (id TaskID) String() string {
	return fmt.Sprintf("task(%d:%d)", id.index, id.gen)
}

type taskSlot struct {
	gen uint32

	// co is nil while the slot is vacant, and also while the task is
	// taken out of the slot for stepping. The live flag tells the two
	// apart: a live slot with a nil co is a task that is being polled
	// right now.
	co   *Coroutine
	live bool

	// doomed marks a live, taken-out task that was canceled while it
	// was being polled. The poll loop completes the cancellation when
	// the step returns.
	doomed bool

	// binding is the owning method context for protected tasks, or
	// the zero MethodID for migratory ones. It lives on the slot, not
	// on the coroutine, so that wakes arriving mid-poll still classify
	// correctly.
	binding MethodID

	// query records whether the task was spawned under a query-kind
	// context. Only the legacy callback surface consults it.
	query bool
}

// A taskArena owns every in-flight task and hands out versioned slot
// identities for them.
type taskArena struct {
	slots []taskSlot
	free  []uint32
}

func (a *taskArena) insert(co *Coroutine, binding MethodID, query bool) TaskID {
	var index uint32

	if n := len(a.free); n != 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		i, err := safecast.Conv[uint32](len(a.slots))
		if err != nil {
			panic("hostexec: too many tasks")
		}
		index = i
		a.slots = append(a.slots, taskSlot{gen: 1})
	}

	s := &a.slots[index]
	s.co = co
	s.live = true
	s.doomed = false
	s.binding = binding
	s.query = query

	return TaskID{index: index, gen: s.gen}
}

// slot resolves id to its slot, or nil if the task has already
// completed or been canceled. Duplicate and late identities resolving
// to nil is normal operation, not an error.
func (a *taskArena) slot(id TaskID) *taskSlot {
	if id.gen == 0 || int(id.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[id.index]
	if !s.live || s.gen != id.gen {
		return nil
	}
	return s
}

// take removes the task from its slot for one step of execution,
// leaving the slot live so that the identity stays valid while the
// task runs.
func (a *taskArena) take(id TaskID) *Coroutine {
	s := a.slot(id)
	if s == nil || s.co == nil {
		return nil
	}
	co := s.co
	s.co = nil
	return co
}

// put stores the task back into its slot after a step that suspended.
// It reports false if the slot was doomed or freed in the meantime; a
// doomed slot is freed here, and the caller owns the coroutine's
// teardown.
func (a *taskArena) put(id TaskID, co *Coroutine) bool {
	s := a.slot(id)
	if s == nil {
		return false
	}
	if s.doomed {
		a.freeSlot(id.index, s)
		return false
	}
	s.co = co
	return true
}

// remove frees the slot, bumping its generation so that outstanding
// wake handles for id never resolve again. It returns the stored task,
// which is nil if the task is currently taken out; in that case the
// slot is marked doomed instead of freed, and the poller finishes the
// removal.
func (a *taskArena) remove(id TaskID) (co *Coroutine, removed bool) {
	s := a.slot(id)
	if s == nil {
		return nil, false
	}
	if s.co == nil {
		s.doomed = true
		return nil, true
	}
	co = s.co
	a.freeSlot(id.index, s)
	return co, true
}

func (a *taskArena) freeSlot(index uint32, s *taskSlot) {
	s.co = nil
	s.live = false
	s.doomed = false
	s.binding = MethodID{}
	s.query = false
	s.gen++
	a.free = append(a.free, index)
}
