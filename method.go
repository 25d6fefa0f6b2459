package hostexec

import (
	"fmt"

	"fortio.org/safecast"

	"go.uber.org/zap"
)

// ContextKind tells update contexts and query contexts apart.
// The distinction only picks default protection semantics; it has no
// scheduling effect beyond keeping migratory tasks out of query
// contexts.
type ContextKind int

const (
	// KindUpdate marks a context opened for an update-like entry.
	KindUpdate ContextKind = iota
	// KindQuery marks a context opened for a query-like entry.
	KindQuery
)

func (k ContextKind) String() string {
	if k == KindQuery {
		return "query"
	}
	return "update"
}

// A MethodID names one tracked method context.
//
// The zero MethodID is the null context: the anonymous context that
// migratory resumption runs under.
type MethodID struct {
	index uint32
	gen   uint32
}

func (id MethodID) isNull() bool {
	return id.gen == 0
}

// String returns a short description of id for diagnostics.
func (id MethodID) String() string {
	if id.isNull() {
		return "method(null)"
	}
	return fmt.Sprintf("method(%d:%d)", id.index, id.gen)
}

// methodContext is the registry entry for one tracked invocation or
// callback chain.
type methodContext struct {
	gen  uint32
	live bool
	kind ContextKind

	// handles counts the still-unresolved outbound calls charged to
	// this context. The context cannot be torn down while nonzero.
	handles int

	// attached holds the protected tasks that must die with this
	// context. The set only shrinks, or is cleared whole at context
	// destruction.
	attached map[TaskID]struct{}
}

type methodTable struct {
	slots []methodContext
	free  []uint32
}

func (m *methodTable) open(kind ContextKind) MethodID {
	var index uint32

	if n := len(m.free); n != 0 {
		index = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		i, err := safecast.Conv[uint32](len(m.slots))
		if err != nil {
			panic("hostexec: too many method contexts")
		}
		index = i
		m.slots = append(m.slots, methodContext{gen: 1})
	}

	s := &m.slots[index]
	s.live = true
	s.kind = kind
	s.handles = 0

	return MethodID{index: index, gen: s.gen}
}

func (m *methodTable) get(id MethodID) *methodContext {
	if id.isNull() || int(id.index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[id.index]
	if !s.live || s.gen != id.gen {
		return nil
	}
	return s
}

func (m *methodTable) attach(id MethodID, task TaskID) {
	s := m.get(id)
	if s == nil {
		panic("hostexec: internal error: method context deleted while in use (attach)")
	}
	if s.attached == nil {
		s.attached = make(map[TaskID]struct{})
	}
	s.attached[task] = struct{}{}
}

func (m *methodTable) detach(id MethodID, task TaskID) {
	if s := m.get(id); s != nil {
		delete(s.attached, task)
	}
}

func (m *methodTable) retain(id MethodID) {
	s := m.get(id)
	if s == nil {
		panic("hostexec: internal error: method context deleted while in use (retain)")
	}
	s.handles++
}

func (m *methodTable) release(id MethodID) {
	if s := m.get(id); s != nil {
		if s.handles == 0 {
			panic("hostexec: internal error: method context handle count underflow")
		}
		s.handles--
	}
}

// close removes a context from the table. Its attached tasks must have
// completed or been canceled first; anything else is a bug in the
// teardown sequencing, not a runtime condition.
func (m *methodTable) close(id MethodID) {
	s := m.get(id)
	if s == nil {
		return
	}
	if len(s.attached) != 0 {
		panic("hostexec: internal error: closing a method context with tasks still attached")
	}
	s.live = false
	s.kind = KindUpdate
	s.handles = 0
	s.attached = nil
	s.gen++
	m.free = append(m.free, id.index)
}

// A MethodHandle keeps a method context alive across an outbound call.
//
// The host glue must obtain one via [Executor.ExtendCurrentContext]
// before making the call, thread it through the call's environment,
// and present it to [Executor.InCallbackContext] or
// [Executor.InTrapRecoveryContext] when the call comes back. Failing
// to track this properly may result in unexpected cancellation of
// tasks.
type MethodHandle struct {
	executor *Executor
	method   MethodID
	released bool
}

func (e *Executor) handleFor(id MethodID) *MethodHandle {
	if !id.isNull() {
		e.methods.retain(id)
	}
	return &MethodHandle{executor: e, method: id}
}

// Method returns the identity of the context the handle keeps alive.
func (h *MethodHandle) Method() MethodID {
	return h.method
}

// Release gives up the handle. Once every handle for a context is
// released and no entry wrapper is executing on it, the context is
// torn down.
//
// Entry wrappers that take a handle release it themselves; Release is
// for glue that made a call whose callbacks it knows will never be
// delivered. Releasing twice panics.
func (h *MethodHandle) Release() {
	if h.released {
		panic("hostexec: method handle released twice")
	}
	h.released = true
	if h.method.isNull() {
		return
	}
	e := h.executor
	e.methods.release(h.method)
	e.teardownIfIdle(h.method)
}

// Raw packs the handle into an opaque 64-bit token for crossing a
// boundary that only passes plain integers. The token carries the
// handle's single reference: rebuild it with [Executor.HandleFromRaw]
// exactly once, and do not use h afterwards.
func (h *MethodHandle) Raw() uint64 {
	h.released = true
	return uint64(h.method.index)<<32 | uint64(h.method.gen)
}

// HandleFromRaw rebuilds a [MethodHandle] from a token produced by
// [MethodHandle.Raw]. Presenting a stale or foreign token traps.
func (e *Executor) HandleFromRaw(raw uint64) *MethodHandle {
	index, err := safecast.Conv[uint32](raw >> 32)
	if err != nil {
		panic("hostexec: invalid method token")
	}
	gen, err := safecast.Conv[uint32](raw & 0xFFFFFFFF)
	if err != nil {
		panic("hostexec: invalid method token")
	}
	id := MethodID{index: index, gen: gen}
	if id.isNull() {
		return &MethodHandle{executor: e, method: id}
	}
	if e.methods.get(id) == nil {
		panic("hostexec: stale method token: context no longer exists")
	}
	return &MethodHandle{executor: e, method: id}
}

// teardownIfIdle destroys a context once its handle count reaches zero
// and no entry wrapper is executing on it. Destruction cascades: every
// still-attached protected task is canceled.
func (e *Executor) teardownIfIdle(id MethodID) {
	if e.inContext && e.current == id {
		return
	}
	s := e.methods.get(id)
	if s == nil || s.handles != 0 {
		return
	}
	if len(s.attached) != 0 {
		Logger().Debug("hostexec: canceling tasks attached to closing context",
			zap.Stringer("method", id), zap.Int("tasks", len(s.attached)))
		e.cancelAttached(id)
	}
	e.methods.close(id)
	delete(e.protected, id)
}
