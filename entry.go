package hostexec

import "go.uber.org/zap"

// InUpdateContext executes an update entry in a fresh tracking
// context, in which both [Executor.SpawnProtected] and
// [Executor.SpawnMigratory] may be called.
//
// Before returning, every task made runnable during f is stepped as
// far as it can go. If, at that point, no outbound call keeps the
// context alive, the context is torn down and any task still attached
// to it is canceled.
func (e *Executor) InUpdateContext(f func()) {
	e.inOpenContext(KindUpdate, f)
}

// InQueryContext executes a query entry in a fresh tracking context,
// in which [Executor.SpawnProtected] may be called but
// [Executor.SpawnMigratory] may not.
func (e *Executor) InQueryContext(f func()) {
	e.inOpenContext(KindQuery, f)
}

func (e *Executor) inOpenContext(kind ContextKind, f func()) {
	id := e.methods.open(kind)
	Logger().Debug("hostexec: opened method context",
		zap.Stringer("method", id), zap.Stringer("kind", kind))
	// Deferred so that a task panic propagating out of the drain still
	// tears the context down and cancels its surviving tasks.
	defer e.teardownIfIdle(id)
	e.enter(id, func() {
		f()
		e.drain()
	})
}

// InNullContext executes f in the anonymous context used for
// migratory resumption. [Executor.SpawnMigratory] may be called;
// [Executor.SpawnProtected] may not. No context is tracked and
// nothing is torn down afterwards.
func (e *Executor) InNullContext(f func()) {
	e.enter(MethodID{}, func() {
		f()
		e.drain()
	})
}

// InCallbackContext executes the reply or reject callback of an
// outbound call in the context that made it, named by h.
//
// The wrapper consumes h: the handle's reference is released when the
// wrapper returns, and the context is torn down once no other handles
// keep it alive.
func (e *Executor) InCallbackContext(h *MethodHandle, f func()) {
	id := e.consumeHandle(h)
	// Deferred so that the handle's reference is given back even when a
	// task panic propagates out of the drain; the context must not leak.
	defer func() {
		e.methods.release(id)
		e.teardownIfIdle(id)
	}()
	e.enter(id, func() {
		f()
		e.drain()
	})
}

// InTrapRecoveryContext executes the cleanup callback of an outbound
// call whose initiating method has already failed catastrophically.
//
// For the duration of f, the executor is recovering:
// [Executor.RecoveringFromTrap] reports true, wakes cancel their task
// in place instead of scheduling it, and spawning is forbidden.
// f should fire the doomed call's waker, or call
// [Executor.CancelAttachedTasks], or both; either way, exactly the
// tasks still attached to the failed context are canceled, without any
// of their remaining code running. The wrapper never polls.
//
// The wrapper consumes h like [Executor.InCallbackContext] does.
func (e *Executor) InTrapRecoveryContext(h *MethodHandle, f func()) {
	id := e.consumeHandle(h)
	Logger().Debug("hostexec: entering trap recovery", zap.Stringer("method", id))
	defer func() {
		e.methods.release(id)
		e.teardownIfIdle(id)
	}()
	e.enter(id, func() {
		e.recovering = true
		defer func() { e.recovering = false }()
		f()
	})
}

// enter establishes id as the current context around f.
// Nesting entry wrappers almost always indicates a waker-API version
// mismatch between independently evolving pieces of glue code, so it
// traps rather than silently nesting.
func (e *Executor) enter(id MethodID, f func()) {
	if e.inContext {
		panic("hostexec: In*Context called within an existing executor context")
	}
	e.inContext = true
	e.current = id
	defer func() {
		e.inContext = false
		e.current = MethodID{}
	}()
	f()
}

func (e *Executor) consumeHandle(h *MethodHandle) MethodID {
	if h == nil {
		panic("hostexec: nil method handle")
	}
	if h.executor != e {
		panic("hostexec: foreign method token")
	}
	if h.released {
		panic("hostexec: method handle already released")
	}
	h.released = true
	return h.method
}

// ExtendCurrentContext produces a handle keeping the current context
// alive. The host glue must call this before making an outbound call,
// charge the call to the handle, and present the handle again when
// the call's callback or cleanup is delivered.
func (e *Executor) ExtendCurrentContext() *MethodHandle {
	if !e.inContext {
		panic("hostexec: ExtendCurrentContext can only be called within an executor context")
	}
	return e.handleFor(e.current)
}

// CancelAttachedTasks cancels every task attached to the current
// context via [Executor.SpawnProtected], running only their deferred
// teardown. In the null context it does nothing.
//
// This is the main tool of [Executor.InTrapRecoveryContext]; calling
// it twice, or for a context whose tasks are already gone, is a safe
// no-op.
func (e *Executor) CancelAttachedTasks() {
	if !e.inContext {
		panic("hostexec: CancelAttachedTasks can only be called within a method context")
	}
	if e.stepping {
		panic("hostexec: CancelAttachedTasks cannot be called from a task")
	}
	e.cancelAttached(e.current)
}

// RecoveringFromTrap reports whether task teardown is running because
// of a trap or cancellation rather than normal completion. It may be
// read from anywhere, most usefully from deferred teardown hooks that
// need to distinguish being canceled from a normal return.
func (e *Executor) RecoveringFromTrap() bool {
	return e.recovering || e.canceling
}
