package hostexec

// The legacy surface predates tracked method contexts. It maps the
// old one-context-per-kind model onto the current per-invocation
// model: update entries run in the null context, and all query
// entries share one reserved context that is opened on first use and
// never torn down.

func (e *Executor) legacyQueryContext() MethodID {
	if e.legacyQuery.isNull() {
		id := e.methods.open(KindQuery)
		// A permanent handle: the shared context must survive every
		// individual query entry.
		e.methods.retain(id)
		e.legacyQuery = id
	}
	return e.legacyQuery
}

// Spawn spawns a task in the manner the legacy surface implied:
// protected in a query context, migratory everywhere else.
//
// Deprecated: Use [Executor.SpawnMigratory] or
// [Executor.SpawnProtected] instead.
func (e *Executor) Spawn(t Task) TaskID {
	if !e.inContext {
		panic("hostexec: Spawn can only be called within an executor context")
	}
	if s := e.methods.get(e.current); s != nil && s.kind == KindQuery {
		return e.SpawnProtected(t)
	}
	return e.SpawnMigratory(t)
}

// InExecutorContext executes an update entry without tracking it.
//
// Deprecated: Use [Executor.InUpdateContext] instead.
func (e *Executor) InExecutorContext(f func()) {
	e.InNullContext(f)
}

// InQueryExecutorContext executes a query entry in the reserved
// legacy query context.
//
// Deprecated: Use [Executor.InQueryContext] instead.
func (e *Executor) InQueryExecutorContext(f func()) {
	id := e.legacyQueryContext()
	e.enter(id, func() {
		f()
		e.drain()
	})
}

// InCallbackExecutorContext executes an outbound-call callback
// without a handle naming its context. The context is inferred from
// the first waker fired inside f: a wake for a task spawned under a
// query entry re-selects the reserved legacy query context, so that
// the task is eligible to run.
//
// Deprecated: Use [Executor.InCallbackContext] instead.
func (e *Executor) InCallbackExecutorContext(f func()) {
	e.legacyInfer = true
	defer func() { e.legacyInfer = false }()
	e.InNullContext(f)
}

// InCallbackCancellationContext executes the cleanup callback of an
// outbound call whose initiating method has already trapped, without
// a handle naming its context. Any waker fired inside f cancels its
// task in place; nothing is polled.
//
// Deprecated: Use [Executor.InTrapRecoveryContext] instead.
func (e *Executor) InCallbackCancellationContext(f func()) {
	e.enter(MethodID{}, func() {
		e.recovering = true
		defer func() { e.recovering = false }()
		f()
	})
}

// legacyInferWake re-selects the current context on a wake observed
// under an inferring legacy callback: a wake sourced from a
// query-kind context moves execution to the reserved legacy query
// context, so that the woken task is eligible to run.
func (e *Executor) legacyInferWake(w Waker) {
	if !e.legacyInfer || !e.inContext || !e.current.isNull() {
		return
	}
	if s := e.methods.get(w.source); s != nil && s.kind == KindQuery {
		e.current = e.legacyQueryContext()
	}
}
