package hostexec

import (
	"sync"

	"go.uber.org/zap"
)

// An Executor is a single-threaded, cooperative task runner driven
// entirely by externally-delivered callback events.
//
// The host glue enters the executor through one of the In*Context
// methods, spawns tasks with [Executor.SpawnProtected] and
// [Executor.SpawnMigratory] from inside, and resumes suspended tasks
// by firing the [Waker] handles those tasks handed out. Before the
// entry wrapper returns, every task made runnable during that
// synchronous stretch has been stepped as far as it can go.
//
// There is never more than one task step in flight. All state belongs
// to the one logical thread of control; an Executor must not be shared
// between goroutines. The zero Executor is ready to use.
type Executor struct {
	tasks   taskArena
	methods methodTable

	// Wake queues. Wakes are serviced in arrival order: first the
	// protected queue of the current context, then the migratory
	// queue when the context kind permits.
	protected map[MethodID]*fifoqueue[TaskID]
	migratory fifoqueue[TaskID]

	// trapped remembers tasks canceled by trap recovery, so that a
	// later, unrelated wake of such a chain can be reported as the
	// programming error it is instead of being silently absorbed.
	trapped map[TaskID]struct{}

	pool sync.Pool

	inContext  bool
	current    MethodID
	stepping   bool
	recovering bool
	canceling  bool

	// Legacy callback surface state; see legacy.go.
	legacyQuery MethodID
	legacyInfer bool
}

// SpawnProtected spawns a task attached to the current method context.
//
// When the task is awoken, if a different context is currently
// running, it will not run until the context it is attached to
// continues. If the attached context is torn down before the task
// completes, the task is canceled.
func (e *Executor) SpawnProtected(t Task) TaskID {
	e.checkSpawn()
	if e.current.isNull() {
		panic("hostexec: SpawnProtected cannot be called outside of a tracking context")
	}
	s := e.methods.get(e.current)
	if s == nil {
		panic("hostexec: internal error: method context deleted while in use (spawn)")
	}
	id := e.insertTask(t, e.current, s.kind == KindQuery)
	e.methods.attach(e.current, id)
	e.protectedQueue(e.current).Push(id)
	Logger().Debug("hostexec: spawned protected task",
		zap.Stringer("task", id), zap.Stringer("method", e.current))
	return id
}

// SpawnMigratory spawns a task that can migrate between contexts.
//
// When the task is awoken, it runs in whatever context happens to be
// active at that time; it deliberately does not remember who spawned
// it, and it outlives the invocation that spawned it.
func (e *Executor) SpawnMigratory(t Task) TaskID {
	e.checkSpawn()
	if s := e.methods.get(e.current); s != nil && s.kind == KindQuery {
		panic("hostexec: migratory tasks cannot be spawned within a query context")
	}
	id := e.insertTask(t, MethodID{}, false)
	e.migratory.Push(id)
	Logger().Debug("hostexec: spawned migratory task", zap.Stringer("task", id))
	return id
}

func (e *Executor) checkSpawn() {
	if !e.inContext {
		panic("hostexec: Spawn* can only be called within an executor context")
	}
	if e.recovering || e.canceling {
		panic("hostexec: tasks cannot be spawned while recovering from a trap")
	}
}

func (e *Executor) insertTask(t Task, binding MethodID, query bool) TaskID {
	co := e.newCoroutine().init(e, must(t))
	id := e.tasks.insert(co, binding, query)
	co.id = id
	co.waker = Waker{executor: e, task: id, source: e.current}
	return id
}

func (e *Executor) protectedQueue(id MethodID) *fifoqueue[TaskID] {
	q := e.protected[id]
	if q == nil {
		q = new(fifoqueue[TaskID])
		if e.protected == nil {
			e.protected = make(map[MethodID]*fifoqueue[TaskID])
		}
		e.protected[id] = q
	}
	return q
}

// drain steps every task made runnable during the current synchronous
// stretch, in the order their wakes arrived, until none remain. Wakes
// that arrive while draining are serviced by the same drain.
func (e *Executor) drain() {
	for {
		id, ok := e.nextWakeup()
		if !ok {
			return
		}
		e.pollOnce(id)
	}
}

func (e *Executor) nextWakeup() (TaskID, bool) {
	// The current context is re-read every iteration: the legacy
	// callback surface may re-select it mid-drain.
	method := e.current
	if q := e.protected[method]; q != nil && !q.Empty() {
		return q.Pop(), true
	}
	kind := KindUpdate
	if s := e.methods.get(method); s != nil {
		kind = s.kind
	}
	if kind != KindQuery && !e.migratory.Empty() {
		return e.migratory.Pop(), true
	}
	return TaskID{}, false
}

type pollStatus int

const (
	pollMissing pollStatus = iota
	pollPending
	pollCompleted
)

// pollOnce advances one task to its next suspension point or to
// completion. A wake handle naming a task that has already completed
// or been canceled resolves to pollMissing, which is normal operation
// under concurrent fan-out, never an error. A task cannot re-enter its
// own poll: while it is being stepped it is taken out of its slot, so
// a synchronous self-wake only enqueues.
func (e *Executor) pollOnce(id TaskID) pollStatus {
	co := e.tasks.take(id)
	if co == nil {
		return pollMissing
	}
	co.waker = Waker{executor: e, task: id, source: e.current}

	var ts trapstack
	var res Result
	e.stepping = true
	ok := ts.Try(func() { res = co.step() })
	e.stepping = false
	if !ok {
		// The step panicked. The task is gone: run its teardown as a
		// cancellation, then re-raise to the host glue.
		e.dropTask(id, co, &ts)
		ts.Repanic()
	}

	if res.action == doEnd {
		e.completeTask(id, co, &ts)
		ts.Repanic()
		return pollCompleted
	}

	if !e.tasks.put(id, co) {
		// Canceled while it was being polled.
		e.finishCanceled(co, &ts)
		ts.Repanic()
		return pollMissing
	}
	return pollPending
}

func (e *Executor) completeTask(id TaskID, co *Coroutine, ts *trapstack) {
	s := e.tasks.slot(id)
	binding := s.binding
	e.tasks.freeSlot(id.index, s)
	e.methods.detach(binding, id)
	co.finish(false, ts)
	e.freeCoroutine(co)
}

func (e *Executor) dropTask(id TaskID, co *Coroutine, ts *trapstack) {
	if s := e.tasks.slot(id); s != nil {
		binding := s.binding
		e.tasks.freeSlot(id.index, s)
		e.methods.detach(binding, id)
	}
	e.finishCanceled(co, ts)
}

func (e *Executor) finishCanceled(co *Coroutine, ts *trapstack) {
	prev := e.canceling
	e.canceling = true
	co.finish(true, ts)
	e.canceling = prev
	e.freeCoroutine(co)
}

// cancelTask drops a task without stepping it, running only its
// deferred teardown. It reports whether there was a task to cancel:
// canceling a task that has already completed or been canceled is a
// safe no-op.
func (e *Executor) cancelTask(id TaskID) bool {
	s := e.tasks.slot(id)
	if s == nil {
		return false
	}
	binding := s.binding
	co, _ := e.tasks.remove(id)
	e.methods.detach(binding, id)
	Logger().Debug("hostexec: canceled task", zap.Stringer("task", id))
	if co == nil {
		// Taken out for polling; the poll loop finishes the job.
		return true
	}
	var ts trapstack
	e.finishCanceled(co, &ts)
	ts.Repanic()
	return true
}

// cancelAttached cancels every task currently attached to a context
// and clears the set. Tasks canceled during trap recovery are
// remembered, so that a later wake of their chain traps.
func (e *Executor) cancelAttached(id MethodID) {
	s := e.methods.get(id)
	if s == nil {
		return
	}
	ids := make([]TaskID, 0, len(s.attached))
	for task := range s.attached {
		ids = append(ids, task)
	}
	for _, task := range ids {
		// cancelTask detaches as it goes; the set only shrinks.
		if e.cancelTask(task) && e.recovering {
			e.markTrapped(task)
		}
	}
	if s := e.methods.get(id); s != nil {
		clear(s.attached)
	}
}

func (e *Executor) markTrapped(id TaskID) {
	if e.trapped == nil {
		e.trapped = make(map[TaskID]struct{})
	}
	e.trapped[id] = struct{}{}
}
