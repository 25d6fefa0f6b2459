package hostexec_test

import (
	"testing"

	"github.com/b97tsk/hostexec"
)

func TestLegacyUpdateEntry(t *testing.T) {
	var myExecutor hostexec.Executor

	done := false

	myExecutor.InExecutorContext(func() {
		myExecutor.Spawn(hostexec.Do(func() { done = true }))
	})

	if !done {
		t.Fatal("A task spawned in a legacy update entry did not run.")
	}

	expectPanic(t, func() { myExecutor.Spawn(hostexec.Never()) })
}

func TestLegacyQueryCallback(t *testing.T) {
	var myExecutor hostexec.Executor

	steps := 0
	var w hostexec.Waker

	myExecutor.InQueryExecutorContext(func() {
		myExecutor.Spawn(func(co *hostexec.Coroutine) hostexec.Result {
			steps++
			if steps == 1 {
				w = co.Waker()
				return co.Suspend()
			}
			return co.End()
		})
	})

	if steps != 1 {
		t.Fatalf("The query task should have suspended after one step: got %v.", steps)
	}

	// The legacy callback entry carries no handle; the reserved query
	// context is inferred from the first waker fired inside it.
	myExecutor.InCallbackExecutorContext(func() { w.Wake() })

	if steps != 2 {
		t.Fatalf("The callback entry did not infer the query context: got %v steps.", steps)
	}

	// The reserved context survives; later query entries reuse it.
	done := false
	myExecutor.InQueryExecutorContext(func() {
		myExecutor.Spawn(hostexec.Do(func() { done = true }))
	})
	if !done {
		t.Fatal("A later legacy query entry did not run its task.")
	}
}

func TestLegacyCancellationContext(t *testing.T) {
	var myExecutor hostexec.Executor

	cleanups := 0
	recovering := false
	var w hostexec.Waker

	myExecutor.InQueryExecutorContext(func() {
		myExecutor.Spawn(func(co *hostexec.Coroutine) hostexec.Result {
			w = co.Waker()
			co.Defer(func() { cleanups++ })
			return co.Suspend()
		})
	})

	myExecutor.InCallbackCancellationContext(func() {
		recovering = myExecutor.RecoveringFromTrap()
		w.Wake()
	})

	if cleanups != 1 {
		t.Fatalf("The cancellation entry should cancel the task in place: got %v cleanups.", cleanups)
	}
	if !recovering {
		t.Fatal("RecoveringFromTrap should report true inside a cancellation entry.")
	}

	// Delivering the interrupted call's continuation afterwards is
	// double use and traps.
	expectPanic(t, func() {
		myExecutor.InCallbackExecutorContext(func() { w.Wake() })
	})
}
