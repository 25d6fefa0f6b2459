package hostexec_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/b97tsk/hostexec"
)

func expectPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if recover() == nil {
			t.Fatal("Expected a panic; got none.")
		}
	}()
	f()
}

func catchPanic(f func()) (v any) {
	defer func() { v = recover() }()
	f()
	return nil
}

func TestDrainOrder(t *testing.T) {
	var myExecutor hostexec.Executor

	var log []string
	var wakers []hostexec.Waker

	named := func(name string) hostexec.Task {
		started := false
		return func(co *hostexec.Coroutine) hostexec.Result {
			if !started {
				started = true
				log = append(log, name+":start")
				wakers = append(wakers, co.Waker())
				return co.Suspend()
			}
			log = append(log, name+":done")
			return co.End()
		}
	}

	var pending *hostexec.MethodHandle

	myExecutor.InUpdateContext(func() {
		pending = myExecutor.ExtendCurrentContext()
		myExecutor.SpawnProtected(named("a"))
		myExecutor.SpawnProtected(named("b"))
		myExecutor.SpawnProtected(named("c"))
	})

	want := []string{"a:start", "b:start", "c:start"}
	if !slices.Equal(log, want) {
		t.Fatalf("Tasks were not stepped in spawn order: got %v, want %v.", log, want)
	}

	myExecutor.InCallbackContext(pending, func() {
		wakers[2].Wake()
		wakers[0].Wake()
		wakers[1].Wake()
	})

	want = append(want, "c:done", "a:done", "b:done")
	if !slices.Equal(log, want) {
		t.Fatalf("Tasks were not resumed in wake order: got %v, want %v.", log, want)
	}

	// A late wake for a completed task is absorbed.
	wakers[0].Wake()
	myExecutor.InNullContext(func() {})

	if !slices.Equal(log, want) {
		t.Fatalf("A stale wake re-ran a completed task: got %v, want %v.", log, want)
	}
}

func TestTransitions(t *testing.T) {
	var myExecutor hostexec.Executor

	var log []string

	record := func(name string) hostexec.Task {
		return hostexec.Do(func() { log = append(log, name) })
	}

	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(record("x").Then(record("y")).Then(record("z")))
	})

	if want := []string{"x", "y", "z"}; !slices.Equal(log, want) {
		t.Fatalf("Then did not chain tasks in order: got %v, want %v.", log, want)
	}
}

func TestSelfWakeOnlyEnqueues(t *testing.T) {
	var myExecutor hostexec.Executor

	polls := 0

	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(func(co *hostexec.Coroutine) hostexec.Result {
			polls++
			if polls == 1 {
				co.Waker().Wake()
				return co.Suspend()
			}
			return co.End()
		})
	})

	if polls != 2 {
		t.Fatalf("A synchronous self-wake should schedule exactly one more step: got %v polls.", polls)
	}
}

func TestSpawnRestrictions(t *testing.T) {
	var myExecutor hostexec.Executor

	expectPanic(t, func() { myExecutor.SpawnMigratory(hostexec.Never()) })
	expectPanic(t, func() { myExecutor.SpawnProtected(hostexec.Never()) })

	myExecutor.InNullContext(func() {
		expectPanic(t, func() { myExecutor.SpawnProtected(hostexec.Never()) })
	})

	done := false

	myExecutor.InQueryContext(func() {
		expectPanic(t, func() { myExecutor.SpawnMigratory(hostexec.Never()) })
		myExecutor.SpawnProtected(hostexec.Do(func() { done = true }))
	})

	if !done {
		t.Fatal("A protected task spawned in a query context did not run.")
	}
}

func TestNestedEntryPanics(t *testing.T) {
	var myExecutor hostexec.Executor

	myExecutor.InUpdateContext(func() {
		expectPanic(t, func() { myExecutor.InNullContext(func() {}) })
		expectPanic(t, func() { myExecutor.InUpdateContext(func() {}) })
	})
}

func TestTaskPanic(t *testing.T) {
	var myExecutor hostexec.Executor

	canceled := false

	v := catchPanic(func() {
		myExecutor.InNullContext(func() {
			myExecutor.SpawnMigratory(func(co *hostexec.Coroutine) hostexec.Result {
				co.Defer(func() { canceled = co.Canceled() })
				panic("boom")
			})
		})
	})

	if v == nil {
		t.Fatal("A panicking task should propagate out of the entry wrapper.")
	}
	err, ok := v.(error)
	if !ok || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("The propagated value should wrap the original panic: got %v.", v)
	}
	if !canceled {
		t.Fatal("A panicking task's deferred teardown should observe cancellation.")
	}

	// The executor remains usable afterwards.
	done := false
	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(hostexec.Do(func() { done = true }))
	})
	if !done {
		t.Fatal("The executor did not recover after a task panic.")
	}
}

func TestWakerRawRoundTrip(t *testing.T) {
	var myExecutor hostexec.Executor

	steps := 0
	var raw uint64

	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(func(co *hostexec.Coroutine) hostexec.Result {
			steps++
			if steps == 1 {
				raw = co.Waker().Raw()
				return co.Suspend()
			}
			return co.End()
		})
	})

	if steps != 1 {
		t.Fatalf("The task should have suspended after one step: got %v.", steps)
	}

	w := myExecutor.WakerFromRaw(raw)
	myExecutor.InNullContext(func() { w.Wake() })

	if steps != 2 {
		t.Fatalf("A waker rebuilt from its raw token did not resume the task: got %v steps.", steps)
	}

	// The token names a completed task now; wakes built from it are
	// absorbed.
	myExecutor.InNullContext(func() { myExecutor.WakerFromRaw(raw).Wake() })
	if steps != 2 {
		t.Fatalf("A stale raw token re-ran a completed task: got %v steps.", steps)
	}
}

func TestZeroWaker(t *testing.T) {
	var w hostexec.Waker
	w.Wake() // must not panic
}

func TestTaskPanicStillTearsDownContext(t *testing.T) {
	var myExecutor hostexec.Executor

	cleanups := 0

	expectPanic(t, func() {
		myExecutor.InUpdateContext(func() {
			myExecutor.SpawnProtected(func(co *hostexec.Coroutine) hostexec.Result {
				co.Defer(func() { cleanups++ })
				return co.Suspend()
			})
			myExecutor.SpawnProtected(func(co *hostexec.Coroutine) hostexec.Result {
				panic("boom")
			})
		})
	})

	if cleanups != 1 {
		t.Fatalf("A panic ending the entry should still cancel the surviving protected task: got %v cleanups.", cleanups)
	}
}

func TestTaskPanicReleasesCallbackHandle(t *testing.T) {
	var myExecutor hostexec.Executor

	cleanups := 0
	var pending *hostexec.MethodHandle

	myExecutor.InUpdateContext(func() {
		pending = myExecutor.ExtendCurrentContext()
		myExecutor.SpawnProtected(func(co *hostexec.Coroutine) hostexec.Result {
			co.Defer(func() { cleanups++ })
			return co.Suspend()
		})
	})

	expectPanic(t, func() {
		myExecutor.InCallbackContext(pending, func() {
			myExecutor.SpawnProtected(func(co *hostexec.Coroutine) hostexec.Result {
				panic("boom")
			})
		})
	})

	if cleanups != 1 {
		t.Fatalf("A panic inside the callback should still give the handle back and tear the context down: got %v cleanups.", cleanups)
	}
}

func TestRecycledCoroutineDefers(t *testing.T) {
	var myExecutor hostexec.Executor

	cleanups := 0

	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(func(co *hostexec.Coroutine) hostexec.Result {
			co.Defer(func() { cleanups++ })
			return co.End()
		})
	})

	if cleanups != 1 {
		t.Fatalf("The teardown hook should run at completion: got %v cleanups.", cleanups)
	}

	// A later task, likely running on a recycled coroutine, must not
	// replay the earlier task's teardown hooks.
	myExecutor.InNullContext(func() {
		myExecutor.SpawnMigratory(hostexec.Do(func() {}))
	})

	if cleanups != 1 {
		t.Fatalf("A recycled coroutine replayed old teardown hooks: got %v cleanups.", cleanups)
	}
}
