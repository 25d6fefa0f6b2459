// Package hostexec implements a cooperative task executor for an
// environment with exactly one logical thread of control, where
// asynchronous progress is driven entirely by externally-delivered
// callback events.
//
// The intended host is a canister-style runtime: the host calls into
// the program at well-defined entry points, the program may issue
// outbound calls whose replies arrive as later entry points, and
// between entry points nothing runs at all. There are no OS threads,
// no timers and no I/O reactor in this picture; an [Executor] turns
// that callback contract into ordinary-looking asynchronous tasks.
//
// # Contexts
//
// Every tracked invocation gets a method context. A context remembers
// how many outbound calls are still charged to it and which protected
// tasks must die with it. The host glue enters one with
// [Executor.InUpdateContext] or [Executor.InQueryContext], re-enters
// it on a callback with [Executor.InCallbackContext], and lets the
// executor tear it down when the last handle is released.
//
// Before making an outbound call, the glue calls
// [Executor.ExtendCurrentContext] and threads the returned
// [MethodHandle] through the call's environment; that handle is how a
// later callback names the context it belongs to. Entry wrappers must
// not nest: a callback delivered while another context is executing is
// a bug in the glue and traps.
//
// # Protected and migratory tasks
//
// [Executor.SpawnProtected] attaches a task to the current context.
// If the context is torn down first, the task is canceled: its task
// function is never called again and only its deferred teardown runs.
// This is how a method's pending continuation is disposed of when the
// method has already failed.
//
// [Executor.SpawnMigratory] spawns a task that belongs to no context.
// It intentionally does not remember who spawned it: when its waker
// fires, it resumes under whatever context is active at that time, or
// under none ([Executor.InNullContext]). Background work that must
// outlive its invocation is spawned this way.
//
// # Wakes and draining
//
// A suspended task resumes only when a [Waker] for it fires. Wakers
// are plain data: copyable, packable into a 64-bit token for the host
// boundary ([Waker.Raw]), and safe to fire late, twice, or never in
// any order the host chooses. A wake for a task that already completed
// is absorbed; tasks are polled in the order their wakes arrived; and
// every entry wrapper drains all runnable tasks before returning
// control to the host.
//
// # Trap recovery
//
// When a method traps after issuing an outbound call, the host
// eventually delivers the call's cleanup callback instead of its
// reply. [Executor.InTrapRecoveryContext] converts that signal into a
// drop-only cancellation of exactly the tasks still attached to the
// failed context. Cancellation is not an error and is never observed
// by task code as one: a canceled task simply never runs again, its
// deferred hooks run once, and [Executor.RecoveringFromTrap] lets
// those hooks tell cancellation apart from normal completion. Two
// calls issued concurrently from one task produce two cleanups, of
// which only the first has any effect. A late wake for a continuation
// that trap recovery already canceled, on the other hand, means a
// single call's continuation was used twice, and traps loudly.
package hostexec
