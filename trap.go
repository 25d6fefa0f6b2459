package hostexec

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
)

// A trapstack collects panics raised while stepping a task or running its
// deferred teardown, so that the executor can finish its bookkeeping before
// re-raising them to the host glue as a single value.
type trapstack []trapitem

func (ts trapstack) Repanic() {
	if len(ts) != 0 {
		panic(&trapvalue{items: ts})
	}
}

func (ts *trapstack) Try(f func()) (ok bool) {
	defer func() {
		if !ok {
			v := recover()
			if v == nil {
				panic("hostexec: tasks must not call runtime.Goexit()")
			}
			ts.push(v, debug.Stack())
		}
	}()
	f()
	return true
}

func (ts *trapstack) push(v any, stack []byte) {
	*ts = append(*ts, trapitem{v, stack})
}

type trapitem struct {
	value any
	stack []byte
}

type trapvalue struct {
	items []trapitem
	errs  atomic.Pointer[[]error]
}

func (tv *trapvalue) Error() string {
	var b strings.Builder
	b.WriteString("as follows:")
	for i, p := range tv.items {
		fmt.Fprintf(&b, "\n(%d/%d) panic: %v", i+1, len(tv.items), p.value)
		if p.stack != nil {
			b.WriteString("\n\n")
			b.Write(p.stack)
		}
	}
	return b.String()
}

func (tv *trapvalue) Unwrap() []error {
	if p := tv.errs.Load(); p != nil {
		return *p
	}
	var errs []error
	for _, p := range tv.items {
		if err, ok := p.value.(error); ok {
			errs = append(errs, err)
		}
	}
	tv.errs.Store(&errs)
	return errs
}
