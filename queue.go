package hostexec

// A fifoqueue is a growable first-in-first-out queue.
//
// Like the rest of the scheduler state, it is only ever touched from
// the single thread of control, so there is no locking.
// The head and tail slices share one backing array: head occupies the
// end of the array and tail reuses the space vacated by pops at the
// front, so that steady-state operation does not allocate.
type fifoqueue[E any] struct {
	head, tail []E
}

func (q *fifoqueue[E]) Empty() bool {
	return len(q.head) == 0
}

func (q *fifoqueue[E]) Push(v E) {
	if len(q.tail) == 0 && len(q.head) < cap(q.head) {
		q.head = append(q.head, v)
		return
	}

	if n := len(q.head) + len(q.tail); n == cap(q.tail) {
		var zero E

		s := append(q.tail[:n], zero)[:0]
		s = append(s, q.head...)
		s = append(s, q.tail...)
		s = append(s, v)

		q.head, q.tail = s, s[:0]

		return
	}

	q.tail = append(q.tail, v)
}

func (q *fifoqueue[E]) Pop() (v E) {
	q.head[0], v = v, q.head[0]

	if len(q.head) > 1 {
		q.head = q.head[1:]
	} else {
		q.head, q.tail = q.tail, q.tail[:0]
	}

	return v
}
