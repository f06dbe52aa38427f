package heap

// markQueue is the FIFO of values waiting to be traced. It survives across
// collector steps. The zero value is an empty queue.
type markQueue struct {
	buf  []Value
	head int
}

// Push a value onto the queue.
func (q *markQueue) Push(v Value) {
	q.buf = append(q.buf, v)
}

// Pop a value off of the queue. It must not be empty.
func (q *markQueue) Pop() Value {
	if gcAsserts && q.head >= len(q.buf) {
		panic("gc: pop from empty mark queue")
	}
	v := q.buf[q.head]
	q.buf[q.head] = Value{}
	q.head++
	// Reuse the buffer once it is drained, or reclaim the consumed prefix
	// when it dominates.
	if q.head == len(q.buf) {
		q.buf = q.buf[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.buf) {
		n := copy(q.buf, q.buf[q.head:])
		clear(q.buf[n:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return v
}

// Empty checks if the queue is empty.
func (q *markQueue) Empty() bool {
	return q.head == len(q.buf)
}

// Len returns the number of queued values.
func (q *markQueue) Len() int {
	return len(q.buf) - q.head
}

// Reset drops all queued values.
func (q *markQueue) Reset() {
	clear(q.buf)
	q.buf = q.buf[:0]
	q.head = 0
}
