package scheduler

// queue is an ordered backlog of frames for one named destination within a
// lane. A queue lives in the lane's active rotation while it has frames,
// moves to the blocked rotation when the carrier throttles its head frame,
// and is dropped from the lane the instant it drains.
type queue struct {
	name   string
	frames []*Frame
}

func (q *queue) empty() bool {
	return len(q.frames) == 0
}

// ring is an index-based round-robin rotation over queues. pos marks the
// queue to despool next.
type ring struct {
	queues []*queue
	pos    int
}

func (r *ring) empty() bool {
	return len(r.queues) == 0
}

func (r *ring) current() *queue {
	return r.queues[r.pos]
}

// add appends a queue to the rotation; it is visited after the queues
// already present wrap around.
func (r *ring) add(q *queue) {
	r.queues = append(r.queues, q)
}

// advance moves the rotation pointer to the next queue.
func (r *ring) advance() {
	if len(r.queues) == 0 {
		r.pos = 0
		return
	}
	r.pos = (r.pos + 1) % len(r.queues)
}

// removeCurrent drops the queue at the rotation pointer and returns it.
// The pointer lands on the next queue in rotation order.
func (r *ring) removeCurrent() *queue {
	q := r.queues[r.pos]
	r.queues = append(r.queues[:r.pos], r.queues[r.pos+1:]...)
	if r.pos >= len(r.queues) {
		r.pos = 0
	}
	return q
}

// drainInto moves every queue into dst in rotation order, starting from
// the pointer, and empties the ring.
func (r *ring) drainInto(dst *ring) {
	n := len(r.queues)
	for i := 0; i < n; i++ {
		dst.add(r.queues[(r.pos+i)%n])
	}
	r.queues = r.queues[:0]
	r.pos = 0
}
