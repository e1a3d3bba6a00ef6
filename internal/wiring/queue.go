package wiring

import "sync"

// task is one unit of scheduled work. run invokes the bound handler and
// returns the function that forwards its output, or nil for no output.
type task func() (emit func(), err error)

// taskQueue is the FIFO feeding a sequential scheduler's goroutine.
//
// It is unbounded; capacity is enforced by the scheduler's ObjectCounter
// before a task reaches the queue. Enqueue is safe from any goroutine while
// exactly one goroutine dequeues.
//
// A buffered signal channel lets the consumer wait without polling.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{} // buffered, size 1
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends t. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.notify()
	return true
}

// TryDequeue removes the front task without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t, true
}

// Wait returns the channel signalled when tasks may be available or the
// queue has been closed.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Drain removes and returns every queued task.
func (q *taskQueue) Drain() []task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.tasks
	q.tasks = make([]task, 0)
	return out
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops further enqueues. Queued tasks remain available to TryDequeue.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notify()
}

// Done reports whether the queue is closed and empty.
func (q *taskQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.tasks) == 0
}

func (q *taskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
