package cognitive

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"
)

// heapItem wraps a Task with its heap-internal sequence number so equal
// priorities dequeue in FIFO order, since container/heap alone is not
// stable across equal keys.
type heapItem struct {
	task *Task
	seq  int64
}

type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*heapItem)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
type ErrQueueFull struct{}

func (ErrQueueFull) Error() string { return "cognitive: queue full" }

// ErrQueueClosed is returned by Enqueue and Dequeue once Close has been
// called.
type ErrQueueClosed struct{}

func (ErrQueueClosed) Error() string { return "cognitive: queue closed" }

// Queue is a bounded, multi-producer/single-consumer priority queue.
// Enqueue never blocks: it fails ErrQueueFull immediately at capacity.
// Dequeue blocks until a task is available or the queue is closed.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    taskHeap
	capacity int
	nextSeq  int64
	closed   bool
}

// NewQueue constructs a bounded queue with the given capacity.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds task to the queue, assigning it an operation id. Fails
// ErrQueueFull if the queue is at capacity, ErrQueueClosed if closed.
func (q *Queue) Enqueue(task *Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed{}
	}
	if len(q.items) >= q.capacity {
		return "", ErrQueueFull{}
	}

	if task.opID == "" {
		task.opID = uuid.NewString()
	}
	heap.Push(&q.items, &heapItem{task: task, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal()
	return task.opID, nil
}

// Dequeue blocks until a task is available, returning ok=false once the
// queue is closed and drained.
func (q *Queue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*heapItem)
	return item.task, true
}

// Close marks the queue closed; pending Dequeue calls unblock and future
// Enqueue calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Depth reports the current number of queued (not yet dequeued) tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
