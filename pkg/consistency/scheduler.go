package consistency

import (
	"container/heap"
	"context"
	"sync"
)

// =============================================================================
// Recompute Scheduler
// =============================================================================

// Scheduler runs recompute jobs on a bounded worker pool.
//
// Jobs carry the node region they will touch and a priority derived
// from the change's conflict priority. Scheduling rules:
//
//   - Jobs with disjoint regions run in parallel.
//   - Jobs with overlapping regions serialize; the higher-priority job
//     runs first.
//   - Submitting a job cancels any in-flight lower-priority job whose
//     region overlaps: the cancelled job's positions are discarded and
//     the region is re-laid-out by the newcomer.
//
// The queue is bounded; Submit blocks for backpressure when it is full.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	running []*Task
	maxQ    int
	seq     uint64
	closed  bool
	wg      sync.WaitGroup
}

// Task is one scheduled recompute.
type Task struct {
	region   map[string]struct{}
	priority int
	seq      uint64

	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context) error

	done chan struct{}
	err  error
}

// Wait blocks until the task finishes and returns its error.
// A cancelled task returns the engine's cancellation error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// NewScheduler starts a scheduler with the given worker count and queue
// bound. Both default to sensible minimums when non-positive.
func NewScheduler(workers, queueSize int) *Scheduler {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	s := &Scheduler{maxQ: queueSize}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Submit enqueues a recompute over the given region. In-flight jobs of
// strictly lower priority with overlapping regions are cancelled.
// Blocks while the queue is full; returns nil after Close.
func (s *Scheduler) Submit(ctx context.Context, region []string, priority int, run func(ctx context.Context) error) *Task {
	set := make(map[string]struct{}, len(region))
	for _, id := range region {
		set[id] = struct{}{}
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		region:   set,
		priority: priority,
		ctx:      taskCtx,
		cancel:   cancel,
		run:      run,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.closed && s.queue.Len() >= s.maxQ {
		s.cond.Wait()
	}
	if s.closed {
		cancel()
		return nil
	}
	t.seq = s.seq
	s.seq++

	// A higher-priority change targeting an overlapping region cancels
	// the running recompute; its partial positions are never committed.
	for _, r := range s.running {
		if r.priority < t.priority && overlaps(r.region, t.region) {
			r.cancel()
		}
	}

	heap.Push(&s.queue, t)
	s.cond.Broadcast()
	return t
}

// Close drains nothing: queued tasks are cancelled, workers exit after
// their current job.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		t.cancel()
		t.err = context.Canceled
		close(t.done)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// worker pops the highest-priority runnable task and executes it.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var t *Task
		for {
			if s.closed {
				s.mu.Unlock()
				return
			}
			if t = s.popRunnable(); t != nil {
				break
			}
			s.cond.Wait()
		}
		s.running = append(s.running, t)
		s.mu.Unlock()

		err := t.run(t.ctx)

		s.mu.Lock()
		for i, r := range s.running {
			if r == t {
				s.running = append(s.running[:i], s.running[i+1:]...)
				break
			}
		}
		t.err = err
		close(t.done)
		t.cancel()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// popRunnable removes and returns the best queued task whose region is
// disjoint from every running task. Overlapping regions serialize.
// Caller holds the lock. The heap's array order is not priority order,
// so candidates are compared explicitly.
func (s *Scheduler) popRunnable() *Task {
	best := -1
	for i := 0; i < s.queue.Len(); i++ {
		t := s.queue[i]
		runnable := true
		for _, r := range s.running {
			if overlaps(r.region, t.region) {
				runnable = false
				break
			}
		}
		if !runnable {
			continue
		}
		if best == -1 || s.queue.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	return heap.Remove(&s.queue, best).(*Task)
}

// overlaps reports whether two region sets intersect.
func overlaps(a, b map[string]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for id := range a {
		if _, ok := b[id]; ok {
			return true
		}
	}
	return false
}

// =============================================================================
// Priority Heap
// =============================================================================

// taskHeap orders tasks by priority descending, then submission order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
