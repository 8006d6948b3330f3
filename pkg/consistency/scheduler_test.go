package consistency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSchedulerRunsDisjointRegionsInParallel(t *testing.T) {
	s := NewScheduler(2, 16)
	defer s.Close()

	var mu sync.Mutex
	active, peak := 0, 0
	enter := func() {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		active--
		mu.Unlock()
	}

	run := func(ctx context.Context) error {
		enter()
		defer leave()
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	t1 := s.Submit(context.Background(), []string{"a", "b"}, 1, run)
	t2 := s.Submit(context.Background(), []string{"c", "d"}, 1, run)
	if err := t1.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := t2.Wait(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak != 2 {
		t.Errorf("peak concurrency = %d, want 2", peak)
	}
}

func TestSchedulerSerializesOverlappingRegions(t *testing.T) {
	s := NewScheduler(4, 16)
	defer s.Close()

	var mu sync.Mutex
	active, peak := 0, 0

	run := func(ctx context.Context) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	var tasks []*Task
	for i := 0; i < 3; i++ {
		tasks = append(tasks, s.Submit(context.Background(), []string{"shared"}, 1, run))
	}
	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Errorf("overlapping tasks ran concurrently, peak = %d", peak)
	}
}

func TestSchedulerHigherPriorityCancelsRunningOverlap(t *testing.T) {
	s := NewScheduler(2, 16)
	defer s.Close()

	started := make(chan struct{})
	low := s.Submit(context.Background(), []string{"x"}, 1, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	high := s.Submit(context.Background(), []string{"x", "y"}, 5, func(ctx context.Context) error {
		return nil
	})

	if err := low.Wait(); !errors.Is(err, context.Canceled) {
		t.Errorf("low-priority task err = %v, want context.Canceled", err)
	}
	if err := high.Wait(); err != nil {
		t.Errorf("high-priority task err = %v", err)
	}
}

func TestSchedulerEqualPriorityDoesNotCancel(t *testing.T) {
	s := NewScheduler(2, 16)
	defer s.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	first := s.Submit(context.Background(), []string{"x"}, 3, func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	<-started

	second := s.Submit(context.Background(), []string{"x"}, 3, func(ctx context.Context) error {
		return nil
	})
	close(release)

	if err := first.Wait(); err != nil {
		t.Errorf("peer task was cancelled: %v", err)
	}
	if err := second.Wait(); err != nil {
		t.Errorf("second task err = %v", err)
	}
}

func TestSchedulerQueueOrdersByPriority(t *testing.T) {
	s := NewScheduler(1, 16)
	defer s.Close()

	gate := make(chan struct{})
	blocker := s.Submit(context.Background(), []string{"gate"}, 10, func(ctx context.Context) error {
		<-gate
		return nil
	})

	var mu sync.Mutex
	var order []int
	record := func(p int) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			return nil
		}
	}

	// Queued behind the blocker on a single worker; they share a region
	// so they must also serialize among themselves.
	t1 := s.Submit(context.Background(), []string{"r"}, 1, record(1))
	t2 := s.Submit(context.Background(), []string{"r"}, 5, record(5))
	t3 := s.Submit(context.Background(), []string{"r"}, 3, record(3))
	close(gate)

	blocker.Wait()
	t1.Wait()
	t2.Wait()
	t3.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []int{5, 3, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerCloseCancelsQueued(t *testing.T) {
	s := NewScheduler(1, 16)

	gate := make(chan struct{})
	blocker := s.Submit(context.Background(), []string{"a"}, 1, func(ctx context.Context) error {
		<-gate
		return nil
	})
	queued := s.Submit(context.Background(), []string{"a"}, 1, func(ctx context.Context) error {
		return nil
	})

	close(gate)
	blocker.Wait()
	s.Close()

	if err := queued.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("queued task err = %v, want nil or context.Canceled", err)
	}

	if task := s.Submit(context.Background(), []string{"b"}, 1, func(ctx context.Context) error { return nil }); task != nil {
		t.Error("Submit after Close should return nil")
	}
}
